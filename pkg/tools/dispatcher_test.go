package tools_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labwire/orderdesk/internal/retry"
	"github.com/labwire/orderdesk/internal/testutils"
	"github.com/labwire/orderdesk/pkg/domain"
	"github.com/labwire/orderdesk/pkg/normalizer"
	"github.com/labwire/orderdesk/pkg/ports"
	"github.com/labwire/orderdesk/pkg/rules"
	"github.com/labwire/orderdesk/pkg/tools"
	"github.com/labwire/orderdesk/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct {
	products []domain.Product
	err      error
	calls    atomic.Int32
	last     ports.CatalogQuery
}

func (f *fakeCatalog) Search(_ context.Context, q ports.CatalogQuery) ([]domain.Product, error) {
	f.calls.Add(1)
	f.last = q
	return f.products, f.err
}

var threeProducts = []domain.Product{
	{Code: "PFM-NP-01", Name: "Standard NP PFM"},
	{Code: "PFM-NP-02", Name: "Premium NP PFM"},
	{Code: "PFM-NP-03", Name: "Economy NP PFM"},
}

func newDispatcher(catalog ports.CatalogSearcher, opts ...tools.Option) *tools.Dispatcher {
	r := rules.Default()
	n := normalizer.New(r, normalizer.WithEngine(testutils.NewFakeEngine(testutils.Text(`{"matched": null}`))))
	opts = append([]tools.Option{tools.WithRetry(retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond})}, opts...)
	return tools.NewDispatcher(workflow.New(), r, n, catalog, opts...)
}

func data(t *testing.T, res domain.ToolResult) map[string]any {
	t.Helper()
	m, ok := res.Data.(map[string]any)
	require.True(t, ok, "result data is %T", res.Data)
	return m
}

func exec(t *testing.T, d *tools.Dispatcher, turn *tools.Turn, name, args string) domain.ToolResult {
	t.Helper()
	return d.Execute(context.Background(), name, args, turn)
}

// readyForSearch records a crown on 36 in pfm non-precious.
func readyForSearch(t *testing.T, d *tools.Dispatcher) *tools.Turn {
	t.Helper()
	turn := &tools.Turn{SessionID: "s1", Draft: &domain.OrderDraft{}}
	require.True(t, exec(t, d, turn, tools.ToolRecordRestoration, `{"restoration_type":"crown","tooth_positions":"36"}`).Valid)
	res := exec(t, d, turn, tools.ToolValidateMaterial, `{"material_category":"pfm","material_subtype":"NP"}`)
	require.True(t, res.Valid, res.Message)
	return turn
}

func TestRecordRestoration(t *testing.T) {
	d := newDispatcher(&fakeCatalog{})
	turn := &tools.Turn{Draft: &domain.OrderDraft{}}

	res := exec(t, d, turn, tools.ToolRecordRestoration, `{"restoration_type":"牙冠","tooth_positions":[11, 21]}`)
	require.True(t, res.Valid, res.Message)
	assert.Equal(t, "crown", turn.Draft.RestorationType)
	assert.Equal(t, []string{"11", "21"}, turn.Draft.ToothPositions)
	assert.Equal(t, "anterior", turn.Draft.PositionType)
	assert.Equal(t, string(workflow.StepMaterialCategory), data(t, res)["next_step"])
}

func TestRecordRestoration_InvalidToothLeavesDraft(t *testing.T) {
	d := newDispatcher(&fakeCatalog{})
	turn := &tools.Turn{Draft: &domain.OrderDraft{}}

	res := exec(t, d, turn, tools.ToolRecordRestoration, `{"restoration_type":"crown","tooth_positions":"19"}`)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Message, "19")
	assert.Equal(t, domain.OrderDraft{}, *turn.Draft)
}

func TestRecordRestoration_TypeLocked(t *testing.T) {
	d := newDispatcher(&fakeCatalog{})
	turn := &tools.Turn{Draft: &domain.OrderDraft{RestorationType: "crown", ToothPositions: []string{"11"}}}

	res := exec(t, d, turn, tools.ToolRecordRestoration, `{"restoration_type":"veneer"}`)
	assert.False(t, res.Valid)
	assert.Equal(t, true, data(t, res)["redirect"])
	assert.Contains(t, res.Message, "correct_order")
	assert.Equal(t, "crown", turn.Draft.RestorationType)
}

func TestBridgeFlow(t *testing.T) {
	d := newDispatcher(&fakeCatalog{})
	turn := &tools.Turn{Draft: &domain.OrderDraft{}}

	res := exec(t, d, turn, tools.ToolRecordRestoration, `{"restoration_type":"bridge","tooth_positions":"16 14 15"}`)
	require.True(t, res.Valid, res.Message)
	assert.Equal(t, string(workflow.StepBridgeValidation), data(t, res)["next_step"])

	res = exec(t, d, turn, tools.ToolValidateMaterial, `{"material_category":"pfm"}`)
	assert.False(t, res.Valid)
	assert.Equal(t, string(workflow.StepBridgeValidation), data(t, res)["expected_step"])

	res = exec(t, d, turn, tools.ToolValidateBridge, `{}`)
	require.True(t, res.Valid, res.Message)
	assert.Equal(t, true, data(t, res)["recorded"])
	assert.True(t, turn.Draft.BridgeValidated)
	assert.Equal(t, 3, turn.Draft.BridgeSpan)
	assert.Equal(t, []string{"16", "15", "14"}, turn.Draft.ToothPositions)

	res = exec(t, d, turn, tools.ToolValidateMaterial, `{"material_category":"metal-free","material_subtype":"composite"}`)
	assert.False(t, res.Valid)
	assert.Empty(t, turn.Draft.MaterialCategory)
}

func TestValidateBridge_Discontinuous(t *testing.T) {
	d := newDispatcher(&fakeCatalog{})
	turn := &tools.Turn{Draft: &domain.OrderDraft{}}

	res := exec(t, d, turn, tools.ToolValidateBridge, `{"tooth_positions":"11,13,14"}`)
	assert.False(t, res.Valid)
	rep, ok := res.Data.(rules.BridgeReport)
	require.True(t, ok)
	assert.Equal(t, rules.ErrKindDiscontinuous, rep.ErrorKind)
}

func TestValidateMaterial_NormalizesSubtype(t *testing.T) {
	d := newDispatcher(&fakeCatalog{})
	turn := &tools.Turn{Draft: &domain.OrderDraft{RestorationType: "crown", ToothPositions: []string{"11"}}}

	res := exec(t, d, turn, tools.ToolValidateMaterial, `{"material_category":"全瓷","material_subtype":"IPS e.max"}`)
	require.True(t, res.Valid, res.Message)
	assert.Equal(t, "metal-free", turn.Draft.MaterialCategory)
	assert.Equal(t, "ips-emax", turn.Draft.MaterialSubtype)

	norm := data(t, res)["normalization"].(map[string]any)
	assert.Equal(t, normalizer.StageAlias, norm["stage"])
}

func TestValidateMaterial_CategoryOnlyListsOptions(t *testing.T) {
	d := newDispatcher(&fakeCatalog{})
	turn := &tools.Turn{Draft: &domain.OrderDraft{RestorationType: "crown", ToothPositions: []string{"11"}}}

	res := exec(t, d, turn, tools.ToolValidateMaterial, `{"material_category":"pfm"}`)
	require.True(t, res.Valid)
	assert.Equal(t, "pfm", turn.Draft.MaterialCategory)
	assert.Empty(t, turn.Draft.MaterialSubtype)
	assert.Contains(t, data(t, res)["compatible_subtypes"], "palladium")
}

func TestValidateMaterial_UnresolvedSubtype(t *testing.T) {
	d := newDispatcher(&fakeCatalog{})
	turn := &tools.Turn{Draft: &domain.OrderDraft{RestorationType: "crown", ToothPositions: []string{"11"}}}

	res := exec(t, d, turn, tools.ToolValidateMaterial, `{"material_category":"pfm","material_subtype":"unobtanium"}`)
	assert.False(t, res.Valid)
	assert.Empty(t, turn.Draft.MaterialCategory, "nothing is recorded when the subtype is unknown")
}

func TestPatientNameBeforeMaterialIsRedirected(t *testing.T) {
	d := newDispatcher(&fakeCatalog{})
	turn := &tools.Turn{Draft: &domain.OrderDraft{RestorationType: "crown", ToothPositions: []string{"11"}}}

	res := exec(t, d, turn, tools.ToolStorePatientName, `{"patient_name":"Chan Tai Man"}`)
	assert.False(t, res.Valid)
	assert.Equal(t, true, data(t, res)["redirect"])
	assert.Equal(t, string(workflow.StepMaterialCategory), data(t, res)["expected_step"])
	assert.Empty(t, turn.Draft.PatientName)
}

func TestPatientNameAtSubtypeIsReinterpreted(t *testing.T) {
	d := newDispatcher(&fakeCatalog{})
	turn := &tools.Turn{Draft: &domain.OrderDraft{RestorationType: "crown", ToothPositions: []string{"11"}, MaterialCategory: "pfm"}}

	res := exec(t, d, turn, tools.ToolStorePatientName, `{"patient_name":"Palladium"}`)
	require.True(t, res.Valid, res.Message)
	assert.Equal(t, "palladium", turn.Draft.MaterialSubtype)
	assert.Empty(t, turn.Draft.PatientName)
	assert.Equal(t, string(domain.FieldMaterialSubtype), data(t, res)["reinterpreted_as"])
}

func TestSearchAndSelect(t *testing.T) {
	catalog := &fakeCatalog{products: threeProducts}
	d := newDispatcher(catalog)
	turn := readyForSearch(t, d)

	res := exec(t, d, turn, tools.ToolSearchProducts, `{"notes":"bruxism"}`)
	require.True(t, res.Valid, res.Message)
	assert.Len(t, turn.Draft.Candidates, 3)
	assert.Empty(t, turn.Draft.ProductCode)
	assert.Equal(t, string(workflow.StepProductSelection), data(t, res)["next_step"])
	assert.Contains(t, catalog.last.Text, "bruxism")
	assert.Equal(t, "pfm", catalog.last.Category)

	res = exec(t, d, turn, tools.ToolRecordShade, `{"shade":"A2"}`)
	assert.False(t, res.Valid, "no advance while the choice is open")
	assert.Equal(t, string(workflow.StepProductSelection), data(t, res)["expected_step"])

	turn.UserMessage = "the second one"
	res = exec(t, d, turn, tools.ToolSelectProduct, `{"choice":"the second one"}`)
	require.True(t, res.Valid, res.Message)
	assert.Equal(t, "PFM-NP-02", turn.Draft.ProductCode)
	assert.Equal(t, "Premium NP PFM", turn.Draft.ProductName)
}

func TestSelectProduct_FallsBackToUserMessage(t *testing.T) {
	d := newDispatcher(&fakeCatalog{products: threeProducts})
	turn := readyForSearch(t, d)
	require.True(t, exec(t, d, turn, tools.ToolSearchProducts, `{}`).Valid)

	turn.UserMessage = "第三個"
	res := exec(t, d, turn, tools.ToolSelectProduct, `{"choice":"that one"}`)
	require.True(t, res.Valid, res.Message)
	assert.Equal(t, "PFM-NP-03", turn.Draft.ProductCode)
}

func TestStorePatientNameDuringSelection(t *testing.T) {
	d := newDispatcher(&fakeCatalog{products: threeProducts})
	turn := readyForSearch(t, d)
	require.True(t, exec(t, d, turn, tools.ToolSearchProducts, `{}`).Valid)

	res := exec(t, d, turn, tools.ToolStorePatientName, `{"patient_name":"PFM-NP-01"}`)
	require.True(t, res.Valid, res.Message)
	assert.Equal(t, "PFM-NP-01", turn.Draft.ProductCode)
	assert.Empty(t, turn.Draft.PatientName)
}

func TestSearch_SingleMatchAutoSelects(t *testing.T) {
	d := newDispatcher(&fakeCatalog{products: threeProducts[:1]})
	turn := readyForSearch(t, d)

	res := exec(t, d, turn, tools.ToolSearchProducts, `{}`)
	require.True(t, res.Valid)
	assert.Equal(t, "PFM-NP-01", turn.Draft.ProductCode)
	assert.Equal(t, string(workflow.StepShade), data(t, res)["next_step"])
}

func TestSearch_NoMatch(t *testing.T) {
	d := newDispatcher(&fakeCatalog{})
	turn := readyForSearch(t, d)

	res := exec(t, d, turn, tools.ToolSearchProducts, `{}`)
	assert.False(t, res.Valid)
	assert.Empty(t, turn.Draft.Candidates)
}

func TestSearch_RetriesThenGivesUp(t *testing.T) {
	catalog := &fakeCatalog{err: errors.New("connection refused")}
	d := newDispatcher(catalog)
	turn := readyForSearch(t, d)

	res := exec(t, d, turn, tools.ToolSearchProducts, `{}`)
	assert.False(t, res.Valid)
	assert.Equal(t, int32(3), catalog.calls.Load())
}

func TestCompleteOrderFlow(t *testing.T) {
	d := newDispatcher(&fakeCatalog{products: threeProducts[:1]})
	turn := readyForSearch(t, d)
	require.True(t, exec(t, d, turn, tools.ToolSearchProducts, `{}`).Valid)

	res := exec(t, d, turn, tools.ToolRecordShade, `{"shade":"vita a3.5"}`)
	require.True(t, res.Valid, res.Message)
	assert.Equal(t, "A3.5", turn.Draft.Shade)

	res = exec(t, d, turn, tools.ToolStorePatientName, `{"patient_name":"NP"}`)
	assert.False(t, res.Valid, "material abbreviations are not names")

	res = exec(t, d, turn, tools.ToolStorePatientName, `{"patient_name":"Chan Tai Man"}`)
	require.True(t, res.Valid, res.Message)
	assert.Equal(t, string(workflow.StepConfirm), data(t, res)["next_step"])

	turn.UserMessage = "looks right"
	res = exec(t, d, turn, tools.ToolConfirmOrder, `{}`)
	assert.False(t, res.Valid)
	assert.False(t, turn.Draft.Confirmed)

	turn.UserMessage = "confirm"
	res = exec(t, d, turn, tools.ToolConfirmOrder, `{}`)
	require.True(t, res.Valid, res.Message)
	assert.True(t, turn.Draft.Confirmed)
	assert.NoError(t, turn.Draft.Validate())

	res = exec(t, d, turn, tools.ToolCorrectOrder, `{"field":"shade"}`)
	assert.False(t, res.Valid, "finalized orders cannot be corrected")
}

func TestConfirmOrder_Incomplete(t *testing.T) {
	d := newDispatcher(&fakeCatalog{})
	turn := &tools.Turn{UserMessage: "confirm", Draft: &domain.OrderDraft{RestorationType: "crown"}}

	res := exec(t, d, turn, tools.ToolConfirmOrder, `{}`)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Message, "tooth_positions")
}

func TestCorrectOrder_ClearsDependents(t *testing.T) {
	d := newDispatcher(&fakeCatalog{products: threeProducts[:1]})
	turn := readyForSearch(t, d)
	require.True(t, exec(t, d, turn, tools.ToolSearchProducts, `{}`).Valid)

	res := exec(t, d, turn, tools.ToolCorrectOrder, `{"field":"material"}`)
	require.True(t, res.Valid, res.Message)
	assert.Empty(t, turn.Draft.MaterialCategory)
	assert.Empty(t, turn.Draft.MaterialSubtype)
	assert.Empty(t, turn.Draft.ProductCode)
	assert.Equal(t, string(workflow.StepMaterialCategory), data(t, res)["next_step"])
}

func TestExecute_Failures(t *testing.T) {
	d := newDispatcher(&fakeCatalog{})
	turn := &tools.Turn{Draft: &domain.OrderDraft{}}

	res := exec(t, d, turn, "launch_rocket", `{}`)
	assert.False(t, res.Valid)

	res = exec(t, d, turn, tools.ToolRecordRestoration, `{not json`)
	assert.False(t, res.Valid)

	d.Registry().Register(tools.Tool{
		Spec: domain.ToolSpec{Name: "explode"},
		Handler: func(context.Context, *tools.Turn, map[string]any) domain.ToolResult {
			panic("boom")
		},
	})
	res = exec(t, d, turn, "explode", `{}`)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Message, "explode")
}

func TestExecute_Hooks(t *testing.T) {
	var calls, returns int
	hooks := domain.LifecycleHooks{
		OnToolCall:   func(context.Context, *domain.ToolEvent) { calls++ },
		OnToolReturn: func(_ context.Context, e *domain.ToolEvent) { returns++; assert.NotNil(t, e.Output) },
	}
	d := newDispatcher(&fakeCatalog{}, tools.WithHooks(hooks))
	exec(t, d, &tools.Turn{Draft: &domain.OrderDraft{}}, tools.ToolRecordRestoration, `{"restoration_type":"crown"}`)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, returns)
}

func TestSpecs_PerStep(t *testing.T) {
	d := newDispatcher(&fakeCatalog{})
	names := func(step workflow.Step) []string {
		var out []string
		for _, s := range d.Specs(step) {
			out = append(out, s.Name)
		}
		return out
	}

	assert.Equal(t, []string{tools.ToolRecordRestoration, tools.ToolStorePatientName, tools.ToolCorrectOrder}, names(workflow.StepRestorationType))
	assert.Contains(t, names(workflow.StepProductSelection), tools.ToolSelectProduct)
	assert.NotContains(t, names(workflow.StepShade), tools.ToolSearchProducts)
	assert.Empty(t, names(workflow.StepDone))
}

func TestParseShade(t *testing.T) {
	s, ok := tools.ParseShade("shade a3.5 please")
	assert.True(t, ok)
	assert.Equal(t, "A3.5", s)

	_, ok = tools.ParseShade("D1")
	assert.False(t, ok)
}

func TestBuildQuery(t *testing.T) {
	q := tools.BuildQuery(domain.OrderDraft{
		RestorationType: "bridge", ToothPositions: []string{"14", "15", "16"}, IsBridge: true, BridgeSpan: 3,
		MaterialCategory: "metal-free", MaterialSubtype: "fmz",
	}, "high aesthetics")

	for _, want := range []string{"牙橋", "全瓷", "氧化鋯", "Upper Right (右上) First Premolar", "後牙", "3-unit bridge", "high aesthetics"} {
		assert.Contains(t, q, want)
	}
}
