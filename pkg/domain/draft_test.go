package domain_test

import (
	"testing"
	"time"

	"github.com/labwire/orderdesk/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completeDraft() domain.OrderDraft {
	return domain.OrderDraft{
		RestorationType:  "crown",
		ToothPositions:   []string{"11"},
		PositionType:     "anterior",
		MaterialCategory: "metal-free",
		MaterialSubtype:  "ips-emax",
		ProductCode:      "MF-EMAX-01",
		ProductName:      "IPS e.max Press Crown",
		Shade:            "A2",
		PatientName:      "Chan Tai Man",
	}
}

func TestOrderDraft_Missing(t *testing.T) {
	d := domain.OrderDraft{RestorationType: "bridge", IsBridge: true, ToothPositions: []string{"14", "15", "16"}}

	assert.Equal(t, []domain.Field{
		domain.FieldBridge,
		domain.FieldMaterialCategory,
		domain.FieldMaterialSubtype,
		domain.FieldProduct,
		domain.FieldShade,
		domain.FieldPatientName,
	}, d.Missing())

	assert.Empty(t, completeDraft().Missing())
}

func TestOrderDraft_Validate(t *testing.T) {
	d := completeDraft()
	assert.NoError(t, d.Validate())

	d.ProductCode = ""
	assert.Error(t, d.Validate(), "patient name without product must be rejected")

	d = completeDraft()
	d.PatientName = ""
	d.Confirmed = true
	assert.Error(t, d.Validate())
}

func TestOrderDraft_CloneIsolation(t *testing.T) {
	d := completeDraft()
	c := d.Clone()
	c.ToothPositions[0] = "21"
	assert.Equal(t, "11", d.ToothPositions[0])
}

func TestNewOrder(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	s := domain.NewSession("sess-abc123", "dr-lee", at)

	_, err := domain.NewOrder(s, completeDraft(), at)
	assert.Error(t, err, "unconfirmed draft must not become an order")

	d := completeDraft()
	d.Confirmed = true
	order, err := domain.NewOrder(s, d, at)
	require.NoError(t, err)
	assert.Equal(t, "ORD-20260304-050607-123", order.Number)
	assert.Equal(t, "metal-free (ips-emax)", order.Material)
	assert.Equal(t, domain.OrderConfirmed, order.Status)
	assert.Equal(t, "dr-lee", order.OwnerID)
}

func TestOrderNumber_ShortSessionID(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, "ORD-20260102-030405-001", domain.OrderNumber("x", at))
}

func TestSession_TerminalIsFinal(t *testing.T) {
	now := time.Now()
	s := domain.NewSession("s1", "u1", now)
	require.NoError(t, s.Transition(domain.SessionCompleted, now))
	require.NotNil(t, s.EndedAt)

	err := s.Transition(domain.SessionActive, now)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, domain.SessionCompleted, s.Status)
}

func TestParseField(t *testing.T) {
	f, ok := domain.ParseField("material")
	assert.True(t, ok)
	assert.Equal(t, domain.FieldMaterialCategory, f)

	_, ok = domain.ParseField("favourite_colour")
	assert.False(t, ok)
}
