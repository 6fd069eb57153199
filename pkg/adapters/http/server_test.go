package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labwire/orderdesk"
	"github.com/labwire/orderdesk/internal/testutils"
	"github.com/labwire/orderdesk/pkg/adapters/memory"
	"github.com/labwire/orderdesk/pkg/domain"
	"github.com/labwire/orderdesk/pkg/ports"
	"github.com/labwire/orderdesk/pkg/tools"
)

type oneProduct struct{}

func (oneProduct) Search(context.Context, ports.CatalogQuery) ([]domain.Product, error) {
	return []domain.Product{{Code: "PFM-NP-01", Name: "Standard NP PFM Crown"}}, nil
}

type fixture struct {
	engine  *testutils.FakeEngine
	handler http.Handler
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	engine := testutils.NewFakeEngine()
	a, err := orderdesk.New(engine, oneProduct{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	h, err := NewHandler(a, opts...)
	require.NoError(t, err)
	return &fixture{engine: engine, handler: h}
}

func (f *fixture) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestSpec_IsValid(t *testing.T) {
	doc, err := Spec()
	require.NoError(t, err)
	assert.NotNil(t, doc.Paths.Find("/chat"))
	assert.NotNil(t, doc.Paths.Find("/sessions/{id}/transcript"))
}

func TestHealthAndInfo(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = f.do(t, "GET", "/info", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	info := decode[map[string]string](t, w)
	assert.Equal(t, orderdesk.Version, info["version"])
	assert.Equal(t, "1.3.0", info["api_version"])
}

func TestOpenAPIDocument(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, "GET", "/openapi.yaml", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/sessions/{id}/transcript")
}

func TestChat_SessionLifecycle(t *testing.T) {
	f := newFixture(t)
	f.engine.Push(
		testutils.Call(tools.ToolRecordRestoration, map[string]any{"restoration_type": "crown", "tooth_positions": "36"}),
		testutils.Text("Which material would you like?"),
	)

	w := f.do(t, "POST", "/chat", "dr-lee", map[string]string{"message": "I need a crown on 36"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	reply := decode[map[string]any](t, w)
	assert.Equal(t, "Which material would you like?", reply["reply"])
	assert.Equal(t, "material_category", reply["step"])
	id, _ := reply["session_id"].(string)
	require.NotEmpty(t, id)

	w = f.do(t, "GET", "/sessions", "dr-lee", nil)
	require.Equal(t, http.StatusOK, w.Code)
	sessions := decode[[]domain.Session](t, w)
	require.Len(t, sessions, 1)
	assert.Equal(t, id, sessions[0].ID)

	w = f.do(t, "GET", "/sessions/"+id, "dr-lee", nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[sessionDetail](t, w)
	assert.Equal(t, "crown", detail.Draft.RestorationType)
	assert.Equal(t, "material_category", string(detail.Step))

	w = f.do(t, "GET", "/sessions/"+id+"/transcript", "dr-lee", nil)
	require.Equal(t, http.StatusOK, w.Code)
	msgs := decode[[]domain.Message](t, w)
	require.NotEmpty(t, msgs)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, "I need a crown on 36", msgs[0].Content)

	// Another caller cannot see or delete it.
	w = f.do(t, "GET", "/sessions/"+id, "dr-chan", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = f.do(t, "DELETE", "/sessions/"+id, "dr-chan", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = f.do(t, "GET", "/sessions", "dr-chan", nil)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = f.do(t, "DELETE", "/sessions/"+id, "dr-lee", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = f.do(t, "GET", "/sessions/"+id, "dr-lee", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChat_ContinuesSession(t *testing.T) {
	f := newFixture(t)
	f.engine.Push(testutils.Text("hello"), testutils.Text("again"))

	w := f.do(t, "POST", "/chat", "", map[string]string{"message": "hi"})
	require.Equal(t, http.StatusOK, w.Code)
	id := decode[map[string]any](t, w)["session_id"].(string)

	w = f.do(t, "POST", "/chat", "", map[string]string{"session_id": id, "message": "still there?"})
	require.Equal(t, http.StatusOK, w.Code)
	reply := decode[map[string]any](t, w)
	assert.Equal(t, id, reply["session_id"])
	assert.Equal(t, "again", reply["reply"])
}

func TestChat_RejectsInvalidRequests(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body any
		want string
	}{
		{"missing message", map[string]string{"session_id": "s1"}, "request body"},
		{"empty message", map[string]string{"message": ""}, "request body"},
		{"unknown field", map[string]string{"message": "hi", "mode": "x"}, "request body"},
		{"not json", "{", "request body"},
		{"blank message", map[string]string{"message": "   "}, "empty"},
		{"too large", map[string]string{"message": strings.Repeat("a", 5000)}, "maximum allowed size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, "POST", "/chat", "", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
		})
	}
	assert.Zero(t, f.engine.Calls())
}

func TestGetOrder(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "GET", "/orders/ORD-20261019-120000-abc", "dr-lee", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, "GET", "/orders/not-an-order", "dr-lee", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid parameter")
}

func TestListOrders(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	base := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	for i, o := range []domain.Order{
		{Number: "ORD-20261019-120000-aaa", OwnerID: "dr-lee", Status: domain.OrderConfirmed, ConfirmedAt: base},
		{Number: "ORD-20261019-130000-bbb", OwnerID: "dr-lee", Status: domain.OrderConfirmed, ConfirmedAt: base.Add(time.Hour)},
		{Number: "ORD-20261019-140000-ccc", OwnerID: "dr-chan", Status: domain.OrderConfirmed, ConfirmedAt: base.Add(2 * time.Hour)},
	} {
		require.NoError(t, store.UpsertOrder(ctx, o), i)
	}

	a, err := orderdesk.New(testutils.NewFakeEngine(), oneProduct{}, orderdesk.WithStore(store))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	h, err := NewHandler(a)
	require.NoError(t, err)
	f := &fixture{handler: h}

	w := f.do(t, "GET", "/orders", "dr-lee", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	list := decode[orderList](t, w)
	assert.Equal(t, 2, list.Count)
	require.Len(t, list.Orders, 2)
	assert.Equal(t, "ORD-20261019-130000-bbb", list.Orders[0].Number)
	for _, o := range list.Orders {
		assert.Equal(t, "dr-lee", o.OwnerID)
	}

	w = f.do(t, "GET", "/orders?limit=1", "dr-lee", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[orderList](t, w).Count)

	w = f.do(t, "GET", "/orders", "dr-chan", nil)
	assert.Equal(t, 1, decode[orderList](t, w).Count)

	w = f.do(t, "GET", "/orders", "dr-wong", nil)
	assert.JSONEq(t, `{"count":0,"orders":[]}`, w.Body.String())

	w = f.do(t, "GET", "/orders", "", nil)
	assert.Equal(t, 3, decode[orderList](t, w).Count)

	w = f.do(t, "GET", "/orders?limit=0", "dr-lee", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid parameter")
}

func TestCacheEndpoints(t *testing.T) {
	f := newFixture(t)
	f.engine.Push(
		testutils.Call(tools.ToolRecordRestoration, map[string]any{"restoration_type": "crown", "tooth_positions": "36"}),
		testutils.Call(tools.ToolValidateMaterial, map[string]any{"material_category": "pfm", "material_subtype": "non precious"}),
		testutils.Text("noted"),
	)
	w := f.do(t, "POST", "/chat", "", map[string]string{"message": "crown 36 pfm non precious"})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, "GET", "/debug/cache-stats", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[map[string]any](t, w)
	assert.NotZero(t, stats["cache_size"])

	w = f.do(t, "POST", "/debug/clear-cache", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, "GET", "/debug/cache-stats", "", nil)
	assert.EqualValues(t, 0, decode[map[string]any](t, w)["cache_size"])
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "orderdesk_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	f := newFixture(t, WithGatherer(reg))
	w := f.do(t, "GET", "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "orderdesk_test_total 1")
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, "OPTIONS", "/chat", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), UserHeader)
}
