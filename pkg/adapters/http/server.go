package http

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/labwire/orderdesk"
	"github.com/labwire/orderdesk/internal/logging"
	"github.com/labwire/orderdesk/pkg/agent"
	"github.com/labwire/orderdesk/pkg/domain"
	"github.com/labwire/orderdesk/pkg/normalizer"
	"github.com/labwire/orderdesk/pkg/runner"
	"github.com/labwire/orderdesk/pkg/session"
	"github.com/labwire/orderdesk/pkg/workflow"
)

//go:embed openapi.yaml
var rawSpec []byte

// UserHeader carries the caller identity set by the gateway in front of the API.
const UserHeader = "X-User-ID"

// Service is the conversation core as seen by the HTTP API.
// *orderdesk.Assistant implements it.
type Service interface {
	RunTurn(ctx context.Context, sessionID, ownerID, message string) agent.Reply
	Sessions(ctx context.Context, ownerID string) ([]domain.Session, error)
	Session(ctx context.Context, sessionID, ownerID string) (*session.Conversation, error)
	Transcript(ctx context.Context, sessionID, ownerID string) ([]domain.Message, error)
	DeleteSession(ctx context.Context, sessionID, ownerID string) error
	Order(ctx context.Context, number, ownerID string) (*domain.Order, error)
	Orders(ctx context.Context, ownerID string, limit int) ([]domain.Order, error)
	CacheStats() normalizer.Stats
	ClearCache()
}

var _ Service = (*orderdesk.Assistant)(nil)

// Server serves the orderdesk HTTP API.
type Server struct {
	svc      Service
	machine  *workflow.Machine
	logger   *slog.Logger
	gatherer prometheus.Gatherer
	spec     *openapi3.T
	router   routers.Router
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGatherer sets the registry exposed on /metrics.
// Defaults to prometheus.DefaultGatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// Spec parses and validates the embedded OpenAPI document.
func Spec() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(rawSpec)
	if err != nil {
		return nil, fmt.Errorf("load openapi spec: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid openapi spec: %w", err)
	}
	return doc, nil
}

// NewHandler creates the HTTP handler for the service.
// Requests to documented routes are validated against the embedded OpenAPI
// document before they reach a handler.
func NewHandler(svc Service, opts ...Option) (http.Handler, error) {
	doc, err := Spec()
	if err != nil {
		return nil, err
	}
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build openapi router: %w", err)
	}

	s := &Server{
		svc:      svc,
		machine:  workflow.New(),
		logger:   logging.NewNop(),
		gatherer: prometheus.DefaultGatherer,
		spec:     doc,
		router:   router,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(rawSpec)
	})
	r.Get("/swagger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(swaggerHTML))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(s.validate)
		r.Post("/chat", s.Chat)
		r.Get("/sessions", s.ListSessions)
		r.Get("/sessions/{id}", s.GetSession)
		r.Delete("/sessions/{id}", s.DeleteSession)
		r.Get("/sessions/{id}/transcript", s.GetTranscript)
		r.Get("/orders", s.ListOrders)
		r.Get("/orders/{number}", s.GetOrder)
		r.Get("/debug/cache-stats", s.GetCacheStats)
		r.Post("/debug/clear-cache", s.ClearCache)
		r.Get("/health", s.GetHealth)
		r.Get("/info", s.GetInfo)
	})

	return enableCORS(r), nil
}

// validate rejects requests that do not match the OpenAPI document.
func (s *Server) validate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, params, err := s.router.FindRoute(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		input := &openapi3filter.RequestValidationInput{
			Request:    r,
			PathParams: params,
			Route:      route,
		}
		if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
			s.logger.Warn("http.request_invalid", "path", r.URL.Path, "err", err)
			writeError(w, http.StatusBadRequest, requestErrorMessage(err))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestErrorMessage(err error) string {
	var re *openapi3filter.RequestError
	if errors.As(err, &re) {
		if re.Parameter != nil {
			return fmt.Sprintf("invalid parameter %q: %s", re.Parameter.Name, re.Reason)
		}
		if re.RequestBody != nil {
			if re.Err != nil {
				return "invalid request body: " + firstLine(re.Err.Error())
			}
			return "invalid request body: " + re.Reason
		}
	}
	return firstLine(err.Error())
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+UserHeader)
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

const swaggerHTML = `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>orderdesk API Documentation</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui.css" />
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui-bundle.js" crossorigin></script>
<script>
    window.onload = () => {
    window.ui = SwaggerUIBundle({
        url: '/openapi.yaml',
        dom_id: '#swagger-ui',
    });
    };
</script>
</body>
</html>
`

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// Chat handles the POST /chat request.
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	var body chatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		s.logger.Warn("http.chat_invalid_body", "err", err)
		return
	}

	// Sanitize Input (Global Policy)
	msg, err := runner.SanitizeInput(body.Message)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid input: %v", err))
		s.logger.Warn("http.chat_input_rejected", "err", err, "size", len(body.Message))
		return
	}
	if strings.TrimSpace(msg) == "" {
		writeError(w, http.StatusBadRequest, "message is empty")
		return
	}

	reply := s.svc.RunTurn(r.Context(), body.SessionID, caller(r), msg)
	writeJSON(w, http.StatusOK, reply)
}

// ListSessions handles the GET /sessions request.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.svc.Sessions(r.Context(), caller(r))
	if err != nil {
		s.fail(w, "list sessions", err)
		return
	}
	if sessions == nil {
		sessions = []domain.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

type sessionDetail struct {
	Session domain.Session    `json:"session"`
	Step    workflow.Step     `json:"step"`
	Draft   domain.OrderDraft `json:"draft"`
	Order   *domain.Order     `json:"order,omitempty"`
}

// GetSession handles the GET /sessions/{id} request.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	conv, err := s.svc.Session(r.Context(), chi.URLParam(r, "id"), caller(r))
	if err != nil {
		s.fail(w, "get session", err)
		return
	}
	writeJSON(w, http.StatusOK, sessionDetail{
		Session: conv.Session,
		Step:    s.machine.Step(conv.Draft),
		Draft:   conv.Draft,
		Order:   conv.Order,
	})
}

// DeleteSession handles the DELETE /sessions/{id} request.
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.DeleteSession(r.Context(), id, caller(r)); err != nil {
		s.fail(w, "delete session", err)
		return
	}
	s.logger.Info("http.session_deleted", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// GetTranscript handles the GET /sessions/{id}/transcript request.
func (s *Server) GetTranscript(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.svc.Transcript(r.Context(), chi.URLParam(r, "id"), caller(r))
	if err != nil {
		s.fail(w, "get transcript", err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

const defaultOrderLimit = 10

type orderList struct {
	Count  int            `json:"count"`
	Orders []domain.Order `json:"orders"`
}

// ListOrders handles the GET /orders request. Callers only see their own
// orders.
func (s *Server) ListOrders(w http.ResponseWriter, r *http.Request) {
	limit := defaultOrderLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid parameter \"limit\"")
			return
		}
		limit = n
	}
	orders, err := s.svc.Orders(r.Context(), caller(r), limit)
	if err != nil {
		s.fail(w, "list orders", err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, orderList{Count: len(orders), Orders: orders})
}

// GetOrder handles the GET /orders/{number} request.
func (s *Server) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.svc.Order(r.Context(), chi.URLParam(r, "number"), caller(r))
	if err != nil {
		s.fail(w, "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// GetCacheStats handles the GET /debug/cache-stats request.
func (s *Server) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.CacheStats())
}

// ClearCache handles the POST /debug/clear-cache request.
func (s *Server) ClearCache(w http.ResponseWriter, r *http.Request) {
	s.svc.ClearCache()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	apiVersion := "unknown"
	if s.spec.Info != nil {
		apiVersion = s.spec.Info.Version
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"app":         "orderdesk-http",
		"version":     strings.TrimSpace(orderdesk.Version),
		"api_version": apiVersion,
	})
}

// fail maps domain errors to status codes.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotOwner):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("http."+strings.ReplaceAll(op, " ", "_")+"_failed", "err", err)
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

func caller(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(UserHeader))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
