package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/labwire/orderdesk"
	"github.com/labwire/orderdesk/internal/logging"
	"github.com/labwire/orderdesk/pkg/agent"
	"github.com/labwire/orderdesk/pkg/domain"
	"github.com/labwire/orderdesk/pkg/normalizer"
	"github.com/labwire/orderdesk/pkg/ports"
	"github.com/labwire/orderdesk/pkg/rules"
	"github.com/labwire/orderdesk/pkg/runner"
	"github.com/labwire/orderdesk/pkg/workflow"
)

const workflowURI = "orderdesk://workflow"

// Assistant is the part of the conversation core exposed over MCP.
// *orderdesk.Assistant implements it.
type Assistant interface {
	RunTurn(ctx context.Context, sessionID, ownerID, message string) agent.Reply
	Normalize(ctx context.Context, raw, category string) (normalizer.Resolution, error)
	ValidateBridge(positions string) rules.BridgeReport
}

var _ Assistant = (*orderdesk.Assistant)(nil)

// SearchResponse wraps catalog results so the tool output is an object.
type SearchResponse struct {
	Query    string           `json:"query" jsonschema_description:"The query that was sent to the catalog"`
	Products []domain.Product `json:"products" jsonschema_description:"Matching products, best first"`
}

type positionsArgs struct {
	Positions string `json:"positions"`
}

type normalizeArgs struct {
	Text     string `json:"text"`
	Category string `json:"category"`
}

type searchArgs struct {
	Query    string  `json:"query"`
	Category string  `json:"category"`
	Limit    float64 `json:"limit"`
}

type chatArgs struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// Server exposes the deterministic order tools and the assistant as an MCP server.
type Server struct {
	assistant Assistant
	catalog   ports.CatalogSearcher
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new MCP Server instance. catalog may be nil, in which
// case search_products is not offered.
func NewServer(assistant Assistant, catalog ports.CatalogSearcher, opts ...Option) *Server {
	s := &Server{
		assistant: assistant,
		catalog:   catalog,
		logger:    logging.NewNop(),
		mcpServer: server.NewMCPServer("orderdesk-mcp", strings.TrimSpace(orderdesk.Version),
			server.WithToolCapabilities(false),
			server.WithResourceCapabilities(false, false),
		),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on the given port using SSE and stops when ctx ends.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("mcp.listening", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// HandleMessage processes one raw JSON-RPC message.
func (s *Server) HandleMessage(ctx context.Context, raw json.RawMessage) mcp.JSONRPCMessage {
	return s.mcpServer.HandleMessage(ctx, raw)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("validate_bridge",
		mcp.WithDescription("Check FDI tooth positions against the bridge rules: valid teeth, one arch, contiguous, span within bounds."),
		mcp.WithString("positions", mcp.Required(), mcp.Description("FDI positions, e.g. \"14, 15, 16\" or \"14-16\"")),
		mcp.WithOutputSchema[rules.BridgeReport](),
	), mcp.NewStructuredToolHandler(s.handleValidateBridge))

	s.mcpServer.AddTool(mcp.NewTool("validate_teeth",
		mcp.WithDescription("Validate FDI tooth numbers and describe each tooth."),
		mcp.WithString("positions", mcp.Required(), mcp.Description("FDI positions, comma or space separated")),
		mcp.WithOutputSchema[rules.TeethReport](),
	), mcp.NewStructuredToolHandler(s.handleValidateTeeth))

	s.mcpServer.AddTool(mcp.NewTool("normalize_material",
		mcp.WithDescription("Resolve a free-text material name to the canonical subtype of a material category."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Material as written by the user")),
		mcp.WithString("category", mcp.Required(), mcp.Description("Material category: pfm, metal-free or full-cast")),
		mcp.WithOutputSchema[normalizer.Resolution](),
	), mcp.NewStructuredToolHandler(s.handleNormalize))

	if s.catalog != nil {
		s.mcpServer.AddTool(mcp.NewTool("search_products",
			mcp.WithDescription("Search the product catalog by similarity."),
			mcp.WithString("query", mcp.Required(), mcp.Description("Free-text description of the restoration")),
			mcp.WithString("category", mcp.Description("Optional material category filter")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of products (default 5)")),
			mcp.WithOutputSchema[SearchResponse](),
		), mcp.NewStructuredToolHandler(s.handleSearch))
	}

	s.mcpServer.AddTool(mcp.NewTool("chat",
		mcp.WithDescription("Send one message to the order assistant. Omit session_id to start a new order."),
		mcp.WithString("message", mcp.Required(), mcp.Description("User message")),
		mcp.WithString("session_id", mcp.Description("Session to continue")),
		mcp.WithOutputSchema[agent.Reply](),
	), mcp.NewStructuredToolHandler(s.handleChat))
}

func (s *Server) handleValidateBridge(_ context.Context, _ mcp.CallToolRequest, args positionsArgs) (rules.BridgeReport, error) {
	return s.assistant.ValidateBridge(args.Positions), nil
}

func (s *Server) handleValidateTeeth(_ context.Context, _ mcp.CallToolRequest, args positionsArgs) (rules.TeethReport, error) {
	return rules.ValidateTeeth(args.Positions), nil
}

func (s *Server) handleNormalize(ctx context.Context, _ mcp.CallToolRequest, args normalizeArgs) (normalizer.Resolution, error) {
	res, err := s.assistant.Normalize(ctx, args.Text, args.Category)
	if err != nil {
		return normalizer.Resolution{}, fmt.Errorf("normalize failed: %w", err)
	}
	return res, nil
}

func (s *Server) handleSearch(ctx context.Context, _ mcp.CallToolRequest, args searchArgs) (SearchResponse, error) {
	if strings.TrimSpace(args.Query) == "" {
		return SearchResponse{}, errors.New("query is required")
	}
	q := ports.CatalogQuery{Text: args.Query, Category: args.Category, Limit: int(args.Limit)}
	products, err := s.catalog.Search(ctx, q)
	if err != nil {
		s.logger.Warn("mcp.search_failed", "err", err)
		return SearchResponse{}, fmt.Errorf("search failed: %w", err)
	}
	if q.Limit > 0 && len(products) > q.Limit {
		products = products[:q.Limit]
	}
	if products == nil {
		products = []domain.Product{}
	}
	return SearchResponse{Query: q.Text, Products: products}, nil
}

func (s *Server) handleChat(ctx context.Context, _ mcp.CallToolRequest, args chatArgs) (agent.Reply, error) {
	clean, err := runner.SanitizeInput(args.Message)
	if err != nil {
		s.logger.Warn("mcp.chat_input_rejected", "err", err, "size", len(args.Message))
		return agent.Reply{}, fmt.Errorf("input rejected: %w", err)
	}
	if strings.TrimSpace(clean) == "" {
		return agent.Reply{}, errors.New("message is required")
	}
	return s.assistant.RunTurn(ctx, args.SessionID, "", clean), nil
}

type stepView struct {
	Step        workflow.Step `json:"step"`
	Field       domain.Field  `json:"field,omitempty"`
	Kind        workflow.Kind `json:"kind"`
	Prompt      string        `json:"prompt"`
	Conditional bool          `json:"conditional,omitempty"`
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(workflowURI, "Order Workflow",
		mcp.WithResourceDescription("The ordered steps of an order conversation"),
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		var views []stepView
		for _, info := range workflow.Steps() {
			views = append(views, stepView{
				Step:        info.Step,
				Field:       info.Field,
				Kind:        info.Kind,
				Prompt:      info.Prompt,
				Conditional: info.Conditional,
			})
		}
		jsonBytes, err := json.Marshal(views)
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      workflowURI,
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}
