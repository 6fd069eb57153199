// Package openai implements ports.ReasoningEngine on the OpenAI chat
// completions API, including Azure OpenAI deployments.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labwire/orderdesk/internal/logging"
	"github.com/labwire/orderdesk/internal/retry"
	"github.com/labwire/orderdesk/pkg/domain"
	"github.com/labwire/orderdesk/pkg/ports"
	backend "github.com/sashabaranov/go-openai"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gpt-4o"

// DefaultRetry retries rate limits and server errors.
var DefaultRetry = retry.Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 4 * time.Second}

// Config selects the provider and model.
type Config struct {
	APIKey  string
	BaseURL string // Optional, for proxies and compatible servers
	Model   string // Model name, or deployment name on Azure

	// AzureEndpoint switches to Azure OpenAI when set.
	AzureEndpoint   string
	AzureAPIVersion string

	HTTPClient *http.Client
}

// Engine implements ports.ReasoningEngine.
type Engine struct {
	client *backend.Client
	model  string
	retry  retry.Policy
	logger *slog.Logger
}

// Option configures the Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithRetry sets the retry policy for rate limits and server errors.
func WithRetry(p retry.Policy) Option {
	return func(e *Engine) {
		e.retry = p
	}
}

// New creates an engine from the configuration.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	var clientCfg backend.ClientConfig
	if cfg.AzureEndpoint != "" {
		clientCfg = backend.DefaultAzureConfig(cfg.APIKey, cfg.AzureEndpoint)
		if cfg.AzureAPIVersion != "" {
			clientCfg.APIVersion = cfg.AzureAPIVersion
		}
		clientCfg.AzureModelMapperFunc = func(string) string { return model }
	} else {
		clientCfg = backend.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	e := &Engine{
		client: backend.NewClientWithConfig(clientCfg),
		model:  model,
		retry:  DefaultRetry,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Model returns the configured model or deployment name.
func (e *Engine) Model() string {
	return e.model
}

// Complete sends one chat completion request.
func (e *Engine) Complete(ctx context.Context, req ports.ChatRequest) (ports.ChatResponse, error) {
	request := e.buildRequest(req)

	var resp backend.ChatCompletionResponse
	attempt := 0
	err := retry.Do(ctx, e.retry, func(ctx context.Context) error {
		attempt++
		start := time.Now()
		var err error
		resp, err = e.client.CreateChatCompletion(ctx, request)
		if err != nil {
			classified := classify(ctx, err)
			e.logger.Warn("engine.request_failed",
				"attempt", attempt,
				"duration_ms", time.Since(start).Milliseconds(),
				"err", err,
			)
			return classified
		}
		e.logger.Debug("engine.response",
			"attempt", attempt,
			"duration_ms", time.Since(start).Milliseconds(),
			"prompt_tokens", resp.Usage.PromptTokens,
			"completion_tokens", resp.Usage.CompletionTokens,
		)
		return nil
	})
	if err != nil {
		return ports.ChatResponse{}, err
	}

	if len(resp.Choices) == 0 {
		return ports.ChatResponse{}, fmt.Errorf("%w: response has no choices", domain.ErrEngineUnavailable)
	}
	choice := resp.Choices[0]
	if choice.FinishReason == backend.FinishReasonContentFilter {
		return ports.ChatResponse{}, domain.ErrContentFiltered
	}

	out := ports.ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

func (e *Engine) buildRequest(req ports.ChatRequest) backend.ChatCompletionRequest {
	messages := make([]backend.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, backend.ChatCompletionMessage{
			Role:    backend.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, toMessage(m))
	}

	request := backend.ChatCompletionRequest{
		Model:       e.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if len(req.Tools) > 0 {
		request.Tools = make([]backend.Tool, len(req.Tools))
		for i, spec := range req.Tools {
			params := any(spec.Parameters)
			if spec.Parameters == nil {
				params = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			request.Tools[i] = backend.Tool{
				Type: backend.ToolTypeFunction,
				Function: &backend.FunctionDefinition{
					Name:        spec.Name,
					Description: spec.Description,
					Parameters:  params,
				},
			}
		}
		choice := req.ToolChoice
		if choice == "" {
			choice = ports.ToolChoiceAuto
		}
		request.ToolChoice = string(choice)
	}
	return request
}

func toMessage(m domain.Message) backend.ChatCompletionMessage {
	switch m.Role {
	case domain.RoleTool:
		return backend.ChatCompletionMessage{
			Role:       backend.ChatMessageRoleTool,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.ToolName,
		}
	case domain.RoleAssistant:
		msg := backend.ChatCompletionMessage{
			Role:    backend.ChatMessageRoleAssistant,
			Content: m.Content,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, backend.ToolCall{
				ID:   tc.ID,
				Type: backend.ToolTypeFunction,
				Function: backend.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		return msg
	default:
		return backend.ChatCompletionMessage{
			Role:    backend.ChatMessageRoleUser,
			Content: m.Content,
		}
	}
}

// classify maps provider errors onto domain sentinels. Only rate limits and
// server errors are worth another attempt.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return retry.Permanent(fmt.Errorf("%w: %w", domain.ErrEngineUnavailable, ctx.Err()))
	}

	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		if isContentFilter(apiErr) {
			return retry.Permanent(fmt.Errorf("%w: %s", domain.ErrContentFiltered, apiErr.Message))
		}
		return statusError(apiErr.HTTPStatusCode, err)
	}

	var reqErr *backend.RequestError
	if errors.As(err, &reqErr) {
		return statusError(reqErr.HTTPStatusCode, err)
	}

	// Transport failure
	return fmt.Errorf("%w: %w", domain.ErrEngineUnavailable, err)
}

func statusError(status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w: %w", domain.ErrEngineUnavailable, domain.ErrRateLimited, err)
	case status >= 500:
		return fmt.Errorf("%w: %w", domain.ErrEngineUnavailable, err)
	default:
		return retry.Permanent(fmt.Errorf("%w: %w", domain.ErrEngineUnavailable, err))
	}
}

func isContentFilter(e *backend.APIError) bool {
	if code, ok := e.Code.(string); ok && code == "content_filter" {
		return true
	}
	return e.Type == "content_filter"
}
