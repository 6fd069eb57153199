package ports

import (
	"context"

	"github.com/labwire/orderdesk/pkg/domain"
)

// ToolChoice controls whether the reasoning engine may call tools.
type ToolChoice string

const (
	ToolChoiceAuto ToolChoice = "auto"
	ToolChoiceNone ToolChoice = "none"
)

// ChatRequest is a single chat-completion request.
type ChatRequest struct {
	System      string
	Messages    []domain.Message
	Tools       []domain.ToolSpec
	ToolChoice  ToolChoice
	Temperature float32
	MaxTokens   int
}

// ChatResponse is either a final text or a set of tool invocations.
type ChatResponse struct {
	Content      string
	ToolCalls    []domain.ToolCall
	FinishReason string
}

// ReasoningEngine is the external chat-completion service supporting tool calling.
type ReasoningEngine interface {
	// Complete sends the request and blocks until the engine answers or ctx ends.
	// Implementations map provider refusals to domain.ErrContentFiltered and
	// transport failures to domain.ErrEngineUnavailable.
	Complete(ctx context.Context, req ChatRequest) (ChatResponse, error)
}
