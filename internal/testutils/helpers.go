package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/labwire/orderdesk/pkg/domain"
	"github.com/labwire/orderdesk/pkg/ports"
	"github.com/stretchr/testify/require"
)

// Step is one scripted engine answer. Exactly one of Response or Err is used.
type Step struct {
	Response ports.ChatResponse
	Err      error
}

// Text scripts a plain-text answer.
func Text(content string) Step {
	return Step{Response: ports.ChatResponse{Content: content, FinishReason: "stop"}}
}

// Call scripts a single tool call. args is marshaled to JSON.
func Call(name string, args map[string]any) Step {
	return Calls(domain.ToolCall{Name: name, Arguments: mustJSON(args)})
}

// Calls scripts several tool calls in one answer. Missing IDs are filled in.
func Calls(calls ...domain.ToolCall) Step {
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = fmt.Sprintf("call_%s_%d", calls[i].Name, i)
		}
	}
	return Step{Response: ports.ChatResponse{ToolCalls: calls, FinishReason: "tool_calls"}}
}

// Fail scripts an engine error.
func Fail(err error) Step { return Step{Err: err} }

// FakeEngine is a scripted ports.ReasoningEngine.
// When the script runs out it repeats the last step played, or answers "ok" if none.
type FakeEngine struct {
	mu       sync.Mutex
	steps    []Step
	last     *Step
	requests []ports.ChatRequest
}

// NewFakeEngine returns an engine that plays steps in order.
func NewFakeEngine(steps ...Step) *FakeEngine {
	return &FakeEngine{steps: steps}
}

// Complete implements ports.ReasoningEngine.
func (f *FakeEngine) Complete(ctx context.Context, req ports.ChatRequest) (ports.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return ports.ChatResponse{}, err
	}
	f.requests = append(f.requests, req)

	var step Step
	switch {
	case len(f.steps) > 0:
		step, f.steps = f.steps[0], f.steps[1:]
		f.last = &step
	case f.last != nil:
		step = *f.last
	default:
		step = Text("ok")
	}
	return step.Response, step.Err
}

// Push appends steps to the script.
func (f *FakeEngine) Push(steps ...Step) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps = append(f.steps, steps...)
}

// Calls returns how many requests the engine received.
func (f *FakeEngine) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// Requests returns a copy of the received requests.
func (f *FakeEngine) Requests() []ports.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ports.ChatRequest(nil), f.requests...)
}

// LastRequest fails the test if no request was received.
func (f *FakeEngine) LastRequest(t *testing.T) ports.ChatRequest {
	t.Helper()
	reqs := f.Requests()
	require.NotEmpty(t, reqs, "engine received no requests")
	return reqs[len(reqs)-1]
}

func mustJSON(v map[string]any) string {
	if v == nil {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
