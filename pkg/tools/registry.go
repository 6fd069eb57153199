package tools

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/labwire/orderdesk/pkg/domain"
	"github.com/labwire/orderdesk/pkg/workflow"
)

// Handler implements a tool. It works on turn.Draft and returns the result envelope.
type Handler func(ctx context.Context, turn *Turn, args map[string]any) domain.ToolResult

// Tool binds a spec to its handler and the steps where it is offered.
// A nil Steps list offers the tool at every step except done.
type Tool struct {
	Spec    domain.ToolSpec
	Steps   []workflow.Step
	Handler Handler
}

// OfferedAt reports whether the tool is offered at the step.
func (t Tool) OfferedAt(step workflow.Step) bool {
	if t.Steps == nil {
		return step != workflow.StepDone
	}
	return slices.Contains(t.Steps, step)
}

// Registry manages the available tools in registration order.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry.
// If a tool with the same name exists, it is overwritten.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[t.Spec.Name]; !ok {
		r.order = append(r.order, t.Spec.Name)
	}
	r.tools[t.Spec.Name] = t
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return Tool{}, fmt.Errorf("tool not found: %s", name)
	}
	return t, nil
}

// Specs returns the specs of the tools offered at step.
func (r *Registry) Specs(step workflow.Step) []domain.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.ToolSpec
	for _, name := range r.order {
		if t := r.tools[name]; t.OfferedAt(step) {
			out = append(out, t.Spec)
		}
	}
	return out
}

// All returns every registered spec.
func (r *Registry) All() []domain.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Spec)
	}
	return out
}
