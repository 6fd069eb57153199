package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/labwire/orderdesk/internal/logging"
	"github.com/labwire/orderdesk/internal/retry"
	"github.com/labwire/orderdesk/pkg/domain"
	"github.com/labwire/orderdesk/pkg/normalizer"
	"github.com/labwire/orderdesk/pkg/ports"
	"github.com/labwire/orderdesk/pkg/rules"
	"github.com/labwire/orderdesk/pkg/workflow"
	"github.com/mitchellh/mapstructure"
)

// Turn is the per-turn state a tool call reads and writes.
type Turn struct {
	SessionID   string
	UserMessage string
	Draft       *domain.OrderDraft
}

// Dispatcher maps a tool name and JSON arguments to a handler and always
// returns a result envelope. Every draft write is gated by the workflow machine.
type Dispatcher struct {
	registry   *Registry
	machine    *workflow.Machine
	rules      *rules.Rules
	normalizer *normalizer.Normalizer
	catalog    ports.CatalogSearcher

	logger      *slog.Logger
	hooks       domain.LifecycleHooks
	retry       retry.Policy
	searchLimit int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithHooks sets observability callbacks.
func WithHooks(h domain.LifecycleHooks) Option {
	return func(d *Dispatcher) {
		d.hooks = h
	}
}

// WithRetry sets the retry policy for catalog searches.
func WithRetry(p retry.Policy) Option {
	return func(d *Dispatcher) {
		d.retry = p
	}
}

// WithSearchLimit caps the number of candidates requested from the catalog.
func WithSearchLimit(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.searchLimit = n
		}
	}
}

// NewDispatcher wires the built-in tools.
func NewDispatcher(m *workflow.Machine, r *rules.Rules, n *normalizer.Normalizer, catalog ports.CatalogSearcher, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:    NewRegistry(),
		machine:     m,
		rules:       r,
		normalizer:  n,
		catalog:     catalog,
		logger:      logging.NewNop(),
		retry:       retry.Default,
		searchLimit: 5,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.registerBuiltins()
	return d
}

func (d *Dispatcher) registerBuiltins() {
	d.registry.Register(Tool{Spec: specRecordRestoration, Handler: d.recordRestoration,
		Steps: []workflow.Step{workflow.StepRestorationType, workflow.StepToothPositions}})
	d.registry.Register(Tool{Spec: specValidateBridge, Handler: d.validateBridge,
		Steps: []workflow.Step{workflow.StepToothPositions, workflow.StepBridgeValidation}})
	d.registry.Register(Tool{Spec: specValidateMaterial, Handler: d.validateMaterial,
		Steps: []workflow.Step{workflow.StepMaterialCategory, workflow.StepMaterialSubtype}})
	d.registry.Register(Tool{Spec: specSearchProducts, Handler: d.searchProducts,
		Steps: []workflow.Step{workflow.StepProductSearch, workflow.StepProductSelection}})
	d.registry.Register(Tool{Spec: specSelectProduct, Handler: d.selectProduct,
		Steps: []workflow.Step{workflow.StepProductSelection}})
	d.registry.Register(Tool{Spec: specRecordShade, Handler: d.recordShade,
		Steps: []workflow.Step{workflow.StepShade}})
	d.registry.Register(Tool{Spec: specStorePatientName, Handler: d.storePatientName})
	d.registry.Register(Tool{Spec: specConfirmOrder, Handler: d.confirmOrder,
		Steps: []workflow.Step{workflow.StepConfirm}})
	d.registry.Register(Tool{Spec: specCorrectOrder, Handler: d.correctOrder})
}

// Registry exposes the tool registry, e.g. to add tools or list them over MCP.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Machine returns the workflow machine gating draft writes.
func (d *Dispatcher) Machine() *workflow.Machine { return d.machine }

// Specs returns the tools meaningful at the step.
func (d *Dispatcher) Specs(step workflow.Step) []domain.ToolSpec {
	return d.registry.Specs(step)
}

// Execute runs one tool call. Unknown tools, malformed arguments, handler
// panics and protocol violations all come back as {valid:false}.
// The draft is only modified when the handler commits a change.
func (d *Dispatcher) Execute(ctx context.Context, name, rawArgs string, turn *Turn) (res domain.ToolResult) {
	start := time.Now()
	if turn.Draft == nil {
		turn.Draft = &domain.OrderDraft{}
	}
	d.emitTool(ctx, d.hooks.OnToolCall, domain.EventToolCall, turn, name, rawArgs, nil, 0)

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tools.panic", "tool", name, "session_id", turn.SessionID, "panic", r)
			res = domain.Invalid(fmt.Sprintf("tool %s failed unexpectedly", name), nil)
		}
		d.emitTool(ctx, d.hooks.OnToolReturn, domain.EventToolReturn, turn, name, rawArgs, &res, time.Since(start))
	}()

	tool, err := d.registry.Lookup(name)
	if err != nil {
		return domain.Invalid(err.Error(), nil)
	}

	args, err := parseArgs(rawArgs)
	if err != nil {
		return domain.Invalid(fmt.Sprintf("invalid arguments for %s: %v", name, err), nil)
	}

	return tool.Handler(ctx, turn, args)
}

func (d *Dispatcher) emitTool(ctx context.Context, hook func(context.Context, *domain.ToolEvent), typ domain.EventType,
	turn *Turn, name, input string, out *domain.ToolResult, dur time.Duration) {
	if hook == nil {
		return
	}
	hook(ctx, &domain.ToolEvent{
		EventBase: domain.EventBase{Timestamp: time.Now(), Type: typ, SessionID: turn.SessionID},
		ToolName:  name,
		Input:     input,
		Output:    out,
		Duration:  dur,
	})
}

func parseArgs(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// decode maps loose JSON arguments onto a typed struct. Numbers and lists
// are accepted where strings are expected ("tooth_positions": [14, 15]).
func decode(args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       joinSlices,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(args)
}

func joinSlices(from, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.String || from.Kind() != reflect.Slice {
		return data, nil
	}
	v := reflect.ValueOf(data)
	parts := make([]string, v.Len())
	for i := range parts {
		parts[i] = fmt.Sprint(v.Index(i).Interface())
	}
	return strings.Join(parts, ","), nil
}

// redirect turns a workflow violation into the silent-redirect envelope.
func (d *Dispatcher) redirect(err error, draft domain.OrderDraft) domain.ToolResult {
	step := d.machine.Step(draft)
	var v *workflow.Violation
	if errors.As(err, &v) {
		step = v.Expected
	}
	info, _ := workflow.Info(step)

	var msg string
	switch {
	case errors.Is(err, workflow.ErrFieldLocked):
		msg = fmt.Sprintf("%s is already recorded; call correct_order first if the user wants to change it. Next: %s", fieldOf(err), info.Prompt)
	case errors.Is(err, workflow.ErrFinalized):
		msg = "the order is already submitted and cannot be changed"
	case errors.Is(err, workflow.ErrNotApplicable):
		msg = fmt.Sprintf("%s does not apply to this order. Next: %s", fieldOf(err), info.Prompt)
	default:
		msg = fmt.Sprintf("not yet: the current step is %s. %s", step, info.Prompt)
	}
	return domain.Invalid(msg, map[string]any{
		"redirect":      true,
		"expected_step": string(step),
	})
}

func fieldOf(err error) domain.Field {
	var v *workflow.Violation
	if errors.As(err, &v) {
		return v.Field
	}
	return ""
}

func (d *Dispatcher) nextStep(draft domain.OrderDraft) string {
	return string(d.machine.Step(draft))
}
