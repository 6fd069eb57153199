package orderdesk

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/labwire/orderdesk/internal/logging"
	"github.com/labwire/orderdesk/pkg/agent"
	"github.com/labwire/orderdesk/pkg/domain"
	"github.com/labwire/orderdesk/pkg/normalizer"
	"github.com/labwire/orderdesk/pkg/ports"
	"github.com/labwire/orderdesk/pkg/rules"
	"github.com/labwire/orderdesk/pkg/session"
	"github.com/labwire/orderdesk/pkg/tools"
	"github.com/labwire/orderdesk/pkg/workflow"
)

// Version is the release of the module.
const Version = "0.4.0"

// Assistant is the high-level entry point: one value wires the workflow
// machine, rules, normalizer, tool dispatcher, session registry and the
// bounded agent loop.
type Assistant struct {
	rules      *rules.Rules
	normalizer *normalizer.Normalizer
	dispatcher *tools.Dispatcher
	registry   *session.Registry
	mirror     *session.Mirror
	loop       *agent.Loop
	logger     *slog.Logger
}

type options struct {
	rules          *rules.Rules
	store          ports.TranscriptStore
	locker         ports.DistributedLocker
	hooks          domain.LifecycleHooks
	logger         *slog.Logger
	queueSize      int
	modelNormalize bool
	loopOpts       []agent.Option
	normOpts       []normalizer.Option
	toolOpts       []tools.Option
}

// Option configures the Assistant.
type Option func(*options)

// WithRules sets the rule tables. Defaults to rules.Default().
func WithRules(r *rules.Rules) Option {
	return func(o *options) {
		o.rules = r
	}
}

// WithStore mirrors every conversation to a durable store and hydrates
// sessions that are not live in this process.
func WithStore(s ports.TranscriptStore) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithLocker serializes turns of the same session across replicas.
func WithLocker(l ports.DistributedLocker) Option {
	return func(o *options) {
		o.locker = l
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(o *options) {
		o.hooks = hooks
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMirrorQueue sets the durable write backlog above which a warning is logged.
func WithMirrorQueue(size int) Option {
	return func(o *options) {
		o.queueSize = size
	}
}

// WithModelNormalization toggles the reasoning-engine stage of the material
// normalizer, tried when the alias and fuzzy stages fail. It is on by default.
func WithModelNormalization(enabled bool) Option {
	return func(o *options) {
		o.modelNormalize = enabled
	}
}

// WithLoopOptions passes options to the agent loop.
func WithLoopOptions(opts ...agent.Option) Option {
	return func(o *options) {
		o.loopOpts = append(o.loopOpts, opts...)
	}
}

// WithNormalizerOptions passes options to the material normalizer.
func WithNormalizerOptions(opts ...normalizer.Option) Option {
	return func(o *options) {
		o.normOpts = append(o.normOpts, opts...)
	}
}

// WithToolOptions passes options to the tool dispatcher.
func WithToolOptions(opts ...tools.Option) Option {
	return func(o *options) {
		o.toolOpts = append(o.toolOpts, opts...)
	}
}

// New builds an Assistant around a reasoning engine and a product catalog.
func New(engine ports.ReasoningEngine, catalog ports.CatalogSearcher, opts ...Option) (*Assistant, error) {
	if engine == nil {
		return nil, errors.New("reasoning engine is required")
	}
	if catalog == nil {
		return nil, errors.New("catalog searcher is required")
	}

	o := options{queueSize: session.DefaultQueueSize, modelNormalize: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rules == nil {
		o.rules = rules.Default()
	}
	if o.logger == nil {
		o.logger = logging.NewNop()
	}

	normOpts := []normalizer.Option{
		normalizer.WithEngine(engine),
		normalizer.WithModel(o.modelNormalize),
		normalizer.WithLogger(o.logger),
		normalizer.WithHooks(o.hooks),
	}
	norm := normalizer.New(o.rules, append(normOpts, o.normOpts...)...)

	toolOpts := []tools.Option{tools.WithLogger(o.logger), tools.WithHooks(o.hooks)}
	dispatcher := tools.NewDispatcher(workflow.New(), o.rules, norm, catalog, append(toolOpts, o.toolOpts...)...)

	managerOpts := []session.Option{session.WithLogger(o.logger)}
	if o.locker != nil {
		managerOpts = append(managerOpts, session.WithLocker(o.locker))
	}
	registryOpts := []session.RegistryOption{
		session.WithManager(session.NewManager(managerOpts...)),
		session.WithRegistryLogger(o.logger),
	}
	var mirror *session.Mirror
	if o.store != nil {
		mirror = session.NewMirror(o.store, o.queueSize, session.WithMirrorLogger(o.logger))
		registryOpts = append(registryOpts, session.WithMirror(mirror))
	}
	registry := session.NewRegistry(registryOpts...)

	loopOpts := []agent.Option{agent.WithLogger(o.logger), agent.WithHooks(o.hooks)}
	loop := agent.New(engine, dispatcher, registry, append(loopOpts, o.loopOpts...)...)

	return &Assistant{
		rules:      o.rules,
		normalizer: norm,
		dispatcher: dispatcher,
		registry:   registry,
		mirror:     mirror,
		loop:       loop,
		logger:     o.logger,
	}, nil
}

// RunTurn processes one user message and always returns a reply.
// An empty sessionID starts a new session; the reply carries its ID.
func (a *Assistant) RunTurn(ctx context.Context, sessionID, ownerID, message string) agent.Reply {
	return a.loop.RunTurn(ctx, sessionID, ownerID, message)
}

// Sessions lists the sessions of an owner, most recent first.
func (a *Assistant) Sessions(ctx context.Context, ownerID string) ([]domain.Session, error) {
	return a.registry.List(ctx, ownerID)
}

// Session returns a snapshot of one conversation.
func (a *Assistant) Session(ctx context.Context, sessionID, ownerID string) (*session.Conversation, error) {
	return a.registry.Get(ctx, sessionID, ownerID)
}

// Transcript returns the messages of a session in order.
func (a *Assistant) Transcript(ctx context.Context, sessionID, ownerID string) ([]domain.Message, error) {
	return a.registry.Transcript(ctx, sessionID, ownerID)
}

// CancelSession ends a session without creating an order.
func (a *Assistant) CancelSession(ctx context.Context, sessionID, ownerID string) error {
	return a.registry.Cancel(ctx, sessionID, ownerID)
}

// DeleteSession removes a session and its transcript. Orders are kept.
func (a *Assistant) DeleteSession(ctx context.Context, sessionID, ownerID string) error {
	return a.registry.Delete(ctx, sessionID, ownerID)
}

// Order looks up a created order by number.
func (a *Assistant) Order(ctx context.Context, number, ownerID string) (*domain.Order, error) {
	return a.registry.Order(ctx, number, ownerID)
}

// Orders lists the orders of an owner, most recent first. An empty owner
// lists every order; limit <= 0 returns all of them.
func (a *Assistant) Orders(ctx context.Context, ownerID string, limit int) ([]domain.Order, error) {
	orders, err := a.registry.Orders(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

// Normalize resolves a free-text material name within a category.
func (a *Assistant) Normalize(ctx context.Context, raw, category string) (normalizer.Resolution, error) {
	return a.normalizer.Normalize(ctx, raw, category)
}

// ValidateBridge checks a set of FDI tooth positions against the bridge rules.
func (a *Assistant) ValidateBridge(positions string) rules.BridgeReport {
	return a.rules.ValidateBridge(positions)
}

// CacheStats returns the normalizer cache statistics.
func (a *Assistant) CacheStats() normalizer.Stats {
	return a.normalizer.Cache().Stats()
}

// ClearCache empties the normalizer cache.
func (a *Assistant) ClearCache() {
	a.normalizer.Cache().Clear()
	a.logger.Info("normalizer.cache_cleared")
}

// Dispatcher exposes the tool dispatcher, for MCP and tests.
func (a *Assistant) Dispatcher() *tools.Dispatcher {
	return a.dispatcher
}

// Rules returns the active rule tables.
func (a *Assistant) Rules() *rules.Rules {
	return a.rules
}

// Run evicts idle conversations every interval until ctx ends.
func (a *Assistant) Run(ctx context.Context, interval, idle time.Duration) {
	a.registry.Run(ctx, interval, idle)
}

// Flush waits until every queued durable write has been attempted.
func (a *Assistant) Flush(ctx context.Context) error {
	if a.mirror == nil {
		return nil
	}
	return a.mirror.Flush(ctx)
}

// Close drains pending durable writes.
func (a *Assistant) Close() error {
	if a.mirror == nil {
		return nil
	}
	return a.mirror.Close()
}
