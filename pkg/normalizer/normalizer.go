package normalizer

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/labwire/orderdesk/internal/logging"
	"github.com/labwire/orderdesk/internal/retry"
	"github.com/labwire/orderdesk/pkg/domain"
	"github.com/labwire/orderdesk/pkg/ports"
	"github.com/labwire/orderdesk/pkg/rules"
)

// Resolution is the outcome of Normalize.
type Resolution struct {
	Input     string `json:"input"`
	Category  string `json:"category"`
	Canonical string `json:"canonical,omitempty"`
	Stage     string `json:"stage,omitempty"`
	Cached    bool   `json:"cached"`
	Resolved  bool   `json:"resolved"`
}

// Normalizer resolves free-text material names to canonical subtypes.
type Normalizer struct {
	vocab  *Vocabulary
	stages []Stage
	cache  *Cache
	logger *slog.Logger
	hooks  domain.LifecycleHooks

	engine    ports.ReasoningEngine
	useModel  bool
	threshold float64
	retry     retry.Policy
	aliases   map[string]string
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithEngine enables the model stage backed by engine.
func WithEngine(engine ports.ReasoningEngine) Option {
	return func(n *Normalizer) {
		n.engine = engine
	}
}

// WithModel toggles the model stage. It is on by default when an engine is set.
func WithModel(enabled bool) Option {
	return func(n *Normalizer) {
		n.useModel = enabled
	}
}

// WithThreshold sets the fuzzy similarity cutoff.
func WithThreshold(t float64) Option {
	return func(n *Normalizer) {
		n.threshold = t
	}
}

// WithRetry sets the retry policy for model calls.
func WithRetry(p retry.Policy) Option {
	return func(n *Normalizer) {
		n.retry = p
	}
}

// WithAliases adds synonyms (alias -> canonical) to the alias stage.
func WithAliases(aliases map[string]string) Option {
	return func(n *Normalizer) {
		n.aliases = aliases
	}
}

// WithCache shares a cache between normalizers.
func WithCache(c *Cache) Option {
	return func(n *Normalizer) {
		n.cache = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Normalizer) {
		n.logger = logger
	}
}

// WithHooks sets observability callbacks.
func WithHooks(h domain.LifecycleHooks) Option {
	return func(n *Normalizer) {
		n.hooks = h
	}
}

// WithStages replaces the default alias, fuzzy, model chain.
func WithStages(stages ...Stage) Option {
	return func(n *Normalizer) {
		n.stages = stages
	}
}

// New builds a normalizer whose vocabulary comes from the rule engine.
func New(r *rules.Rules, opts ...Option) *Normalizer {
	n := &Normalizer{
		logger:    logging.NewNop(),
		useModel:  true,
		threshold: DefaultThreshold,
		retry:     retry.Policy{MaxAttempts: 2, BaseDelay: 200 * time.Millisecond, MaxDelay: time.Second},
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.cache == nil {
		n.cache = NewCache()
	}
	n.vocab = NewVocabulary(r, n.aliases)
	if n.stages == nil {
		n.stages = []Stage{AliasStage{}, FuzzyStage{Threshold: n.threshold}}
		if n.engine != nil && n.useModel {
			n.stages = append(n.stages, ModelStage{Engine: n.engine, Retry: n.retry})
		}
	}
	return n
}

// Vocabulary exposes the canonical names per category.
func (n *Normalizer) Vocabulary() *Vocabulary { return n.vocab }

// Cache exposes the resolution cache for operator endpoints.
func (n *Normalizer) Cache() *Cache { return n.cache }

// Normalize runs the cache and then each stage in order, stopping at the
// first resolved outcome. Resolved inputs are cached with their stage;
// unresolved inputs are not, so a later attempt can still succeed.
// The error is non-nil only when a stage failed; the resolution is then unresolved.
func (n *Normalizer) Normalize(ctx context.Context, raw, category string) (Resolution, error) {
	category = strings.ToLower(strings.TrimSpace(category))
	res := Resolution{Input: raw, Category: category}
	if strings.TrimSpace(raw) == "" {
		return res, nil
	}

	if e, ok := n.cache.Get(raw, category); ok {
		res.Canonical, res.Stage, res.Cached, res.Resolved = e.Canonical, e.Stage, true, true
		n.emit(ctx, res)
		return res, nil
	}

	for _, stage := range n.stages {
		out, err := stage.Resolve(ctx, raw, category, n.vocab)
		if err != nil {
			n.logger.Warn("normalizer.stage_failed", "stage", stage.Name(), "input", raw, "category", category, "err", err)
			n.emit(ctx, res)
			return res, err
		}
		if !out.Resolved {
			continue
		}
		res.Canonical, res.Stage, res.Resolved = out.Canonical, stage.Name(), true
		n.cache.Put(raw, category, Entry{Canonical: out.Canonical, Stage: stage.Name()})
		n.logger.Debug("normalizer.resolved", "input", raw, "category", category, "canonical", out.Canonical, "stage", stage.Name())
		n.emit(ctx, res)
		return res, nil
	}

	n.logger.Debug("normalizer.unresolved", "input", raw, "category", category)
	n.emit(ctx, res)
	return res, nil
}

func (n *Normalizer) emit(ctx context.Context, res Resolution) {
	if n.hooks.OnNormalized == nil {
		return
	}
	n.hooks.OnNormalized(ctx, &domain.NormalizationEvent{
		EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventNormalized},
		Input:     res.Input,
		Category:  res.Category,
		Canonical: res.Canonical,
		Stage:     res.Stage,
		Cached:    res.Cached,
	})
}
