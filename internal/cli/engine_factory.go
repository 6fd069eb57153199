package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/labwire/orderdesk"
	"github.com/labwire/orderdesk/internal/config"
	"github.com/labwire/orderdesk/pkg/adapters/catalog"
	"github.com/labwire/orderdesk/pkg/adapters/memory"
	"github.com/labwire/orderdesk/pkg/adapters/openai"
	"github.com/labwire/orderdesk/pkg/adapters/redis"
	"github.com/labwire/orderdesk/pkg/adapters/sqlite"
	"github.com/labwire/orderdesk/pkg/agent"
	"github.com/labwire/orderdesk/pkg/domain"
	"github.com/labwire/orderdesk/pkg/observability"
	"github.com/labwire/orderdesk/pkg/persistence/middleware"
	"github.com/labwire/orderdesk/pkg/ports"
	"github.com/labwire/orderdesk/pkg/rules"
	"github.com/labwire/orderdesk/pkg/tools"
)

// App is a fully wired assistant and the resources it owns.
type App struct {
	Config    config.Config
	Assistant *orderdesk.Assistant
	Catalog   ports.CatalogSearcher
	Store     ports.TranscriptStore // nil only when building fails
	Registry  *prometheus.Registry
	Logger    *slog.Logger

	closers []func() error
}

// Close flushes pending writes and releases the store.
func (a *App) Close() error {
	var errs []error
	if a.Assistant != nil {
		errs = append(errs, a.Assistant.Close())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

type buildOptions struct {
	engine  ports.ReasoningEngine
	offline bool
}

// BuildOption customizes Build.
type BuildOption func(*buildOptions)

// WithEngine replaces the OpenAI engine, for offline commands and tests.
func WithEngine(e ports.ReasoningEngine) BuildOption {
	return func(o *buildOptions) {
		o.engine = e
	}
}

type offlineEngine struct{}

func (offlineEngine) Complete(context.Context, ports.ChatRequest) (ports.ChatResponse, error) {
	return ports.ChatResponse{}, domain.ErrEngineUnavailable
}

// Offline builds without a reasoning engine. Turns answer with the
// unavailable reply. Rules, stored sessions and the alias and fuzzy
// normalizer stages still work; the model stage is skipped.
func Offline() BuildOption {
	return func(o *buildOptions) {
		o.engine = offlineEngine{}
		o.offline = true
	}
}

// Build wires the assistant from cfg: rules, catalog, engine, store with its
// PII and encryption middleware, locker and metrics.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...BuildOption) (*App, error) {
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}

	app := &App{Config: cfg, Logger: logger, Registry: prometheus.NewRegistry()}
	ok := false
	defer func() {
		if !ok {
			_ = app.Close()
		}
	}()

	r, err := loadRules(cfg.RulesFile)
	if err != nil {
		return nil, err
	}

	app.Catalog, err = createCatalog(cfg.Catalog, logger)
	if err != nil {
		return nil, err
	}

	engine := bo.engine
	if engine == nil {
		if err := cfg.EngineReady(); err != nil {
			return nil, err
		}
		if engine, err = createEngine(cfg.Engine, logger); err != nil {
			return nil, err
		}
	}

	store, locker, err := app.openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.Store = store

	app.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(app.Registry)
	hooks := observability.Combine(metrics.Hooks(), observability.LogHooks(logger))

	assistantOpts := []orderdesk.Option{
		orderdesk.WithRules(r),
		orderdesk.WithStore(store),
		orderdesk.WithLogger(logger),
		orderdesk.WithLifecycleHooks(hooks),
		orderdesk.WithMirrorQueue(cfg.Store.QueueSize),
		orderdesk.WithModelNormalization(cfg.Agent.ModelNormalize && !bo.offline),
		orderdesk.WithLoopOptions(
			agent.WithMaxIterations(cfg.Agent.MaxIterations),
			agent.WithEngineTimeout(cfg.Engine.Timeout),
		),
		orderdesk.WithToolOptions(tools.WithSearchLimit(cfg.Catalog.Limit)),
	}
	if locker != nil {
		assistantOpts = append(assistantOpts, orderdesk.WithLocker(locker))
	}

	app.Assistant, err = orderdesk.New(engine, app.Catalog, assistantOpts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing assistant: %w", err)
	}

	logger.Info("assistant ready",
		"store", cfg.Store.Backend,
		"engine_model", cfg.Engine.Model,
		"max_iterations", cfg.Agent.MaxIterations,
		"encryption", cfg.Encryption.Enabled && cfg.Store.Backend != config.StoreMemory,
	)
	ok = true
	return app, nil
}

func loadRules(path string) (*rules.Rules, error) {
	if path == "" {
		return rules.Default(), nil
	}
	rc, err := rules.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	r, err := rules.New(rc)
	if err != nil {
		return nil, fmt.Errorf("invalid rules file %s: %w", path, err)
	}
	return r, nil
}

func createCatalog(cfg config.CatalogConfig, logger *slog.Logger) (ports.CatalogSearcher, error) {
	if cfg.URL != "" {
		opts := []catalog.HTTPOption{catalog.WithLogger(logger)}
		if cfg.APIKey != "" {
			opts = append(opts, catalog.WithAPIKey(cfg.APIKey))
		}
		return catalog.NewHTTPSearcher(cfg.URL, opts...), nil
	}
	s, err := catalog.LoadStaticSearcher(cfg.File)
	if err != nil {
		return nil, fmt.Errorf("error loading catalog: %w", err)
	}
	return s, nil
}

func createEngine(cfg config.EngineConfig, logger *slog.Logger) (ports.ReasoningEngine, error) {
	e, err := openai.New(openai.Config{
		APIKey:          cfg.APIKey,
		BaseURL:         cfg.BaseURL,
		Model:           cfg.Model,
		AzureEndpoint:   cfg.AzureEndpoint,
		AzureAPIVersion: cfg.AzureAPIVersion,
	}, openai.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("error initializing reasoning engine: %w", err)
	}
	return e, nil
}

// openStore opens the configured backend and wraps it with the PII and
// encryption middleware. Masking runs before sealing.
func (a *App) openStore(ctx context.Context, cfg config.Config) (ports.TranscriptStore, ports.DistributedLocker, error) {
	var (
		base   ports.TranscriptStore
		locker ports.DistributedLocker
	)

	switch cfg.Store.Backend {
	case config.StoreMemory:
		base = memory.NewStore()
	case config.StoreSQLite:
		if dir := filepath.Dir(cfg.Store.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		s, err := sqlite.Open(cfg.Store.DBPath)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, s.Close)
		base = s
	case config.StoreRedis:
		s, err := redis.New(ctx, cfg.Store.RedisAddr,
			redis.WithPrefix(cfg.Store.RedisPrefix),
			redis.WithTTL(cfg.Store.TTL),
		)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, s.Client().Close)
		base = s
		if cfg.Store.Lock {
			locker = redis.NewLocker(s.Client(), cfg.Store.RedisPrefix)
		}
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	var mws []middleware.Middleware
	if cfg.Store.MaskPII {
		mws = append(mws, middleware.NewPIIMiddleware(middleware.DefaultPIIKeys, middleware.DefaultPIIPatterns...))
	}
	if cfg.Encryption.Enabled && cfg.Store.Backend != config.StoreMemory {
		active, fallback, err := cfg.Encryption.Keys()
		if err != nil {
			return nil, nil, err
		}
		mws = append(mws, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
			ActiveKey:    active,
			FallbackKeys: fallback,
		}))
	}
	return middleware.Chain(base, mws...), locker, nil
}
