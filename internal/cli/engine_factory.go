package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aretw0/conductor"
	"github.com/aretw0/conductor/internal/config"
	"github.com/aretw0/conductor/pkg/adapters/file"
	"github.com/aretw0/conductor/pkg/adapters/genai"
	"github.com/aretw0/conductor/pkg/adapters/memory"
	"github.com/aretw0/conductor/pkg/adapters/rabbitmq"
	"github.com/aretw0/conductor/pkg/adapters/redis"
	"github.com/aretw0/conductor/pkg/adapters/sqlstore"
	"github.com/aretw0/conductor/pkg/discovery"
	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/llm"
	"github.com/aretw0/conductor/pkg/manifest"
	"github.com/aretw0/conductor/pkg/observability"
	"github.com/aretw0/conductor/pkg/persistence/middleware"
	"github.com/aretw0/conductor/pkg/ports"
	"github.com/aretw0/conductor/pkg/registry"
	"github.com/aretw0/conductor/pkg/stages"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/trace"
)

// App bundles the engine with the infrastructure the commands share.
type App struct {
	Engine      *conductor.Engine
	Store       ports.StateStore
	Broadcaster *observability.Broadcaster
	Metrics     *prometheus.Registry
	// Broker is nil unless rabbitmq.url is configured.
	Broker *rabbitmq.Conn
	Logger *slog.Logger

	closers []func() error
}

// AppOptions overrides pieces of the configured stack, mostly for tests.
type AppOptions struct {
	Logger *slog.Logger
	// Model replaces the Anthropic client built from cfg.LLM.
	Model llm.Model
	// Store replaces the configured store driver.
	Store          ports.StateStore
	TracerProvider trace.TracerProvider
	Hooks          domain.LifecycleHooks
}

// NewApp wires the store, model, searcher, manifest and hooks described by
// cfg into a ready engine.
func NewApp(ctx context.Context, cfg *config.Config, opts AppOptions) (_ *App, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = createLogger(cfg.LogLevel, cfg.LogFormat)
	}
	app := &App{Logger: logger, Metrics: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	store, locker, err := app.openStore(ctx, cfg.Store, opts.Store)
	if err != nil {
		return nil, err
	}
	app.Store = store

	model := opts.Model
	if model == nil {
		anthropic, err := llm.NewAnthropic(ctx, cfg.LLM)
		if err != nil {
			return nil, fmt.Errorf("llm: %w", err)
		}
		model = llm.NewBreaker(anthropic, "anthropic", cfg.Breaker, logger)
	}

	m, err := manifest.Load(cfg.Manifest)
	if err != nil {
		return nil, err
	}

	app.Broadcaster = observability.NewBroadcaster()
	metrics := observability.NewMetrics(app.Metrics)
	app.Metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hooks := []domain.LifecycleHooks{
		observability.LogHooks(logger),
		metrics.Hooks(),
		app.Broadcaster.Hooks(),
		opts.Hooks,
	}
	if cfg.RabbitMQ.URL != "" {
		conn, err := rabbitmq.Dial(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		app.Broker = conn
		app.closers = append(app.closers, conn.Close)
		hooks = append(hooks, rabbitmq.NewPublisher(conn.Channel(), cfg.RabbitMQ, rabbitmq.WithLogger(logger)).Hooks())
	}
	merged := domain.MergeHooks(hooks...)

	reg := registry.New()
	searcher, err := newSearcher(ctx, cfg.Discovery, reg)
	if err != nil {
		return nil, err
	}
	pipeline, err := m.Pipeline(stages.PipelineConfig{
		Model:    model,
		Searcher: searcher,
		Logger:   logger,
		Hooks:    merged,
		Limits:   cfg.Limits,
	})
	if err != nil {
		return nil, err
	}
	if err := stages.Register(reg, pipeline); err != nil {
		return nil, err
	}

	engineOpts := []conductor.Option{
		conductor.WithStore(store),
		conductor.WithLogger(logger),
		conductor.WithLifecycleHooks(merged),
		conductor.WithLimits(pipeline.Limits),
		conductor.WithLockTTL(cfg.Store.LockTTL),
	}
	if locker != nil {
		engineOpts = append(engineOpts, conductor.WithLocker(locker))
	}
	if opts.TracerProvider != nil {
		engineOpts = append(engineOpts, conductor.WithTracerProvider(opts.TracerProvider))
	}
	app.Engine, err = conductor.New(reg, engineOpts...)
	if err != nil {
		return nil, err
	}
	return app, nil
}

// OpenStore builds only the configured checkpoint store, for commands that
// inspect threads without running the pipeline.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (ports.StateStore, func() error, error) {
	app := &App{}
	store, _, err := app.openStore(ctx, cfg, nil)
	if err != nil {
		_ = app.Close()
		return nil, nil, err
	}
	return store, app.Close, nil
}

func (a *App) openStore(ctx context.Context, cfg config.StoreConfig, override ports.StateStore) (ports.StateStore, ports.DistributedLocker, error) {
	var (
		store  ports.StateStore
		locker ports.DistributedLocker
	)
	switch {
	case override != nil:
		store = override
	case cfg.Driver == config.DriverMemory:
		store = memory.NewStore()
	case cfg.Driver == config.DriverFile:
		store = file.New(cfg.Path)
	case cfg.Driver == config.DriverRedis:
		var ropts []redis.Option
		if cfg.Redis.Prefix != "" {
			ropts = append(ropts, redis.WithPrefix(cfg.Redis.Prefix))
		}
		if cfg.Redis.TTL > 0 {
			ropts = append(ropts, redis.WithTTL(cfg.Redis.TTL))
		}
		rs := redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, ropts...)
		a.closers = append(a.closers, rs.Close)
		store = rs
		prefix := cfg.Redis.Prefix
		if prefix == "" {
			prefix = redis.DefaultPrefix
		}
		locker = redis.NewLocker(rs.Client(), prefix)
	case cfg.Driver == config.DriverSQLite, cfg.Driver == config.DriverMySQL, cfg.Driver == config.DriverPostgres:
		var sopts []sqlstore.Option
		if cfg.Table != "" {
			sopts = append(sopts, sqlstore.WithTable(cfg.Table))
		}
		ss, err := sqlstore.Open(ctx, cfg.Driver, cfg.DSN, sopts...)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, ss.Close)
		store = ss
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	if cfg.EncryptionKey != "" {
		enc, err := encryptionConfig(cfg)
		if err != nil {
			return nil, nil, err
		}
		mw, err := middleware.NewEncryptionMiddleware(enc)
		if err != nil {
			return nil, nil, err
		}
		store = middleware.Chain(store, mw)
	}
	return store, locker, nil
}

func encryptionConfig(cfg config.StoreConfig) (middleware.EncryptionConfig, error) {
	active, err := config.DecodeKey(cfg.EncryptionKey)
	if err != nil {
		return middleware.EncryptionConfig{}, err
	}
	enc := middleware.EncryptionConfig{ActiveKey: active}
	for _, k := range cfg.FallbackKeys {
		key, err := config.DecodeKey(k)
		if err != nil {
			return middleware.EncryptionConfig{}, err
		}
		enc.FallbackKeys = append(enc.FallbackKeys, key)
	}
	return enc, nil
}

func newSearcher(ctx context.Context, cfg config.DiscoveryConfig, reg *registry.Registry) (ports.CapabilitySearcher, error) {
	switch cfg.Provider {
	case "", config.DiscoveryKeyword:
		return discovery.NewKeyword(reg.Agents), nil
	case config.DiscoveryGemini:
		emb, err := genai.New(ctx, cfg.Gemini)
		if err != nil {
			return nil, err
		}
		return discovery.NewEmbedding(emb, reg.Agents), nil
	}
	return nil, fmt.Errorf("unknown discovery provider %q", cfg.Provider)
}

// Close releases every connection the app opened.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
