package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/workpool"
	"github.com/xraph/workpool/claim"
	"github.com/xraph/workpool/codec"
	"github.com/xraph/workpool/dlq"
	"github.com/xraph/workpool/ext"
	"github.com/xraph/workpool/item"
	mw "github.com/xraph/workpool/middleware"
	"github.com/xraph/workpool/notify"
	"github.com/xraph/workpool/observability"
	"github.com/xraph/workpool/retry"
	"github.com/xraph/workpool/worker"
)

const instrumentationName = "github.com/xraph/workpool"

// Engine is the caller-facing work scheduler. Build one with New.
type Engine struct {
	store      item.Store
	config     workpool.Config
	logger     *slog.Logger
	codec      codec.Codec
	policy     retry.Policy
	extensions *ext.Registry
	registry   *item.Registry
	pools      *claim.Pools

	coordinator *claim.Coordinator
	executor    *worker.Executor
	reaper      *worker.Reaper
	janitor     *worker.Janitor
	pool        *worker.Pool
	notifier    *notify.Notifier
	dlqService  *dlq.Service

	// Build-time settings collected by options.
	poolConfigs    map[string]claim.Config
	exts           []ext.Extension
	mws            []mw.Middleware
	dispatch       bool
	maxInFlight    int
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the runtime configuration. Pools from cfg are
// merged with pools given by WithPool and WithPoolConfig, which win.
func WithConfig(cfg workpool.Config) Option {
	return func(eng *Engine) {
		eng.config = cfg
	}
}

// WithPool configures a pool's concurrency limit.
func WithPool(key string, limit int) Option {
	return func(eng *Engine) {
		cfg := eng.poolConfigs[key]
		cfg.Limit = limit
		eng.poolConfigs[key] = cfg
	}
}

// WithPoolConfig configures a pool's limit and claim rate.
func WithPoolConfig(key string, cfg claim.Config) Option {
	return func(eng *Engine) {
		eng.poolConfigs[key] = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) {
		eng.logger = l
	}
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.exts = append(eng.exts, e)
	}
}

// WithMiddleware adds middleware to the engine's chain. It runs inside the
// built-in recover, tracing, metrics and logging middleware.
func WithMiddleware(m ...mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m...)
	}
}

// WithRetryPolicy sets the retry policy. If not set, retry.DefaultPolicy()
// is used.
func WithRetryPolicy(p retry.Policy) Option {
	return func(eng *Engine) {
		eng.policy = p
	}
}

// WithCodec sets the payload and result codec. Every process sharing a
// ledger must use the same codec.
func WithCodec(c codec.Codec) Option {
	return func(eng *Engine) {
		eng.codec = c
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware and the observability extension. If not set, the global
// provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// WithDispatch enables or disables claiming. An engine with dispatch
// disabled still enqueues, reaps and purges, but never executes items.
func WithDispatch(enabled bool) Option {
	return func(eng *Engine) {
		eng.dispatch = enabled
	}
}

// WithMaxInFlight caps how many items this process executes at once
// across all pools. Zero means no local cap.
func WithMaxInFlight(n int) Option {
	return func(eng *Engine) {
		eng.maxInFlight = n
	}
}

// New creates an Engine over store.
func New(store item.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, workpool.ErrNoStore
	}

	eng := &Engine{
		store:       store,
		config:      workpool.DefaultConfig(),
		logger:      slog.Default(),
		codec:       codec.Default(),
		policy:      retry.DefaultPolicy(),
		poolConfigs: make(map[string]claim.Config),
		dispatch:    true,
	}
	for _, opt := range opts {
		opt(eng)
	}

	if err := eng.buildPools(); err != nil {
		return nil, err
	}
	if eng.config.DefaultMaxAttempts < 1 {
		eng.config.DefaultMaxAttempts = 1
	}

	eng.registry = item.NewRegistry(eng.codec)
	eng.notifier = notify.New(store, notify.WithLogger(eng.logger))
	eng.dlqService = dlq.NewService(store)

	eng.extensions = ext.NewRegistry(eng.logger)
	eng.extensions.Register(eng.notifier)
	eng.extensions.Register(eng.metricsExtension())
	for _, e := range eng.exts {
		eng.extensions.Register(e)
	}

	eng.executor = worker.NewExecutor(eng.registry, eng.extensions, store, eng.policy, eng.logger,
		worker.WithMiddleware(eng.middleware()...),
	)
	eng.coordinator = claim.NewCoordinator(store, eng.pools, claim.WithLogger(eng.logger))

	poolOpts := []worker.PoolOption{
		worker.WithDispatch(eng.dispatch),
		worker.WithMaxInFlight(eng.maxInFlight),
		worker.WithPollInterval(eng.config.PollInterval),
		worker.WithHeartbeatInterval(eng.config.HeartbeatInterval),
	}
	if eng.config.StaleThreshold > 0 {
		eng.reaper = worker.NewReaper(store, eng.policy, eng.extensions, eng.config.StaleThreshold, eng.logger)
		interval := eng.config.ReapInterval
		if interval <= 0 {
			interval = eng.config.StaleThreshold
		}
		poolOpts = append(poolOpts, worker.WithReaper(eng.reaper, interval))
	}
	eng.janitor = worker.NewJanitor(store, eng.config.Retention, eng.logger)
	if eng.config.Retention > 0 {
		poolOpts = append(poolOpts, worker.WithJanitor(eng.janitor, janitorInterval(eng.config.Retention)))
	}

	eng.pool = worker.NewPool(eng.coordinator, eng.executor, store, eng.extensions, eng.logger, poolOpts...)

	return eng, nil
}

func (eng *Engine) buildPools() error {
	eng.pools = claim.NewPools(nil)
	for key, limit := range eng.config.Pools {
		if _, override := eng.poolConfigs[key]; override {
			continue
		}
		if err := eng.pools.Set(key, claim.Config{Limit: limit}); err != nil {
			return err
		}
	}
	for key, cfg := range eng.poolConfigs {
		if err := eng.pools.Set(key, cfg); err != nil {
			return err
		}
	}
	return nil
}

// middleware builds the execution chain: recover → tracing → metrics →
// logging → caller middleware.
func (eng *Engine) middleware() []mw.Middleware {
	tracingMw := mw.Tracing()
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	}

	metricsMw := mw.Metrics()
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	}

	all := []mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
	}
	return append(all, eng.mws...)
}

func (eng *Engine) metricsExtension() *observability.MetricsExtension {
	if eng.meterProvider != nil {
		return observability.NewMetricsExtensionWithMeter(
			eng.meterProvider.Meter(instrumentationName + "/observability"))
	}
	return observability.NewMetricsExtension()
}

// janitorInterval purges a few times per retention window, at most hourly.
func janitorInterval(retention time.Duration) time.Duration {
	interval := retention / 4
	if interval > time.Hour {
		interval = time.Hour
	}
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

// Start begins claiming and the maintenance loops. It returns immediately.
func (eng *Engine) Start(ctx context.Context) error {
	eng.logger.Info("workpool engine starting",
		slog.String("worker_id", eng.pool.WorkerID().String()),
		slog.Any("pools", eng.pools.Keys()),
		slog.String("codec", eng.codec.Name()),
	)
	return eng.pool.Start(ctx)
}

// Stop stops claiming and waits for in-flight items. Without a deadline
// on ctx, Config.ShutdownTimeout bounds the wait.
func (eng *Engine) Stop(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok && eng.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eng.config.ShutdownTimeout)
		defer cancel()
	}

	err := eng.pool.Stop(ctx)
	eng.extensions.EmitShutdown(ctx)
	if err != nil {
		return fmt.Errorf("stop worker pool: %w", err)
	}
	return nil
}

// Config returns the engine's runtime configuration.
func (eng *Engine) Config() workpool.Config { return eng.config }

// Store returns the ledger.
func (eng *Engine) Store() item.Store { return eng.store }

// Logger returns the engine's logger.
func (eng *Engine) Logger() *slog.Logger { return eng.logger }

// Codec returns the payload codec.
func (eng *Engine) Codec() codec.Codec { return eng.codec }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the handler registry.
func (eng *Engine) Registry() *item.Registry { return eng.registry }

// Pools returns the pool registry.
func (eng *Engine) Pools() *claim.Pools { return eng.pools }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Notifier returns the completion notifier.
func (eng *Engine) Notifier() *notify.Notifier { return eng.notifier }

// DLQ returns the failed-item service.
func (eng *Engine) DLQ() *dlq.Service { return eng.dlqService }
