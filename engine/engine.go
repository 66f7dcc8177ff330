// Package engine wires the subsystems into a runnable deployment: store,
// function registry, middleware chain, worker pool, dispatch loop, batch
// coordinator, dead letter service, and cluster membership.
//
// Typical use:
//
//	d, _ := tickerq.New(tickerq.WithConcurrency(16))
//	e, _ := engine.Build(d, postgres.New(pool))
//	engine.RegisterFunction(e, "send-email", sendEmail)
//	e.Start(ctx)
//	defer e.Stop(context.Background())
//	e.ScheduleJob(ctx, "send-email", email, engine.At(time.Now().Add(time.Hour)))
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tickerq "github.com/joe10832/TickerQ"
	"github.com/joe10832/TickerQ/batch"
	"github.com/joe10832/TickerQ/cluster"
	"github.com/joe10832/TickerQ/cron"
	"github.com/joe10832/TickerQ/dlq"
	"github.com/joe10832/TickerQ/ext"
	"github.com/joe10832/TickerQ/id"
	"github.com/joe10832/TickerQ/job"
	"github.com/joe10832/TickerQ/middleware"
	"github.com/joe10832/TickerQ/scheduler"
	"github.com/joe10832/TickerQ/store"
	"github.com/joe10832/TickerQ/throttle"
	"github.com/joe10832/TickerQ/worker"
)

// Engine is a fully wired deployment bound to one store and one node
// identity.
type Engine struct {
	dispatcher  *tickerq.Dispatcher
	store       store.Store
	registry    *job.Registry
	extensions  *ext.Registry
	pool        *worker.Pool
	sched       *scheduler.Scheduler
	generator   *cron.Generator
	coordinator *batch.Coordinator
	dlqSvc      *dlq.Service
	membership  *cluster.Membership
	limits      *throttle.Manager
	nodeID      id.NodeID
	logger      *slog.Logger
	cfg         tickerq.Config
}

type buildOptions struct {
	middlewares       []middleware.Middleware
	extensions        []ext.Extension
	throttles         []throttle.Config
	disableMembership bool
}

// Option configures Build.
type Option func(*buildOptions)

// WithMiddleware appends task middleware. The engine always installs
// panic recovery and per-function timeouts as the outermost layers;
// these run inside them, in the order given.
func WithMiddleware(mw ...middleware.Middleware) Option {
	return func(o *buildOptions) { o.middlewares = append(o.middlewares, mw...) }
}

// WithExtensions registers lifecycle extensions.
func WithExtensions(exts ...ext.Extension) Option {
	return func(o *buildOptions) { o.extensions = append(o.extensions, exts...) }
}

// WithExceptionHandler registers a function called exactly once per
// permanently failed task.
func WithExceptionHandler(fn ext.ExceptionHandlerFunc) Option {
	return func(o *buildOptions) { o.extensions = append(o.extensions, fn) }
}

// WithThrottleLimits installs per-function concurrency and rate limits.
func WithThrottleLimits(cfgs ...throttle.Config) Option {
	return func(o *buildOptions) { o.throttles = append(o.throttles, cfgs...) }
}

// WithoutMembership disables cluster node registration, for
// single-process deployments on the memory store.
func WithoutMembership() Option {
	return func(o *buildOptions) { o.disableMembership = true }
}

// Build wires an Engine onto the given dispatcher and store. The
// dispatcher contributes configuration, logging, and lifecycle; the
// store is the shared coordination point between nodes.
func Build(d *tickerq.Dispatcher, st store.Store, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, tickerq.ErrNoStore
	}
	if d == nil {
		var err error
		if d, err = tickerq.New(); err != nil {
			return nil, err
		}
	}

	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg := d.Config()
	logger := d.Logger()

	e := &Engine{
		dispatcher: d,
		store:      st,
		registry:   job.NewRegistry(),
		extensions: ext.NewRegistry(logger),
		nodeID:     id.NewNodeID(),
		logger:     logger,
		cfg:        cfg,
	}
	for _, x := range o.extensions {
		e.extensions.Register(x)
	}

	e.limits = throttle.NewManager(o.throttles...)
	e.dlqSvc = dlq.NewService(st, st)
	e.generator = cron.NewGenerator(st, logger,
		cron.WithHorizon(cfg.GenerationHorizon),
		cron.WithMaxPerDefinition(cfg.GenerationMax),
	)
	e.coordinator = batch.NewCoordinator(st,
		batch.WithLogger(logger),
		batch.WithWakeFunc(e.Wake),
	)

	chain := middleware.Chain(append(
		[]middleware.Middleware{
			middleware.Recover(logger),
			middleware.Timeout(logger),
		},
		o.middlewares...,
	)...)
	executor := worker.NewExecutor(e.registry, e.extensions, chain, logger)

	e.pool = worker.NewPool(executor,
		worker.WithConcurrency(cfg.Concurrency),
		worker.WithHeartbeat(cfg.HeartbeatInterval, cfg.LeaseDuration),
		worker.WithThrottle(e.limits),
		worker.WithSlotFreeFunc(e.Wake),
		worker.WithPoolLogger(logger),
	)

	refresh := cfg.GenerationHorizon / 2
	if refresh <= 0 {
		refresh = time.Minute
	}
	e.sched = scheduler.New(st, st, e.generator, e.pool, e.nodeID,
		scheduler.WithLeaseTTL(cfg.LeaseDuration),
		scheduler.WithPollBatchSize(cfg.PollBatchSize),
		scheduler.WithRefreshInterval(refresh),
		scheduler.WithDLQ(e.dlqSvc),
		scheduler.WithTerminalNotifier(e.coordinator),
		scheduler.WithLogger(logger),
	)

	d.SetStore(st)
	d.SetExtensions(e.extensions)

	// Registration order matters: Stop runs in reverse, so the loop
	// stops claiming first and the pool drains last.
	d.AddRunner(e.pool)
	if !o.disableMembership {
		e.membership = cluster.NewMembership(st, e.nodeID, logger,
			cluster.WithConcurrency(cfg.Concurrency),
		)
		d.AddRunner(e.membership)
	}
	d.AddRunner(e.sched)

	return e, nil
}

// Start migrates the store and launches the pool, membership, and
// dispatch loop.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: %v", tickerq.ErrMigrationFailed, err)
	}
	if err := e.dispatcher.Start(ctx); err != nil {
		return err
	}
	e.logger.Info("engine started",
		slog.String("node", e.nodeID.String()),
		slog.Int("concurrency", e.cfg.Concurrency),
	)
	return nil
}

// Stop shuts the engine down gracefully: the dispatch loop stops
// claiming, in-flight work gets the configured shutdown timeout to
// finish, then remaining executions are cancelled and the store closed.
func (e *Engine) Stop(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok && e.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ShutdownTimeout)
		defer cancel()
	}
	return e.dispatcher.Stop(ctx)
}

// Wake nudges the dispatch loop. Exposed for components that change
// what is due (scheduling, batch release).
func (e *Engine) Wake() {
	if e.sched != nil {
		e.sched.Wake()
	}
}

// NodeID returns this engine's cluster identity.
func (e *Engine) NodeID() id.NodeID { return e.nodeID }

// DLQ returns the dead letter service.
func (e *Engine) DLQ() *dlq.Service { return e.dlqSvc }

// Throttle returns the per-function limit manager for runtime tuning.
func (e *Engine) Throttle() *throttle.Manager { return e.limits }

// Nodes lists the cluster's registered nodes.
func (e *Engine) Nodes(ctx context.Context) ([]*cluster.Node, error) {
	return e.store.ListNodes(ctx)
}

// RegisterFunction registers a typed handler under a function name.
// This is a package-level generic function because Go does not allow
// generic methods.
func RegisterFunction[T any](e *Engine, name string, handler func(ctx context.Context, payload T) error, opts ...job.Option) {
	job.RegisterDefinition(e.registry, job.NewDefinition(name, handler, opts...))
}
