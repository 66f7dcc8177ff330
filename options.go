package tickerq

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher) error

// Storer is the minimal store interface held by the Dispatcher.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used in subsystem layers that don't create import
// cycles. Implementations satisfy store.Store which embeds all
// subsystem stores.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// loopRunner is an internal interface for the dispatch loop and worker
// pool lifecycle.
type loopRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// hookEmitter is an internal interface for lifecycle extension events.
type hookEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Dispatcher is the central coordinator for time jobs, cron occurrences,
// and distributed claiming.
//
// Create one with New() and functional options. The Dispatcher holds
// references to subsystem components via internal interfaces to avoid
// import cycles. Use engine.Build to wire everything together.
type Dispatcher struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions hookEmitter
	runners    []loopRunner

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Dispatcher with the given options.
func New(opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Logger returns the dispatcher's logger.
func (d *Dispatcher) Logger() *slog.Logger { return d.logger }

// Store returns the dispatcher's store.
func (d *Dispatcher) Store() Storer { return d.store }

// Config returns a copy of the dispatcher's configuration.
func (d *Dispatcher) Config() Config { return d.config }

// AddRunner registers a component with Start/Stop lifecycle
// (called by the engine package).
func (d *Dispatcher) AddRunner(r loopRunner) { d.runners = append(d.runners, r) }

// SetExtensions sets the extension emitter (called by the engine package).
func (d *Dispatcher) SetExtensions(e hookEmitter) { d.extensions = e }

// SetStore installs the store when none was configured at construction
// (called by the engine package so Stop closes the backend).
func (d *Dispatcher) SetStore(s Storer) {
	if d.store == nil {
		d.store = s
	}
}

// Start begins scheduling and job processing.
func (d *Dispatcher) Start(ctx context.Context) error {
	if len(d.runners) == 0 {
		return ErrNoStore
	}
	for _, r := range d.runners {
		if err := r.Start(ctx); err != nil {
			return err
		}
	}
	d.started = true
	return nil
}

// Stop gracefully shuts down the dispatcher: stop claiming new work,
// drain in-flight jobs up to the shutdown timeout, then cancel the rest.
// Leases on cancelled work are left to expire for another node to reclaim.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if d.started {
		// Stop in reverse registration order: scheduler first so no new
		// work is claimed while the pool drains.
		for i := len(d.runners) - 1; i >= 0; i-- {
			if err := d.runners[i].Stop(ctx); err != nil {
				d.logger.Error("runner stop error", "error", err)
			}
		}
	}
	if d.extensions != nil {
		d.extensions.EmitShutdown(ctx)
	}
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// WithConcurrency sets the maximum number of concurrently executing jobs.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) error {
		d.config.Concurrency = n
		return nil
	}
}

// WithLeaseDuration sets how long claimed jobs are owned before their
// lease expires.
func WithLeaseDuration(ttl time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.LeaseDuration = ttl
		return nil
	}
}

// WithHeartbeatInterval sets how often running jobs renew their lease.
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.HeartbeatInterval = interval
		return nil
	}
}

// WithGenerationHorizon sets how far ahead cron occurrences are
// materialized.
func WithGenerationHorizon(horizon time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.GenerationHorizon = horizon
		return nil
	}
}

// WithPollBatchSize sets the maximum number of due candidates fetched per
// dispatch cycle.
func WithPollBatchSize(n int) Option {
	return func(d *Dispatcher) error {
		d.config.PollBatchSize = n
		return nil
	}
}

// WithLogger sets the structured logger for the dispatcher.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) error {
		d.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the dispatcher.
// The store must implement Storer at minimum; typically it will be a
// store.Store which embeds all subsystem store interfaces.
func WithStore(s Storer) Option {
	return func(d *Dispatcher) error {
		d.store = s
		return nil
	}
}
