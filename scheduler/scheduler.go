// Package scheduler runs the dispatch loop: it materializes upcoming
// cron occurrences, selects due work, claims it with lease
// compare-and-swap writes, and hands claimed tasks to the worker pool.
//
// There is no leader election. Every node runs the same loop against the
// shared store; per-entity claims decide who executes what.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/joe10832/TickerQ/cron"
	"github.com/joe10832/TickerQ/dlq"
	"github.com/joe10832/TickerQ/id"
	"github.com/joe10832/TickerQ/job"
	"github.com/joe10832/TickerQ/worker"
)

const (
	defaultLeaseTTL     = 30 * time.Second
	defaultPollBatch    = 64
	defaultRefreshEvery = 5 * time.Minute
	defaultMaxIdleWait  = time.Minute

	// minWake bounds how tightly the loop can spin.
	minWake = 10 * time.Millisecond
)

// Scheduler is the per-node dispatch loop.
type Scheduler struct {
	jobs      job.Store
	crons     cron.Store
	generator *cron.Generator
	pool      *worker.Pool
	dlqSvc    *dlq.Service
	notify    TerminalNotifier
	nodeID    id.NodeID
	logger    *slog.Logger

	leaseTTL     time.Duration
	pollBatch    int
	refreshEvery time.Duration
	maxIdleWait  time.Duration

	storeBackoff *backoff.ExponentialBackOff
	nextRefresh  time.Time
	now          func() time.Time

	mu      sync.Mutex
	running bool
	wakeCh  chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLeaseTTL sets the lease duration used when claiming work.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(s *Scheduler) {
		if ttl > 0 {
			s.leaseTTL = ttl
		}
	}
}

// WithPollBatchSize caps how many due entities are fetched per cycle.
func WithPollBatchSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.pollBatch = n
		}
	}
}

// WithRefreshInterval sets how often upcoming occurrences are
// rematerialized. It should be at most half the generator's horizon so
// the planned window never drains.
func WithRefreshInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.refreshEvery = d
		}
	}
}

// WithMaxIdleWait bounds how long the loop sleeps when the store reports
// no upcoming work.
func WithMaxIdleWait(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.maxIdleWait = d
		}
	}
}

// WithDLQ installs the dead letter service used when claimed tasks fail
// permanently.
func WithDLQ(svc *dlq.Service) Option {
	return func(s *Scheduler) { s.dlqSvc = svc }
}

// WithTerminalNotifier installs the batch coordinator callback.
func WithTerminalNotifier(n TerminalNotifier) Option {
	return func(s *Scheduler) { s.notify = n }
}

// WithLogger sets the scheduler's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a scheduler for the given node. generator may be nil when
// the deployment runs time jobs only.
func New(jobs job.Store, crons cron.Store, generator *cron.Generator, pool *worker.Pool, nodeID id.NodeID, opts ...Option) *Scheduler {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // retry until the store comes back

	s := &Scheduler{
		jobs:         jobs,
		crons:        crons,
		generator:    generator,
		pool:         pool,
		nodeID:       nodeID,
		logger:       slog.Default(),
		leaseTTL:     defaultLeaseTTL,
		pollBatch:    defaultPollBatch,
		refreshEvery: defaultRefreshEvery,
		maxIdleWait:  defaultMaxIdleWait,
		storeBackoff: bo,
		now:          time.Now,
		wakeCh:       make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the dispatch loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	go s.loop()
	return nil
}

// Stop halts the loop. It does not stop the pool; the engine drains the
// pool separately so in-flight tasks can finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	select {
	case <-s.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wake nudges the loop to run a cycle now. Called when new work is
// scheduled with an earlier due time than the armed timer, and by the
// pool when a slot frees.
func (s *Scheduler) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	defer close(s.doneCh)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-timer.C:
		case <-s.wakeCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		next := s.cycle(context.Background())
		d := time.Until(next)
		if d < minWake {
			d = minWake
		}
		timer.Reset(d)
	}
}

// cycle runs one dispatch pass and returns the next wake time.
func (s *Scheduler) cycle(ctx context.Context) time.Time {
	now := s.now()

	if s.generator != nil && !now.Before(s.nextRefresh) {
		if err := s.generator.Refresh(ctx, now); err != nil {
			return s.storeFailure(now, "refresh occurrences", err)
		}
		s.nextRefresh = now.Add(s.refreshEvery)
	}

	if free := s.pool.Free(); free > 0 {
		if err := s.dispatch(ctx, now, free); err != nil {
			return s.storeFailure(now, "dispatch due work", err)
		}
	}

	next, err := s.nextWake(ctx, now)
	if err != nil {
		return s.storeFailure(now, "compute next wake", err)
	}
	s.storeBackoff.Reset()
	return next
}

// storeFailure logs a store error and backs the loop off exponentially.
// The backoff resets on the first fully successful cycle.
func (s *Scheduler) storeFailure(now time.Time, op string, err error) time.Time {
	wait := s.storeBackoff.NextBackOff()
	s.logger.Error("store unavailable, backing off",
		slog.String("op", op),
		slog.Duration("wait", wait),
		slog.String("error", err.Error()),
	)
	return now.Add(wait)
}

// candidate is a due entity awaiting a claim attempt, unified across
// jobs and occurrences so one ordered pass serves both.
type candidate struct {
	due      time.Time
	priority job.Priority
	key      string
	claim    func(ctx context.Context) (worker.Task, bool, error)
}

func (s *Scheduler) dispatch(ctx context.Context, now time.Time, free int) error {
	limit := free
	if limit > s.pollBatch {
		limit = s.pollBatch
	}

	dueJobs, err := s.jobs.DueJobs(ctx, now, limit)
	if err != nil {
		return err
	}
	dueOccs, err := s.crons.DueOccurrences(ctx, now, limit)
	if err != nil {
		return err
	}

	cands := make([]candidate, 0, len(dueJobs)+len(dueOccs))
	for _, j := range dueJobs {
		cands = append(cands, candidate{
			due:      j.ExecuteAt,
			priority: j.Priority,
			key:      j.ID.String(),
			claim:    s.claimJob(j),
		})
	}
	for _, o := range dueOccs {
		cands = append(cands, candidate{
			due:      o.DueAt,
			priority: o.Priority,
			key:      o.ID.String(),
			claim:    s.claimOccurrence(o),
		})
	}

	// Oldest due first; priority breaks ties at the same instant, then
	// ID for a stable total order across nodes.
	sort.Slice(cands, func(i, j int) bool {
		if !cands[i].due.Equal(cands[j].due) {
			return cands[i].due.Before(cands[j].due)
		}
		if cands[i].priority != cands[j].priority {
			return cands[i].priority > cands[j].priority
		}
		return cands[i].key < cands[j].key
	})

	claimed := 0
	for _, c := range cands {
		if claimed >= limit {
			break
		}
		task, ok, err := c.claim(ctx)
		if err != nil {
			return err
		}
		if !ok {
			// Another node won the claim. Not an error.
			continue
		}
		if !s.pool.Submit(task) {
			// Pool is stopping; put the claim back for other nodes.
			if _, retErr := task.Return(ctx, now); retErr != nil {
				s.logger.Error("return task after pool stop",
					slog.String("task", c.key),
					slog.String("error", retErr.Error()),
				)
			}
			break
		}
		claimed++
	}

	// A full fetch likely means more work is already due.
	if len(dueJobs) == limit || len(dueOccs) == limit {
		s.Wake()
	}
	return nil
}

// claimJob returns a claim attempt for a due time job. On success the
// local copy mirrors the store's claim transition so later owned writes
// carry consistent state.
func (s *Scheduler) claimJob(j *job.Job) func(ctx context.Context) (worker.Task, bool, error) {
	return func(ctx context.Context) (worker.Task, bool, error) {
		ok, err := s.jobs.ClaimJob(ctx, j.ID, s.nodeID, s.leaseTTL)
		if err != nil || !ok {
			return nil, false, err
		}
		now := s.now()
		j.Status = job.StatusInProgress
		j.Lease = &job.Lease{Owner: s.nodeID, ExpiresAt: now.Add(s.leaseTTL)}
		if j.StartedAt == nil {
			j.StartedAt = &now
		}
		return &jobTask{
			j:      j,
			jobs:   s.jobs,
			dlq:    s.dlqSvc,
			notify: s.notify,
			owner:  s.nodeID,
			now:    s.now,
		}, true, nil
	}
}

func (s *Scheduler) claimOccurrence(o *cron.Occurrence) func(ctx context.Context) (worker.Task, bool, error) {
	return func(ctx context.Context) (worker.Task, bool, error) {
		ok, err := s.crons.ClaimOccurrence(ctx, o.ID, s.nodeID, s.leaseTTL)
		if err != nil || !ok {
			return nil, false, err
		}
		now := s.now()
		o.Status = job.StatusInProgress
		o.Lease = &job.Lease{Owner: s.nodeID, ExpiresAt: now.Add(s.leaseTTL)}
		if o.StartedAt == nil {
			o.StartedAt = &now
		}
		return &occurrenceTask{
			o:     o,
			crons: s.crons,
			dlq:   s.dlqSvc,
			owner: s.nodeID,
			now:   s.now,
		}, true, nil
	}
}

// nextWake computes when the loop should run again: the earliest
// upcoming due time across jobs and occurrences, the next occurrence
// refresh, or the idle cap, whichever comes first.
func (s *Scheduler) nextWake(ctx context.Context, now time.Time) (time.Time, error) {
	next := now.Add(s.maxIdleWait)

	if jobDue, err := s.jobs.EarliestJobDue(ctx, now); err != nil {
		return time.Time{}, err
	} else if jobDue != nil && jobDue.Before(next) {
		next = *jobDue
	}

	if occDue, err := s.crons.EarliestOccurrenceDue(ctx, now); err != nil {
		return time.Time{}, err
	} else if occDue != nil && occDue.Before(next) {
		next = *occDue
	}

	if s.generator != nil && s.nextRefresh.Before(next) {
		next = s.nextRefresh
	}
	return next, nil
}
