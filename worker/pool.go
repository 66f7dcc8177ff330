// Package worker executes claimed tasks on a bounded pool of slots.
// Submitted tasks wait in a priority queue (highest priority first,
// arrival order within a priority) until a slot frees. Each running task
// gets a heartbeat goroutine that renews its lease; losing the lease
// aborts the handler.
package worker

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/joe10832/TickerQ/throttle"
)

const (
	defaultConcurrency   = 8
	defaultHeartbeat     = 10 * time.Second
	defaultLeaseTTL      = 30 * time.Second
	defaultThrottleDelay = time.Second
)

// Pool runs tasks on a fixed number of slots.
type Pool struct {
	executor      *Executor
	throttle      *throttle.Manager
	logger        *slog.Logger
	concurrency   int
	heartbeat     time.Duration
	leaseTTL      time.Duration
	throttleDelay time.Duration
	onSlotFree    func()

	mu      sync.Mutex
	pending pendingHeap
	active  int
	seq     uint64
	running bool
	cancels map[string]context.CancelFunc

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets the number of slots.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithThrottle installs a per-function throttle manager.
func WithThrottle(m *throttle.Manager) PoolOption {
	return func(p *Pool) { p.throttle = m }
}

// WithHeartbeat sets the lease renewal interval and the ttl each renewal
// extends the lease by. The ttl should comfortably exceed the interval.
func WithHeartbeat(interval, ttl time.Duration) PoolOption {
	return func(p *Pool) {
		if interval > 0 {
			p.heartbeat = interval
		}
		if ttl > 0 {
			p.leaseTTL = ttl
		}
	}
}

// WithSlotFreeFunc registers a callback fired every time a task finishes.
// The scheduler uses it to claim more work as capacity opens up.
func WithSlotFreeFunc(fn func()) PoolOption {
	return func(p *Pool) { p.onSlotFree = fn }
}

// WithPoolLogger sets the pool's logger.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPool creates a pool around the given executor.
func NewPool(executor *Executor, opts ...PoolOption) *Pool {
	p := &Pool{
		executor:      executor,
		logger:        slog.Default(),
		concurrency:   defaultConcurrency,
		heartbeat:     defaultHeartbeat,
		leaseTTL:      defaultLeaseTTL,
		throttleDelay: defaultThrottleDelay,
		cancels:       make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start makes the pool accept submissions.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	p.baseCtx, p.baseCancel = context.WithCancel(context.WithoutCancel(ctx))
	p.running = true
	return nil
}

// Submit hands a claimed task to the pool. It starts immediately if a
// slot is free, otherwise it waits in the priority queue. Returns false
// if the pool is stopped.
func (p *Pool) Submit(t Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return false
	}
	if p.active < p.concurrency {
		p.active++
		p.wg.Add(1)
		go p.run(t)
		return true
	}
	p.seq++
	heap.Push(&p.pending, pendingItem{task: t, seq: p.seq})
	return true
}

// Free reports how many more tasks the pool can absorb without queueing.
// The scheduler claims at most this many entities per cycle.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	free := p.concurrency - p.active - p.pending.Len()
	if free < 0 {
		free = 0
	}
	return free
}

// Active returns the number of currently executing tasks.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Cancel aborts the task with the given ID. Running tasks have their
// context cancelled; queued tasks are removed from the pending queue and
// recorded as cancelled. Returns false if the pool is not holding the
// task.
func (p *Pool) Cancel(taskID, reason string) bool {
	p.mu.Lock()
	if cancel, ok := p.cancels[taskID]; ok {
		p.mu.Unlock()
		cancel()
		return true
	}
	for i := range p.pending {
		if p.pending[i].task.Info().ID.String() == taskID {
			it := heap.Remove(&p.pending, i).(pendingItem)
			p.mu.Unlock()
			if ok, err := it.task.Cancel(context.Background(), reason); err != nil || !ok {
				p.logger.Warn("cancel queued task", slog.String("task", taskID))
			}
			it.task.OnTerminal(context.Background())
			return true
		}
	}
	p.mu.Unlock()
	return false
}

// Stop drains the pool. Queued tasks are returned to the store so other
// nodes can claim them; running tasks get until ctx expires to finish,
// then have their contexts cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	var dropped []pendingItem
	for p.pending.Len() > 0 {
		dropped = append(dropped, heap.Pop(&p.pending).(pendingItem))
	}
	p.mu.Unlock()

	for _, it := range dropped {
		if _, err := it.task.Return(context.Background(), time.Now()); err != nil {
			p.logger.Error("return queued task on shutdown",
				slog.String("task", it.task.Info().ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.baseCancel()
		return nil
	case <-ctx.Done():
		p.baseCancel()
		<-done
		return ctx.Err()
	}
}

// run owns one slot: it executes the given task, then keeps draining the
// pending queue until it is empty.
func (p *Pool) run(t Task) {
	defer p.wg.Done()
	for {
		p.execute(t)
		if p.onSlotFree != nil {
			p.onSlotFree()
		}

		p.mu.Lock()
		if !p.running || p.pending.Len() == 0 {
			p.active--
			p.mu.Unlock()
			return
		}
		next := heap.Pop(&p.pending).(pendingItem)
		p.mu.Unlock()
		t = next.task
	}
}

func (p *Pool) execute(t Task) {
	info := t.Info()

	if p.throttle != nil && !p.throttle.Acquire(info.Function) {
		// Over the function's limit: give the task back with a short
		// hold so the next claim cycle does not immediately re-take it.
		at := time.Now().Add(p.throttleDelay)
		if ok, err := t.Return(context.Background(), at); err != nil {
			p.logger.Error("return throttled task",
				slog.String("task", info.ID.String()),
				slog.String("error", err.Error()),
			)
		} else if !ok {
			p.logger.Warn("throttled task lease lost",
				slog.String("task", info.ID.String()),
			)
		}
		return
	}

	ctx, cancel := context.WithCancel(p.baseCtx)
	key := info.ID.String()

	p.mu.Lock()
	p.cancels[key] = cancel
	p.mu.Unlock()

	hbDone := make(chan struct{})
	go p.heartbeatLoop(ctx, cancel, t, hbDone)

	p.executor.Execute(ctx, t)

	cancel()
	<-hbDone

	p.mu.Lock()
	delete(p.cancels, key)
	p.mu.Unlock()

	if p.throttle != nil {
		p.throttle.Release(info.Function)
	}
}

// heartbeatLoop renews the task's lease while it runs. A failed renewal
// (lease claimed by another node) cancels the execution context.
func (p *Pool) heartbeatLoop(ctx context.Context, cancel context.CancelFunc, t Task, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := t.RenewLease(ctx, p.leaseTTL)
			if err != nil {
				p.logger.Error("renew task lease",
					slog.String("task", t.Info().ID.String()),
					slog.String("error", err.Error()),
				)
				continue
			}
			if !ok {
				p.logger.Warn("task lease lost, aborting execution",
					slog.String("task", t.Info().ID.String()),
				)
				cancel()
				return
			}
		}
	}
}
