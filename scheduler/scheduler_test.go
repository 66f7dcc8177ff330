package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	tickerq "github.com/joe10832/TickerQ"
	"github.com/joe10832/TickerQ/ext"
	"github.com/joe10832/TickerQ/id"
	"github.com/joe10832/TickerQ/job"
	"github.com/joe10832/TickerQ/store/memory"
	"github.com/joe10832/TickerQ/worker"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newQueuedJob(t *testing.T, s job.Store, function string) *job.Job {
	t.Helper()
	j := &job.Job{
		Entity:    tickerq.NewEntity(),
		ID:        id.NewJobID(),
		Function:  function,
		Priority:  job.PriorityNormal,
		Status:    job.StatusQueued,
		ExecuteAt: time.Now().Add(-time.Second),
	}
	if err := s.CreateJob(context.Background(), j); err != nil {
		t.Fatal(err)
	}
	return j
}

func newTestPool(t *testing.T, ran *atomic.Int32) *worker.Pool {
	t.Helper()
	registry := job.NewRegistry()
	job.RegisterDefinition(registry, job.NewDefinition("noop",
		func(context.Context, struct{}) error {
			if ran != nil {
				ran.Add(1)
			}
			return nil
		}))
	exec := worker.NewExecutor(registry, ext.NewRegistry(quietLogger()), nil, quietLogger())
	p := worker.NewPool(exec,
		worker.WithConcurrency(2),
		worker.WithPoolLogger(quietLogger()),
	)
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Stop(context.Background()) })
	return p
}

// flakyJobStore fails the first failures DueJobs calls, then delegates.
type flakyJobStore struct {
	job.Store

	mu       sync.Mutex
	failures int
	calls    []time.Time
}

func (f *flakyJobStore) DueJobs(ctx context.Context, now time.Time, limit int) ([]*job.Job, error) {
	f.mu.Lock()
	f.calls = append(f.calls, time.Now())
	n := len(f.calls)
	f.mu.Unlock()
	if n <= f.failures {
		return nil, errors.New("dial tcp: connection refused")
	}
	return f.Store.DueJobs(ctx, now, limit)
}

func (f *flakyJobStore) callTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.calls...)
}

func TestStoreErrorBacksOffThenRecovers(t *testing.T) {
	mem := memory.New()
	flaky := &flakyJobStore{Store: mem, failures: 2}
	var ran atomic.Int32
	pool := newTestPool(t, &ran)

	s := New(flaky, mem, nil, pool, id.NewNodeID(), WithLogger(quietLogger()))
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 40 * time.Millisecond
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	s.storeBackoff = bo

	j := newQueuedJob(t, mem, "noop")

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(ctx)

	// The loop must survive the outage and run the job once the store
	// recovers.
	waitFor(t, 5*time.Second, func() bool {
		cur, err := mem.GetJob(ctx, j.ID)
		return err == nil && cur.Status == job.StatusDone
	})
	if ran.Load() != 1 {
		t.Fatalf("handler ran %d times, want 1", ran.Load())
	}

	calls := flaky.callTimes()
	if len(calls) < 3 {
		t.Fatalf("DueJobs called %d times, want at least 3", len(calls))
	}
	// The failed cycle must not retry immediately.
	if gap := calls[1].Sub(calls[0]); gap < 35*time.Millisecond {
		t.Fatalf("retried after %v, want at least the initial backoff", gap)
	}
}

func TestWakeRunsCycleBeforeIdleTimer(t *testing.T) {
	mem := memory.New()
	pool := newTestPool(t, nil)

	s := New(mem, mem, nil, pool, id.NewNodeID(),
		WithLogger(quietLogger()),
		WithMaxIdleWait(time.Minute),
	)

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(ctx)

	// Let the empty first cycle arm the minute-long idle timer.
	time.Sleep(50 * time.Millisecond)

	j := newQueuedJob(t, mem, "noop")
	s.Wake()

	// Far sooner than the idle timer would have fired.
	waitFor(t, 2*time.Second, func() bool {
		cur, err := mem.GetJob(ctx, j.ID)
		return err == nil && cur.Status == job.StatusDone
	})
}

// racingStore claims every job it reports due for a rival node before
// returning, so the caller's own claim attempts always lose.
type racingStore struct {
	job.Store
	rival id.NodeID
}

func (r *racingStore) DueJobs(ctx context.Context, now time.Time, limit int) ([]*job.Job, error) {
	due, err := r.Store.DueJobs(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	for _, j := range due {
		if _, err := r.Store.ClaimJob(ctx, j.ID, r.rival, time.Minute); err != nil {
			return nil, err
		}
	}
	return due, nil
}

func TestClaimLostToAnotherNodeIsSkipped(t *testing.T) {
	mem := memory.New()
	pool := newTestPool(t, nil)
	rival := id.NewNodeID()
	racing := &racingStore{Store: mem, rival: rival}

	s := New(racing, mem, nil, pool, id.NewNodeID(), WithLogger(quietLogger()))

	ctx := context.Background()
	j := newQueuedJob(t, mem, "noop")

	// Losing every claim is a silent drop, not a cycle failure.
	if err := s.dispatch(ctx, time.Now(), pool.Free()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	cur, err := mem.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cur.Lease == nil || cur.Lease.Owner != rival {
		t.Fatal("rival's lease must survive the lost claim")
	}
	if cur.Status != job.StatusInProgress {
		t.Fatalf("status = %s, want in_progress", cur.Status)
	}
}
