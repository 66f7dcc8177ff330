package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tickerq "github.com/joe10832/TickerQ"
	"github.com/joe10832/TickerQ/ext"
	"github.com/joe10832/TickerQ/id"
	"github.com/joe10832/TickerQ/job"
	"github.com/joe10832/TickerQ/throttle"
)

// fakeTask records transitions instead of persisting them.
type fakeTask struct {
	mu sync.Mutex

	info   ext.TaskInfo
	policy job.RetryPolicy

	completed    int
	rescheduled  []time.Time
	returned     []time.Time
	failed       []error
	cancelled    []string
	archived     []error
	terminal     int
	renewals     int
	renewOK      bool
	transitionOK bool
}

func newFakeTask(function string, priority job.Priority) *fakeTask {
	return &fakeTask{
		info: ext.TaskInfo{
			ID:       id.NewJobID(),
			Kind:     ext.KindJob,
			Function: function,
			Priority: priority,
		},
		policy:       job.RetryPolicy{MaxRetries: 2, Delays: []time.Duration{time.Millisecond}},
		renewOK:      true,
		transitionOK: true,
	}
}

func (f *fakeTask) Info() ext.TaskInfo { return f.info }

func (f *fakeTask) RetryPolicy() job.RetryPolicy { return f.policy }

func (f *fakeTask) Complete(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed++
	return f.transitionOK, nil
}

func (f *fakeTask) Reschedule(_ context.Context, at time.Time, _ error) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rescheduled = append(f.rescheduled, at)
	return f.transitionOK, nil
}

func (f *fakeTask) Return(_ context.Context, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.returned = append(f.returned, at)
	return f.transitionOK, nil
}

func (f *fakeTask) Fail(_ context.Context, err error) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, err)
	return f.transitionOK, nil
}

func (f *fakeTask) Cancel(_ context.Context, reason string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, reason)
	return f.transitionOK, nil
}

func (f *fakeTask) RenewLease(context.Context, time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renewals++
	return f.renewOK, nil
}

func (f *fakeTask) Archive(_ context.Context, err error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archived = append(f.archived, err)
	return nil
}

func (f *fakeTask) OnTerminal(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminal++
}

func (f *fakeTask) snapshot() fakeTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fakeTask{
		completed:   f.completed,
		rescheduled: append([]time.Time(nil), f.rescheduled...),
		returned:    append([]time.Time(nil), f.returned...),
		failed:      append([]error(nil), f.failed...),
		cancelled:   append([]string(nil), f.cancelled...),
		archived:    append([]error(nil), f.archived...),
		terminal:    f.terminal,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestExecutor(t *testing.T, registry *job.Registry) *Executor {
	t.Helper()
	return NewExecutor(registry, ext.NewRegistry(testLogger()), nil, testLogger())
}

// waitFor polls until cond returns true or the deadline passes.
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

func TestExecutorSuccess(t *testing.T) {
	registry := job.NewRegistry()
	job.RegisterDefinition(registry, &job.Definition[struct{}]{
		Name:    "noop",
		Handler: func(context.Context, struct{}) error { return nil },
	})

	task := newFakeTask("noop", job.PriorityNormal)
	newTestExecutor(t, registry).Execute(context.Background(), task)

	got := task.snapshot()
	if got.completed != 1 {
		t.Fatalf("completed = %d, want 1", got.completed)
	}
	if got.terminal != 1 {
		t.Fatalf("terminal notifications = %d, want 1", got.terminal)
	}
}

func TestExecutorRetriesThenFails(t *testing.T) {
	registry := job.NewRegistry()
	handlerErr := errors.New("boom")
	job.RegisterDefinition(registry, &job.Definition[struct{}]{
		Name:    "flaky",
		Handler: func(context.Context, struct{}) error { return handlerErr },
	})

	var failedEvents atomic.Int32
	extensions := ext.NewRegistry(testLogger())
	extensions.Register(ext.ExceptionHandlerFunc(func(context.Context, ext.TaskInfo, error) error {
		failedEvents.Add(1)
		return nil
	}))
	exec := NewExecutor(registry, extensions, nil, testLogger())

	// Attempts 0 and 1 should reschedule; attempt 2 exhausts the budget.
	task := newFakeTask("flaky", job.PriorityNormal)
	task.policy = job.RetryPolicy{MaxRetries: 2, Delays: []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}}

	for attempt := 0; attempt < 3; attempt++ {
		task.info.Attempt = attempt
		exec.Execute(context.Background(), task)
	}

	got := task.snapshot()
	if len(got.rescheduled) != 2 {
		t.Fatalf("reschedules = %d, want 2", len(got.rescheduled))
	}
	if len(got.failed) != 1 {
		t.Fatalf("permanent failures = %d, want 1", len(got.failed))
	}
	if !errors.Is(got.failed[0], handlerErr) {
		t.Fatalf("failure error = %v, want %v", got.failed[0], handlerErr)
	}
	if len(got.archived) != 1 {
		t.Fatalf("dead letter entries = %d, want 1", len(got.archived))
	}
	if failedEvents.Load() != 1 {
		t.Fatalf("TaskFailed hooks = %d, want exactly 1", failedEvents.Load())
	}
}

func TestExecutorRepeatsLastDelay(t *testing.T) {
	registry := job.NewRegistry()
	job.RegisterDefinition(registry, &job.Definition[struct{}]{
		Name:    "flaky",
		Handler: func(context.Context, struct{}) error { return errors.New("boom") },
	})
	exec := newTestExecutor(t, registry)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	exec.now = func() time.Time { return base }

	task := newFakeTask("flaky", job.PriorityNormal)
	task.policy = job.RetryPolicy{MaxRetries: 4, Delays: []time.Duration{time.Second, 2 * time.Second}}

	for attempt := 0; attempt < 4; attempt++ {
		task.info.Attempt = attempt
		exec.Execute(context.Background(), task)
	}

	want := []time.Time{
		base.Add(time.Second),
		base.Add(2 * time.Second),
		base.Add(2 * time.Second),
		base.Add(2 * time.Second),
	}
	got := task.snapshot()
	if len(got.rescheduled) != len(want) {
		t.Fatalf("reschedules = %d, want %d", len(got.rescheduled), len(want))
	}
	for i, at := range want {
		if !got.rescheduled[i].Equal(at) {
			t.Fatalf("reschedule %d at %v, want %v", i, got.rescheduled[i], at)
		}
	}
}

func TestExecutorUnregisteredFunctionFailsPermanently(t *testing.T) {
	task := newFakeTask("missing", job.PriorityNormal)
	newTestExecutor(t, job.NewRegistry()).Execute(context.Background(), task)

	got := task.snapshot()
	if len(got.failed) != 1 {
		t.Fatalf("failures = %d, want 1", len(got.failed))
	}
	if !errors.Is(got.failed[0], tickerq.ErrFunctionNotRegistered) {
		t.Fatalf("error = %v, want ErrFunctionNotRegistered", got.failed[0])
	}
	if len(got.rescheduled) != 0 {
		t.Fatal("unregistered function must not be retried")
	}
}

func TestPoolRunsHighestPriorityFirst(t *testing.T) {
	registry := job.NewRegistry()
	release := make(chan struct{})
	var mu sync.Mutex
	var order []string
	job.RegisterDefinition(registry, &job.Definition[struct{}]{
		Name: "blocker",
		Handler: func(ctx context.Context, _ struct{}) error {
			<-release
			return nil
		},
	})
	job.RegisterDefinition(registry, &job.Definition[string]{
		Name: "record",
		Handler: func(_ context.Context, label string) error {
			mu.Lock()
			order = append(order, label)
			mu.Unlock()
			return nil
		},
	})

	// The single slot is busy with the blocker, so the three queued
	// tasks must drain highest priority first.
	pool := NewPool(newTestExecutor(t, registry),
		WithConcurrency(1),
		WithPoolLogger(testLogger()),
	)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	blocker := newFakeTask("blocker", job.PriorityNormal)
	pool.Submit(blocker)

	low := newFakeTask("record", job.PriorityLow)
	low.info.Payload = []byte(`"low"`)
	normal := newFakeTask("record", job.PriorityNormal)
	normal.info.Payload = []byte(`"normal"`)
	high := newFakeTask("record", job.PriorityHigh)
	high.info.Payload = []byte(`"high"`)
	pool.Submit(low)
	pool.Submit(normal)
	pool.Submit(high)

	if free := pool.Free(); free != 0 {
		t.Fatalf("free slots = %d, want 0", free)
	}

	close(release)
	waitFor(t, 2*time.Second, func() bool {
		return low.snapshot().completed == 1
	})

	mu.Lock()
	got := append([]string(nil), order...)
	mu.Unlock()
	want := []string{"high", "normal", "low"}
	if len(got) != len(want) {
		t.Fatalf("executed %d tasks, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("execution order = %v, want %v", got, want)
		}
	}
	if err := pool.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	registry := job.NewRegistry()
	var running, peak atomic.Int32
	release := make(chan struct{})
	job.RegisterDefinition(registry, &job.Definition[struct{}]{
		Name: "hold",
		Handler: func(context.Context, struct{}) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			return nil
		},
	})

	pool := NewPool(newTestExecutor(t, registry),
		WithConcurrency(2),
		WithPoolLogger(testLogger()),
	)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	tasks := make([]*fakeTask, 4)
	for i := range tasks {
		tasks[i] = newFakeTask("hold", job.PriorityNormal)
		pool.Submit(tasks[i])
	}

	waitFor(t, 2*time.Second, func() bool { return running.Load() == 2 })
	close(release)
	waitFor(t, 2*time.Second, func() bool {
		for _, ft := range tasks {
			if ft.snapshot().completed != 1 {
				return false
			}
		}
		return true
	})

	if got := peak.Load(); got > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", got)
	}
	if err := pool.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestPoolCancelRunningTask(t *testing.T) {
	registry := job.NewRegistry()
	started := make(chan struct{})
	job.RegisterDefinition(registry, &job.Definition[struct{}]{
		Name: "wait",
		Handler: func(ctx context.Context, _ struct{}) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	})

	pool := NewPool(newTestExecutor(t, registry),
		WithConcurrency(1),
		WithPoolLogger(testLogger()),
	)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	task := newFakeTask("wait", job.PriorityNormal)
	pool.Submit(task)
	<-started

	if !pool.Cancel(task.Info().ID.String(), "requested") {
		t.Fatal("Cancel should find the running task")
	}
	waitFor(t, 2*time.Second, func() bool {
		return len(task.snapshot().cancelled) == 1
	})

	got := task.snapshot()
	if len(got.failed) != 0 || len(got.rescheduled) != 0 {
		t.Fatal("cancellation must not consume a retry or record a failure")
	}
	if err := pool.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestPoolThrottleReturnsTask(t *testing.T) {
	registry := job.NewRegistry()
	job.RegisterDefinition(registry, &job.Definition[struct{}]{
		Name:    "limited",
		Handler: func(context.Context, struct{}) error { return nil },
	})

	limits := throttle.NewManager(throttle.Config{
		Function:  "limited",
		RateLimit: 0.0001, // effectively one start, then refuse
		RateBurst: 1,
	})
	pool := NewPool(newTestExecutor(t, registry),
		WithConcurrency(2),
		WithThrottle(limits),
		WithPoolLogger(testLogger()),
	)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	first := newFakeTask("limited", job.PriorityNormal)
	second := newFakeTask("limited", job.PriorityNormal)
	pool.Submit(first)
	pool.Submit(second)

	waitFor(t, 2*time.Second, func() bool {
		a, b := first.snapshot(), second.snapshot()
		return a.completed+b.completed == 1 && len(a.returned)+len(b.returned) == 1
	})
	if err := pool.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestPoolStopReturnsQueuedTasks(t *testing.T) {
	registry := job.NewRegistry()
	release := make(chan struct{})
	job.RegisterDefinition(registry, &job.Definition[struct{}]{
		Name: "blocker",
		Handler: func(context.Context, struct{}) error {
			<-release
			return nil
		},
	})

	pool := NewPool(newTestExecutor(t, registry),
		WithConcurrency(1),
		WithPoolLogger(testLogger()),
	)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	blocker := newFakeTask("blocker", job.PriorityNormal)
	queued := newFakeTask("blocker", job.PriorityNormal)
	pool.Submit(blocker)
	pool.Submit(queued)

	done := make(chan error, 1)
	go func() { done <- pool.Stop(context.Background()) }()

	waitFor(t, 2*time.Second, func() bool {
		return len(queued.snapshot().returned) == 1
	})
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if queued.snapshot().completed != 0 {
		t.Fatal("queued task must not run after Stop")
	}
}
