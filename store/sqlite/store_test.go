package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	tickerq "github.com/joe10832/TickerQ"
	"github.com/joe10832/TickerQ/cron"
	"github.com/joe10832/TickerQ/id"
	"github.com/joe10832/TickerQ/job"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "tickerq.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s
}

func newJob(fn string, priority job.Priority, at time.Time) *job.Job {
	return &job.Job{
		Entity:    tickerq.NewEntity(),
		ID:        id.NewJobID(),
		Function:  fn,
		Priority:  priority,
		Status:    job.StatusQueued,
		Retry:     job.DefaultRetryPolicy(),
		ExecuteAt: at,
	}
}

func TestJobRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := newJob("send-email", job.PriorityHigh, time.Now().UTC())
	j.Retry = job.RetryPolicy{MaxRetries: 2, Delays: []time.Duration{time.Second, 2 * time.Second}}
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateJob(ctx, j); !errors.Is(err, tickerq.ErrJobAlreadyExists) {
		t.Fatalf("duplicate create err = %v, want ErrJobAlreadyExists", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Function != "send-email" || got.Priority != job.PriorityHigh {
		t.Fatalf("got function=%q priority=%v", got.Function, got.Priority)
	}
	if len(got.Retry.Delays) != 2 || got.Retry.Delays[1] != 2*time.Second {
		t.Fatalf("retry delays = %v", got.Retry.Delays)
	}

	if err := s.DeleteJob(ctx, j.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetJob(ctx, j.ID); !errors.Is(err, tickerq.ErrJobNotFound) {
		t.Fatalf("get deleted err = %v, want ErrJobNotFound", err)
	}
}

func TestClaimJobSingleWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := newJob("contested", job.PriorityNormal, time.Now().UTC().Add(-time.Second))
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatal(err)
	}

	first, second := id.NewNodeID(), id.NewNodeID()
	if ok, err := s.ClaimJob(ctx, j.ID, first, time.Minute); err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	if ok, err := s.ClaimJob(ctx, j.ID, second, time.Minute); err != nil || ok {
		t.Fatalf("second claim: ok=%v err=%v, want lost race", ok, err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != job.StatusInProgress {
		t.Fatalf("status = %s, want in_progress", got.Status)
	}
	if got.Lease == nil || got.Lease.Owner != first {
		t.Fatal("lease owner should be the winning node")
	}
	if got.StartedAt == nil {
		t.Fatal("claim should stamp StartedAt")
	}
}

func TestClaimJobAfterLeaseExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := newJob("abandoned", job.PriorityNormal, time.Now().UTC().Add(-time.Minute))
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatal(err)
	}

	first := id.NewNodeID()
	if ok, _ := s.ClaimJob(ctx, j.ID, first, 20*time.Millisecond); !ok {
		t.Fatal("first claim should succeed")
	}

	second := id.NewNodeID()
	if ok, _ := s.ClaimJob(ctx, j.ID, second, time.Minute); ok {
		t.Fatal("claim must fail while the lease is held")
	}

	time.Sleep(50 * time.Millisecond)
	if ok, err := s.ClaimJob(ctx, j.ID, second, time.Minute); err != nil || !ok {
		t.Fatalf("reclaim after lease expiry: ok=%v err=%v", ok, err)
	}
}

func TestOwnedWritesAreFenced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := newJob("fenced", job.PriorityNormal, time.Now().UTC().Add(-time.Second))
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatal(err)
	}

	owner, stale := id.NewNodeID(), id.NewNodeID()
	if ok, _ := s.ClaimJob(ctx, j.ID, owner, time.Minute); !ok {
		t.Fatal("claim should succeed")
	}
	if ok, err := s.RenewJobLease(ctx, j.ID, owner, time.Minute); err != nil || !ok {
		t.Fatalf("owner renewal: ok=%v err=%v", ok, err)
	}
	if ok, err := s.RenewJobLease(ctx, j.ID, stale, time.Minute); err != nil || ok {
		t.Fatalf("stale renewal: ok=%v err=%v, want rejected", ok, err)
	}

	done, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	done.Status = job.StatusDone
	done.Attempt = 1
	done.CompletedAt = &now
	done.Lease = nil

	if ok, err := s.UpdateJobOwned(ctx, done, stale); err != nil || ok {
		t.Fatalf("stale owned write: ok=%v err=%v, want discarded", ok, err)
	}
	if ok, err := s.UpdateJobOwned(ctx, done, owner); err != nil || !ok {
		t.Fatalf("owner write: ok=%v err=%v", ok, err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != job.StatusDone || got.Attempt != 1 {
		t.Fatalf("status=%s attempt=%d after owned write", got.Status, got.Attempt)
	}
	if got.Lease != nil {
		t.Fatal("completed job should not hold a lease")
	}

	// The lease is released; no further owned writes are possible.
	if ok, _ := s.UpdateJobOwned(ctx, got, owner); ok {
		t.Fatal("owned write after release must be rejected")
	}
}

func TestClaimMissingJobIsLostRace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := id.NewNodeID()

	if ok, err := s.ClaimJob(ctx, id.NewJobID(), owner, time.Minute); ok || err != nil {
		t.Fatalf("claim of missing job = (%v, %v), want (false, nil)", ok, err)
	}
	if ok, err := s.RenewJobLease(ctx, id.NewJobID(), owner, time.Minute); ok || err != nil {
		t.Fatalf("renew of missing job = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestDueJobsOrderingAndGating(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	older := newJob("older", job.PriorityLow, now.Add(-2*time.Minute))
	lowTie := newJob("low", job.PriorityLow, now.Add(-time.Minute))
	highTie := newJob("high", job.PriorityHigh, now.Add(-time.Minute))
	future := newJob("future", job.PriorityHigh, now.Add(time.Hour))

	parent := newJob("parent", job.PriorityNormal, now.Add(-time.Minute))
	child := newJob("child", job.PriorityNormal, now.Add(-time.Minute))
	child.ParentID = parent.ID
	child.Status = job.StatusIdle
	child.RunCondition = job.RunOnSuccess

	for _, j := range []*job.Job{lowTie, highTie, older, future, parent, child} {
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	due, err := s.DueJobs(ctx, now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 4 {
		t.Fatalf("due = %d jobs, want 4", len(due))
	}
	if due[0].Function != "older" {
		t.Fatalf("first due = %s, want older", due[0].Function)
	}
	for _, j := range due {
		if j.ID == child.ID {
			t.Fatal("idle batch child must not be selectable")
		}
	}
}

func TestOccurrenceUniquenessAndClaim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	def := &cron.Definition{
		Entity:     tickerq.NewEntity(),
		ID:         id.NewDefinitionID(),
		Name:       "nightly-report",
		Function:   "report",
		Expression: "0 2 * * *",
		Priority:   job.PriorityNormal,
		Active:     true,
	}
	if err := s.CreateDefinition(ctx, def); err != nil {
		t.Fatal(err)
	}

	slot := time.Now().UTC().Truncate(time.Minute).Add(-time.Minute)
	first := &cron.Occurrence{
		Entity:       tickerq.NewEntity(),
		ID:           id.NewOccurrenceID(),
		DefinitionID: def.ID,
		SlotAt:       slot,
		DueAt:        slot,
		Function:     "report",
		Priority:     job.PriorityNormal,
		Status:       job.StatusQueued,
	}
	if err := s.CreateOccurrence(ctx, first); err != nil {
		t.Fatal(err)
	}

	dup := &cron.Occurrence{
		Entity:       tickerq.NewEntity(),
		ID:           id.NewOccurrenceID(),
		DefinitionID: def.ID,
		SlotAt:       slot,
		DueAt:        slot,
		Function:     "report",
		Priority:     job.PriorityNormal,
		Status:       job.StatusQueued,
	}
	if err := s.CreateOccurrence(ctx, dup); !errors.Is(err, tickerq.ErrDuplicateOccurrence) {
		t.Fatalf("duplicate slot err = %v, want ErrDuplicateOccurrence", err)
	}

	owner, rival := id.NewNodeID(), id.NewNodeID()
	if ok, err := s.ClaimOccurrence(ctx, first.ID, owner, time.Minute); err != nil || !ok {
		t.Fatalf("claim occurrence: ok=%v err=%v", ok, err)
	}
	if ok, _ := s.ClaimOccurrence(ctx, first.ID, rival, time.Minute); ok {
		t.Fatal("second occurrence claim must lose")
	}

	got, err := s.GetOccurrence(ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	got.Status = job.StatusDone
	got.Attempt = 1
	got.CompletedAt = &now
	got.Lease = nil
	if ok, err := s.UpdateOccurrenceOwned(ctx, got, rival); err != nil || ok {
		t.Fatalf("rival owned write: ok=%v err=%v, want discarded", ok, err)
	}
	if ok, err := s.UpdateOccurrenceOwned(ctx, got, owner); err != nil || !ok {
		t.Fatalf("owner owned write: ok=%v err=%v", ok, err)
	}

	final, err := s.GetOccurrence(ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != job.StatusDone {
		t.Fatalf("status = %s, want done", final.Status)
	}
	// SlotAt is immutable through owned writes.
	if !final.SlotAt.Equal(slot) {
		t.Fatalf("slot_at = %v, want %v", final.SlotAt, slot)
	}
}
