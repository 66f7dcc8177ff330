package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tickerq "github.com/joe10832/TickerQ"
	"github.com/joe10832/TickerQ/cluster"
	"github.com/joe10832/TickerQ/cron"
	"github.com/joe10832/TickerQ/dlq"
	"github.com/joe10832/TickerQ/id"
	"github.com/joe10832/TickerQ/job"
)

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

func TestJobCRUD(t *testing.T) {
	s := New()
	ctx := context.Background()

	j := newJob("send-email", job.PriorityNormal, time.Now())
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
	if got.Function != "send-email" {
		t.Fatalf("function = %q", got.Function)
	}

	// Mutating the returned copy must not leak into the store.
	got.Function = "changed"
	again, _ := s.GetJob(ctx, j.ID)
	if again.Function != "send-email" {
		t.Fatal("store state leaked through a returned pointer")
	}

	if err := s.DeleteJob(ctx, j.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetJob(ctx, j.ID); !errors.Is(err, tickerq.ErrJobNotFound) {
		t.Fatalf("get deleted err = %v, want ErrJobNotFound", err)
	}
}

func TestDueJobsOrdering(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	older := newJob("older", job.PriorityLow, now.Add(-2*time.Minute))
	lowTie := newJob("low", job.PriorityLow, now.Add(-time.Minute))
	highTie := newJob("high", job.PriorityHigh, now.Add(-time.Minute))
	future := newJob("future", job.PriorityHigh, now.Add(time.Hour))
	for _, j := range []*job.Job{lowTie, highTie, older, future} {
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	due, err := s.DueJobs(ctx, now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 3 {
		t.Fatalf("due = %d jobs, want 3", len(due))
	}
	// Age wins over priority; priority breaks the tie at the same instant.
	if due[0].Function != "older" || due[1].Function != "high" || due[2].Function != "low" {
		t.Fatalf("order = %s, %s, %s", due[0].Function, due[1].Function, due[2].Function)
	}
}

func TestDueJobsExcludesGatedChildren(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	parent := newJob("parent", job.PriorityNormal, now.Add(-time.Minute))
	child := newJob("child", job.PriorityNormal, now.Add(-time.Minute))
	child.ParentID = parent.ID
	child.Status = job.StatusIdle
	child.RunCondition = job.RunOnSuccess
	if err := s.CreateJob(ctx, parent); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateJob(ctx, child); err != nil {
		t.Fatal(err)
	}

	due, err := s.DueJobs(ctx, now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ID != parent.ID {
		t.Fatalf("due should contain only the parent, got %d jobs", len(due))
	}

	// Queue the child the way the coordinator does and it becomes due.
	child.Status = job.StatusQueued
	if err := s.UpdateJob(ctx, child); err != nil {
		t.Fatal(err)
	}
	due, _ = s.DueJobs(ctx, now, 10)
	if len(due) != 2 {
		t.Fatalf("due = %d jobs after release, want 2", len(due))
	}
}

func TestClaimJobSingleWinner(t *testing.T) {
	s := New()
	ctx := context.Background()

	j := newJob("contested", job.PriorityNormal, time.Now().Add(-time.Second))
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatal(err)
	}

	const nodes = 16
	var wg sync.WaitGroup
	wins := make(chan id.NodeID, nodes)
	for i := 0; i < nodes; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			owner := id.NewNodeID()
			ok, err := s.ClaimJob(ctx, j.ID, owner, 30*time.Second)
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				wins <- owner
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []id.NodeID
	for w := range wins {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("claim winners = %d, want exactly 1", len(winners))
	}

	got, _ := s.GetJob(ctx, j.ID)
	if got.Status != job.StatusInProgress {
		t.Fatalf("status = %s, want in_progress", got.Status)
	}
	if got.Lease == nil || got.Lease.Owner != winners[0] {
		t.Fatal("lease owner does not match the winning node")
	}
	if got.StartedAt == nil {
		t.Fatal("claim should stamp StartedAt")
	}
}

func TestClaimJobAfterLeaseExpiry(t *testing.T) {
	s := New()
	ctx := context.Background()

	j := newJob("abandoned", job.PriorityNormal, time.Now().Add(-time.Minute))
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatal(err)
	}

	first := id.NewNodeID()
	if ok, _ := s.ClaimJob(ctx, j.ID, first, 10*time.Millisecond); !ok {
		t.Fatal("first claim should succeed")
	}

	second := id.NewNodeID()
	if ok, _ := s.ClaimJob(ctx, j.ID, second, time.Minute); ok {
		t.Fatal("claim must fail while the lease is held")
	}

	time.Sleep(20 * time.Millisecond)
	if ok, _ := s.ClaimJob(ctx, j.ID, second, time.Minute); !ok {
		t.Fatal("claim should succeed after the lease expired")
	}

	// The first node's writes are now fenced off.
	j2, _ := s.GetJob(ctx, j.ID)
	j2.Status = job.StatusDone
	if ok, _ := s.UpdateJobOwned(ctx, j2, first); ok {
		t.Fatal("stale owner write must be discarded")
	}
	if ok, _ := s.RenewJobLease(ctx, j.ID, first, time.Minute); ok {
		t.Fatal("stale owner renewal must fail")
	}
	if ok, err := s.UpdateJobOwned(ctx, j2, second); err != nil || !ok {
		t.Fatalf("current owner write rejected: ok=%v err=%v", ok, err)
	}
}

func TestClaimDeletedRowIsLostRaceNotError(t *testing.T) {
	s := New()
	ctx := context.Background()
	owner := id.NewNodeID()

	j := newJob("gone", job.PriorityNormal, time.Now().Add(-time.Second))
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteJob(ctx, j.ID); err != nil {
		t.Fatal(err)
	}

	if ok, err := s.ClaimJob(ctx, j.ID, owner, time.Minute); ok || err != nil {
		t.Fatalf("claim of deleted job = (%v, %v), want (false, nil)", ok, err)
	}
	if ok, err := s.RenewJobLease(ctx, j.ID, owner, time.Minute); ok || err != nil {
		t.Fatalf("renew on deleted job = (%v, %v), want (false, nil)", ok, err)
	}
	if ok, err := s.UpdateJobOwned(ctx, j, owner); ok || err != nil {
		t.Fatalf("owned update on deleted job = (%v, %v), want (false, nil)", ok, err)
	}

	missing := id.NewOccurrenceID()
	if ok, err := s.ClaimOccurrence(ctx, missing, owner, time.Minute); ok || err != nil {
		t.Fatalf("claim of missing occurrence = (%v, %v), want (false, nil)", ok, err)
	}
	if ok, err := s.RenewOccurrenceLease(ctx, missing, owner, time.Minute); ok || err != nil {
		t.Fatalf("renew on missing occurrence = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestOccurrenceUniqueness(t *testing.T) {
	s := New()
	ctx := context.Background()
	defID := id.NewDefinitionID()
	slot := time.Now().Truncate(time.Minute)

	first := &cron.Occurrence{
		Entity:       tickerq.NewEntity(),
		ID:           id.NewOccurrenceID(),
		DefinitionID: defID,
		SlotAt:       slot,
		DueAt:        slot,
		Function:     "report",
		Status:       job.StatusQueued,
	}
	if err := s.CreateOccurrence(ctx, first); err != nil {
		t.Fatal(err)
	}

	dup := &cron.Occurrence{
		Entity:       tickerq.NewEntity(),
		ID:           id.NewOccurrenceID(),
		DefinitionID: defID,
		SlotAt:       slot,
		DueAt:        slot,
		Function:     "report",
		Status:       job.StatusQueued,
	}
	if err := s.CreateOccurrence(ctx, dup); !errors.Is(err, tickerq.ErrDuplicateOccurrence) {
		t.Fatalf("duplicate slot err = %v, want ErrDuplicateOccurrence", err)
	}

	// A retried occurrence keeps its slot: moving DueAt must not free
	// the uniqueness key.
	first.DueAt = slot.Add(30 * time.Second)
	owner := id.NewNodeID()
	if ok, _ := s.ClaimOccurrence(ctx, first.ID, owner, time.Minute); !ok {
		t.Fatal("claim failed")
	}
	if ok, err := s.UpdateOccurrenceOwned(ctx, first, owner); err != nil || !ok {
		t.Fatalf("owned update rejected: ok=%v err=%v", ok, err)
	}
	if err := s.CreateOccurrence(ctx, dup); !errors.Is(err, tickerq.ErrDuplicateOccurrence) {
		t.Fatal("slot must stay taken after a retry moved DueAt")
	}

	latest, err := s.LatestOccurrenceFor(ctx, defID)
	if err != nil {
		t.Fatal(err)
	}
	if latest == nil || !latest.Equal(slot) {
		t.Fatalf("latest slot = %v, want %v", latest, slot)
	}
}

func TestDefinitionNameUnique(t *testing.T) {
	s := New()
	ctx := context.Background()

	d := &cron.Definition{
		Entity:     tickerq.NewEntity(),
		ID:         id.NewDefinitionID(),
		Name:       "nightly-report",
		Function:   "report",
		Expression: "0 3 * * *",
		Active:     true,
	}
	if err := s.CreateDefinition(ctx, d); err != nil {
		t.Fatal(err)
	}

	dup := &cron.Definition{
		Entity:     tickerq.NewEntity(),
		ID:         id.NewDefinitionID(),
		Name:       "nightly-report",
		Function:   "report",
		Expression: "0 4 * * *",
	}
	if err := s.CreateDefinition(ctx, dup); !errors.Is(err, tickerq.ErrDuplicateDefinition) {
		t.Fatalf("duplicate name err = %v, want ErrDuplicateDefinition", err)
	}

	inactive := &cron.Definition{
		Entity:     tickerq.NewEntity(),
		ID:         id.NewDefinitionID(),
		Name:       "paused",
		Function:   "report",
		Expression: "@hourly",
		Active:     false,
	}
	if err := s.CreateDefinition(ctx, inactive); err != nil {
		t.Fatal(err)
	}

	active, err := s.ListDefinitions(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].Name != "nightly-report" {
		t.Fatalf("active definitions = %d, want just nightly-report", len(active))
	}
}

func TestDLQReplayAndPurge(t *testing.T) {
	s := New()
	ctx := context.Background()

	old := &dlq.Entry{
		ID:       id.NewDLQID(),
		Function: "old",
		Error:    "boom",
		FailedAt: time.Now().Add(-48 * time.Hour),
	}
	fresh := &dlq.Entry{
		ID:       id.NewDLQID(),
		Function: "fresh",
		Error:    "boom",
		FailedAt: time.Now(),
	}
	for _, e := range []*dlq.Entry{old, fresh} {
		if err := s.PushDLQ(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.ReplayDLQ(ctx, fresh.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetDLQ(ctx, fresh.ID)
	if got.ReplayedAt == nil {
		t.Fatal("replay should stamp ReplayedAt")
	}

	n, err := s.PurgeDLQ(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("purged = %d, want 1", n)
	}
	if total, _ := s.CountDLQ(ctx); total != 1 {
		t.Fatalf("remaining = %d, want 1", total)
	}
}

func TestReapDeadNodes(t *testing.T) {
	s := New()
	ctx := context.Background()

	alive := &cluster.Node{ID: id.NewNodeID(), State: cluster.NodeActive, LastSeen: time.Now()}
	stale := &cluster.Node{ID: id.NewNodeID(), State: cluster.NodeActive, LastSeen: time.Now().Add(-time.Hour)}
	for _, n := range []*cluster.Node{alive, stale} {
		if err := s.RegisterNode(ctx, n); err != nil {
			t.Fatal(err)
		}
	}

	reaped, err := s.ReapDeadNodes(ctx, 5*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(reaped) != 1 || reaped[0].ID != stale.ID {
		t.Fatalf("reaped %d nodes, want just the stale one", len(reaped))
	}

	// Heartbeating a reaped node revives it.
	if err := s.HeartbeatNode(ctx, stale.ID); err != nil {
		t.Fatal(err)
	}
	nodes, _ := s.ListNodes(ctx)
	for _, n := range nodes {
		if n.ID == stale.ID && n.State != cluster.NodeActive {
			t.Fatalf("revived node state = %s, want active", n.State)
		}
	}
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	s := New()
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.DueJobs(context.Background(), time.Now(), 1); !errors.Is(err, tickerq.ErrStoreClosed) {
		t.Fatalf("err = %v, want ErrStoreClosed", err)
	}
	if err := s.Ping(context.Background()); !errors.Is(err, tickerq.ErrStoreClosed) {
		t.Fatalf("ping err = %v, want ErrStoreClosed", err)
	}
}
