package batch

import (
	"context"
	"testing"
	"time"

	tickerq "github.com/joe10832/TickerQ"
	"github.com/joe10832/TickerQ/id"
	"github.com/joe10832/TickerQ/job"
	"github.com/joe10832/TickerQ/store/memory"
)

func makeJob(t *testing.T, s *memory.Store, status job.Status) *job.Job {
	t.Helper()
	j := &job.Job{
		Entity:    tickerq.NewEntity(),
		ID:        id.NewJobID(),
		Function:  "step",
		Status:    status,
		ExecuteAt: time.Now().Add(-time.Minute),
	}
	if err := s.CreateJob(context.Background(), j); err != nil {
		t.Fatal(err)
	}
	return j
}

func makeChild(t *testing.T, s *memory.Store, parent *job.Job, cond job.RunCondition) *job.Job {
	t.Helper()
	j := &job.Job{
		Entity:       tickerq.NewEntity(),
		ID:           id.NewJobID(),
		Function:     "step",
		Status:       job.StatusIdle,
		ParentID:     parent.ID,
		RunCondition: cond,
	}
	if err := s.CreateJob(context.Background(), j); err != nil {
		t.Fatal(err)
	}
	return j
}

func getStatus(t *testing.T, s *memory.Store, jobID id.JobID) job.Status {
	t.Helper()
	j, err := s.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatal(err)
	}
	return j.Status
}

func TestOnSuccessChildReleasedWhenParentDone(t *testing.T) {
	s := memory.New()
	parent := makeJob(t, s, job.StatusDone)
	child := makeChild(t, s, parent, job.RunOnSuccess)

	woken := false
	c := NewCoordinator(s, WithWakeFunc(func() { woken = true }))
	c.JobFinished(context.Background(), parent.ID)

	if got := getStatus(t, s, child.ID); got != job.StatusQueued {
		t.Fatalf("child status = %s, want queued", got)
	}
	if !woken {
		t.Fatal("releasing a child should wake the dispatch loop")
	}

	released, err := s.GetJob(context.Background(), child.ID)
	if err != nil {
		t.Fatal(err)
	}
	if released.ExecuteAt.IsZero() {
		t.Fatal("released child must have a due time")
	}
}

func TestOnSuccessChildCancelledWhenParentFailed(t *testing.T) {
	s := memory.New()
	parent := makeJob(t, s, job.StatusFailed)
	child := makeChild(t, s, parent, job.RunOnSuccess)

	c := NewCoordinator(s)
	c.JobFinished(context.Background(), parent.ID)

	got, _ := s.GetJob(context.Background(), child.ID)
	if got.Status != job.StatusCancelled {
		t.Fatalf("child status = %s, want cancelled", got.Status)
	}
	if got.CancelReason == "" {
		t.Fatal("cancelled child should carry a reason")
	}
}

func TestAlwaysChildRunsRegardlessOfParentOutcome(t *testing.T) {
	for _, status := range []job.Status{job.StatusDone, job.StatusFailed, job.StatusCancelled} {
		s := memory.New()
		parent := makeJob(t, s, status)
		child := makeChild(t, s, parent, job.RunAlways)

		NewCoordinator(s).JobFinished(context.Background(), parent.ID)

		if got := getStatus(t, s, child.ID); got != job.StatusQueued {
			t.Fatalf("parent %s: child status = %s, want queued", status, got)
		}
	}
}

func TestAllSiblingsSucceededWaitsForSiblings(t *testing.T) {
	s := memory.New()
	parent := makeJob(t, s, job.StatusDone)
	sibling := makeChild(t, s, parent, job.RunOnSuccess)
	gated := makeChild(t, s, parent, job.RunAllSiblingsSucceeded)

	c := NewCoordinator(s)
	c.JobFinished(context.Background(), parent.ID)

	// The sibling was just released and has not finished: the gated
	// child must keep waiting.
	if got := getStatus(t, s, gated.ID); got != job.StatusIdle {
		t.Fatalf("gated child status = %s, want idle while sibling runs", got)
	}

	// Sibling succeeds; finishing it re-evaluates the sibling set.
	sib, _ := s.GetJob(context.Background(), sibling.ID)
	sib.Status = job.StatusDone
	if err := s.UpdateJob(context.Background(), sib); err != nil {
		t.Fatal(err)
	}
	c.JobFinished(context.Background(), sibling.ID)

	if got := getStatus(t, s, gated.ID); got != job.StatusQueued {
		t.Fatalf("gated child status = %s, want queued after siblings done", got)
	}
}

func TestAllSiblingsSucceededCancelsOnFailedSibling(t *testing.T) {
	s := memory.New()
	parent := makeJob(t, s, job.StatusDone)
	sibling := makeChild(t, s, parent, job.RunOnSuccess)
	gated := makeChild(t, s, parent, job.RunAllSiblingsSucceeded)

	sib, _ := s.GetJob(context.Background(), sibling.ID)
	sib.Status = job.StatusFailed
	if err := s.UpdateJob(context.Background(), sib); err != nil {
		t.Fatal(err)
	}

	c := NewCoordinator(s)
	c.JobFinished(context.Background(), sibling.ID)

	if got := getStatus(t, s, gated.ID); got != job.StatusCancelled {
		t.Fatalf("gated child status = %s, want cancelled", got)
	}
}

func TestCancellationCascadesWithNormalRules(t *testing.T) {
	s := memory.New()
	parent := makeJob(t, s, job.StatusFailed)
	child := makeChild(t, s, parent, job.RunOnSuccess)
	onSuccessGrandchild := makeChild(t, s, child, job.RunOnSuccess)
	alwaysGrandchild := makeChild(t, s, child, job.RunAlways)

	NewCoordinator(s).JobFinished(context.Background(), parent.ID)

	if got := getStatus(t, s, child.ID); got != job.StatusCancelled {
		t.Fatalf("child status = %s, want cancelled", got)
	}
	// Cancellation is terminal: OnSuccess descendants cascade into
	// cancellation, Always descendants still run.
	if got := getStatus(t, s, onSuccessGrandchild.ID); got != job.StatusCancelled {
		t.Fatalf("on-success grandchild = %s, want cancelled", got)
	}
	if got := getStatus(t, s, alwaysGrandchild.ID); got != job.StatusQueued {
		t.Fatalf("always grandchild = %s, want queued", got)
	}
}

func TestNonTerminalJobIsIgnored(t *testing.T) {
	s := memory.New()
	parent := makeJob(t, s, job.StatusInProgress)
	child := makeChild(t, s, parent, job.RunAlways)

	NewCoordinator(s).JobFinished(context.Background(), parent.ID)

	if got := getStatus(t, s, child.ID); got != job.StatusIdle {
		t.Fatalf("child status = %s, want idle", got)
	}
}
