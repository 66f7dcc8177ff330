package job_test

import (
	"testing"
	"time"

	"github.com/joe10832/TickerQ/id"
	"github.com/joe10832/TickerQ/job"
)

func TestRetryPolicyDelaySequence(t *testing.T) {
	p := job.RetryPolicy{
		MaxRetries: 5,
		Delays:     []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		// Past the end of the sequence the last delay repeats.
		{3, 4 * time.Second},
		{10, 4 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryPolicyEmptyDelays(t *testing.T) {
	p := job.RetryPolicy{MaxRetries: 2}
	if got := p.Delay(0); got != 0 {
		t.Errorf("Delay(0) with no delays = %v, want 0", got)
	}
}

func TestRetryPolicyExhausted(t *testing.T) {
	p := job.RetryPolicy{MaxRetries: 2, Delays: []time.Duration{time.Second}}

	for attempt, want := range map[int]bool{0: false, 1: false, 2: true, 3: true} {
		if got := p.Exhausted(attempt); got != want {
			t.Errorf("Exhausted(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestClaimable(t *testing.T) {
	now := time.Now().UTC()

	base := func() *job.Job {
		return &job.Job{
			Status:    job.StatusQueued,
			ExecuteAt: now.Add(-time.Second),
		}
	}

	if j := base(); !j.Claimable(now) {
		t.Error("due queued job should be claimable")
	}

	if j := base(); func() bool { j.ExecuteAt = now.Add(time.Hour); return j.Claimable(now) }() {
		t.Error("future job should not be claimable")
	}

	if j := base(); func() bool {
		j.Status = job.StatusInProgress
		j.Lease = &job.Lease{Owner: id.NewNodeID(), ExpiresAt: now.Add(time.Minute)}
		return j.Claimable(now)
	}() {
		t.Error("job under a live lease should not be claimable")
	}

	if j := base(); func() bool {
		j.Status = job.StatusInProgress
		j.Lease = &job.Lease{Owner: id.NewNodeID(), ExpiresAt: now.Add(-time.Second)}
		return !j.Claimable(now)
	}() {
		t.Error("in-progress job with an expired lease should be reclaimable")
	}

	if j := base(); func() bool { j.Status = job.StatusDone; return j.Claimable(now) }() {
		t.Error("terminal job should not be claimable")
	}

	j := base()
	j.Lease = &job.Lease{ExpiresAt: now.Add(time.Minute)}
	// Owner is nil so the lease does not count as held.
	if !j.Claimable(now) {
		t.Error("job with ownerless lease should be claimable")
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := []job.Status{job.StatusDone, job.StatusFailed, job.StatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	live := []job.Status{job.StatusIdle, job.StatusQueued, job.StatusInProgress}
	for _, s := range live {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
