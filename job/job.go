package job

import (
	"time"

	tickerq "github.com/joe10832/TickerQ"
	"github.com/joe10832/TickerQ/id"
)

// Status represents the lifecycle state of a job or occurrence.
type Status string

const (
	// StatusIdle means the job exists but is not yet eligible for
	// claiming. Batch children stay Idle until their run condition is
	// satisfied.
	StatusIdle Status = "idle"
	// StatusQueued means the job is eligible for claiming once its
	// execution time passes.
	StatusQueued Status = "queued"
	// StatusInProgress means a node holds an unexpired lease on the job
	// and is executing it.
	StatusInProgress Status = "in_progress"
	// StatusDone means the job finished successfully.
	StatusDone Status = "done"
	// StatusFailed means the job failed permanently and will not be
	// retried.
	StatusFailed Status = "failed"
	// StatusCancelled means the job was cancelled before or during
	// execution.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a terminal state. Terminal jobs are
// immutable except for audit fields.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCancelled
}

// Priority orders dispatch when multiple jobs are due at the same instant.
// Higher values dispatch first.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
)

// String returns the lowercase name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// RunCondition gates a batch child on the outcome of its parent.
type RunCondition string

const (
	// RunOnSuccess releases the child only when the parent reaches Done.
	RunOnSuccess RunCondition = "on_success"
	// RunAlways releases the child when the parent reaches any terminal
	// state.
	RunAlways RunCondition = "always"
	// RunAllSiblingsSucceeded releases the child only when the parent and
	// every other child of the same parent have reached Done.
	RunAllSiblingsSucceeded RunCondition = "all_siblings_succeeded"
)

// Lease is a time-bounded ownership claim used for distributed mutual
// exclusion. A lease is valid only while now < ExpiresAt; an expired lease
// makes the job claimable again regardless of prior owner.
type Lease struct {
	Owner     id.NodeID `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Held reports whether the lease is owned and unexpired at the given time.
func (l *Lease) Held(now time.Time) bool {
	return l != nil && !l.Owner.IsNil() && now.Before(l.ExpiresAt)
}

// Job represents a time job: work scheduled to fire at most once at a
// specific instant.
type Job struct {
	tickerq.Entity

	ID       id.JobID    `json:"id"`
	Function string      `json:"function"`
	Payload  []byte      `json:"payload,omitempty"`
	Priority Priority    `json:"priority"`
	Status   Status      `json:"status"`
	Retry    RetryPolicy `json:"retry"`

	// ExecuteAt is the instant the job becomes due.
	ExecuteAt time.Time `json:"execute_at"`

	// Attempt counts executions so far (0 before the first run).
	Attempt   int    `json:"attempt"`
	LastError string `json:"last_error,omitempty"`

	// Lease is non-nil only while the job is claimed.
	Lease *Lease `json:"lease,omitempty"`

	// Batch linkage. A job with a non-nil ParentID is a batch child and
	// stays Idle until the coordinator releases it.
	ParentID     id.JobID     `json:"parent_id,omitempty"`
	RunCondition RunCondition `json:"run_condition,omitempty"`
	CancelReason string       `json:"cancel_reason,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Claimable reports whether the job may be claimed at the given time:
// due, in a claimable state, not under an unexpired lease, and not a
// gated batch child.
func (j *Job) Claimable(now time.Time) bool {
	switch j.Status {
	case StatusIdle, StatusQueued:
	case StatusInProgress:
		// A dead node's job becomes reclaimable once its lease expires.
	default:
		return false
	}
	if j.ExecuteAt.After(now) {
		return false
	}
	if j.Lease.Held(now) {
		return false
	}
	// Batch children are admitted only after the coordinator queues them.
	if !j.ParentID.IsNil() && j.Status == StatusIdle {
		return false
	}
	return true
}
