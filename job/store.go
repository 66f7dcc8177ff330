package job

import (
	"context"
	"time"

	"github.com/joe10832/TickerQ/id"
)

// ListOpts controls pagination for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Status filters by job status. Empty means all statuses.
	Status Status
	// Function filters by function name. Empty means all functions.
	Function string
}

// Store defines the persistence contract for time jobs.
//
// The claim and owned-update operations are the engine's sole
// cross-node coordination mechanism: they must be implemented as atomic
// conditional updates (compare-and-swap) against the backing store.
type Store interface {
	// CreateJob persists a new job.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob persists changes to an existing job unconditionally.
	// Execution-side transitions must use UpdateJobOwned instead.
	UpdateJob(ctx context.Context, j *Job) error

	// DeleteJob removes a job by ID.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// DueJobs returns up to limit claimable jobs at the given instant:
	// status Idle or Queued, ExecuteAt <= now, no unexpired lease, and
	// batch children only once queued by the coordinator. Ordering is
	// ExecuteAt ascending, then priority descending, then id ascending.
	// Fairness-by-age comes first; priority is only a tiebreak.
	DueJobs(ctx context.Context, now time.Time, limit int) ([]*Job, error)

	// ClaimJob atomically transitions the job to InProgress under a lease
	// (owner + now+ttl expiry) if and only if it is still claimable.
	// Returns false without error when another node won the race or the
	// job is no longer claimable.
	ClaimJob(ctx context.Context, jobID id.JobID, owner id.NodeID, ttl time.Duration) (bool, error)

	// RenewJobLease extends the lease expiry to now+ttl if the job is
	// InProgress and still owned by owner. Returns false when the lease
	// was lost.
	RenewJobLease(ctx context.Context, jobID id.JobID, owner id.NodeID, ttl time.Duration) (bool, error)

	// UpdateJobOwned persists changes to a claimed job only while owner
	// still holds an unexpired lease on it. Returns false when the lease
	// was lost; the write is then discarded (the reclaiming node owns the
	// job's state).
	UpdateJobOwned(ctx context.Context, j *Job, owner id.NodeID) (bool, error)

	// ListJobsByStatus returns jobs matching the given status, ordered by
	// creation time.
	ListJobsByStatus(ctx context.Context, status Status, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)

	// ChildJobs returns the direct batch children of the given parent.
	ChildJobs(ctx context.Context, parentID id.JobID) ([]*Job, error)

	// EarliestJobDue returns the earliest ExecuteAt among unclaimed
	// claimable jobs due after now, or nil when there is none. The
	// dispatch loop uses it to arm its wake timer.
	EarliestJobDue(ctx context.Context, now time.Time) (*time.Time, error)
}
