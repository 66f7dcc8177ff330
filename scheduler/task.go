package scheduler

import (
	"context"
	"time"

	"github.com/joe10832/TickerQ/cron"
	"github.com/joe10832/TickerQ/dlq"
	"github.com/joe10832/TickerQ/ext"
	"github.com/joe10832/TickerQ/id"
	"github.com/joe10832/TickerQ/job"
	"github.com/joe10832/TickerQ/worker"
)

// TerminalNotifier is told when a time job reaches a terminal state.
// The batch coordinator implements it to release or cancel gated
// children.
type TerminalNotifier interface {
	JobFinished(ctx context.Context, jobID id.JobID)
}

// jobTask adapts a claimed time job to the worker's task contract. All
// state transitions go through UpdateJobOwned so a write that races a
// lease takeover is discarded rather than applied.
type jobTask struct {
	j      *job.Job
	jobs   job.Store
	dlq    *dlq.Service
	notify TerminalNotifier
	owner  id.NodeID
	now    func() time.Time
}

var _ worker.Task = (*jobTask)(nil)

func (t *jobTask) Info() ext.TaskInfo {
	return ext.TaskInfo{
		ID:       t.j.ID,
		Kind:     ext.KindJob,
		Function: t.j.Function,
		Priority: t.j.Priority,
		Attempt:  t.j.Attempt,
		Payload:  t.j.Payload,
	}
}

func (t *jobTask) RetryPolicy() job.RetryPolicy { return t.j.Retry }

func (t *jobTask) Complete(ctx context.Context) (bool, error) {
	now := t.now()
	t.j.Status = job.StatusDone
	t.j.Attempt++
	t.j.LastError = ""
	t.j.CompletedAt = &now
	t.j.Lease = nil
	t.j.Touch()
	return t.jobs.UpdateJobOwned(ctx, t.j, t.owner)
}

func (t *jobTask) Reschedule(ctx context.Context, at time.Time, taskErr error) (bool, error) {
	t.j.Status = job.StatusQueued
	t.j.ExecuteAt = at
	t.j.Attempt++
	t.j.LastError = taskErr.Error()
	t.j.Lease = nil
	t.j.Touch()
	return t.jobs.UpdateJobOwned(ctx, t.j, t.owner)
}

func (t *jobTask) Return(ctx context.Context, at time.Time) (bool, error) {
	t.j.Status = job.StatusQueued
	t.j.ExecuteAt = at
	t.j.Lease = nil
	t.j.Touch()
	return t.jobs.UpdateJobOwned(ctx, t.j, t.owner)
}

func (t *jobTask) Fail(ctx context.Context, taskErr error) (bool, error) {
	now := t.now()
	t.j.Status = job.StatusFailed
	t.j.Attempt++
	t.j.LastError = taskErr.Error()
	t.j.CompletedAt = &now
	t.j.Lease = nil
	t.j.Touch()
	return t.jobs.UpdateJobOwned(ctx, t.j, t.owner)
}

func (t *jobTask) Cancel(ctx context.Context, reason string) (bool, error) {
	now := t.now()
	t.j.Status = job.StatusCancelled
	t.j.CancelReason = reason
	t.j.CompletedAt = &now
	t.j.Lease = nil
	t.j.Touch()
	return t.jobs.UpdateJobOwned(ctx, t.j, t.owner)
}

func (t *jobTask) RenewLease(ctx context.Context, ttl time.Duration) (bool, error) {
	return t.jobs.RenewJobLease(ctx, t.j.ID, t.owner, ttl)
}

func (t *jobTask) Archive(ctx context.Context, taskErr error) error {
	if t.dlq == nil {
		return nil
	}
	return t.dlq.PushJob(ctx, t.j, taskErr)
}

func (t *jobTask) OnTerminal(ctx context.Context) {
	if t.notify != nil {
		t.notify.JobFinished(ctx, t.j.ID)
	}
}

// occurrenceTask adapts a claimed cron occurrence. Retries move DueAt
// forward; SlotAt never changes, so the occurrence keeps its place in
// the (definition, slot) uniqueness key.
type occurrenceTask struct {
	o     *cron.Occurrence
	crons cron.Store
	dlq   *dlq.Service
	owner id.NodeID
	now   func() time.Time
}

var _ worker.Task = (*occurrenceTask)(nil)

func (t *occurrenceTask) Info() ext.TaskInfo {
	return ext.TaskInfo{
		ID:       t.o.ID,
		Kind:     ext.KindOccurrence,
		Function: t.o.Function,
		Priority: t.o.Priority,
		Attempt:  t.o.Attempt,
		Payload:  t.o.Payload,
	}
}

func (t *occurrenceTask) RetryPolicy() job.RetryPolicy { return t.o.Retry }

func (t *occurrenceTask) Complete(ctx context.Context) (bool, error) {
	now := t.now()
	t.o.Status = job.StatusDone
	t.o.Attempt++
	t.o.LastError = ""
	t.o.CompletedAt = &now
	t.o.Lease = nil
	t.o.Touch()
	return t.crons.UpdateOccurrenceOwned(ctx, t.o, t.owner)
}

func (t *occurrenceTask) Reschedule(ctx context.Context, at time.Time, taskErr error) (bool, error) {
	t.o.Status = job.StatusQueued
	t.o.DueAt = at
	t.o.Attempt++
	t.o.LastError = taskErr.Error()
	t.o.Lease = nil
	t.o.Touch()
	return t.crons.UpdateOccurrenceOwned(ctx, t.o, t.owner)
}

func (t *occurrenceTask) Return(ctx context.Context, at time.Time) (bool, error) {
	t.o.Status = job.StatusQueued
	t.o.DueAt = at
	t.o.Lease = nil
	t.o.Touch()
	return t.crons.UpdateOccurrenceOwned(ctx, t.o, t.owner)
}

func (t *occurrenceTask) Fail(ctx context.Context, taskErr error) (bool, error) {
	now := t.now()
	t.o.Status = job.StatusFailed
	t.o.Attempt++
	t.o.LastError = taskErr.Error()
	t.o.CompletedAt = &now
	t.o.Lease = nil
	t.o.Touch()
	return t.crons.UpdateOccurrenceOwned(ctx, t.o, t.owner)
}

func (t *occurrenceTask) Cancel(ctx context.Context, reason string) (bool, error) {
	now := t.now()
	t.o.Status = job.StatusCancelled
	t.o.LastError = reason
	t.o.CompletedAt = &now
	t.o.Lease = nil
	t.o.Touch()
	return t.crons.UpdateOccurrenceOwned(ctx, t.o, t.owner)
}

func (t *occurrenceTask) RenewLease(ctx context.Context, ttl time.Duration) (bool, error) {
	return t.crons.RenewOccurrenceLease(ctx, t.o.ID, t.owner, ttl)
}

func (t *occurrenceTask) Archive(ctx context.Context, taskErr error) error {
	if t.dlq == nil {
		return nil
	}
	return t.dlq.PushOccurrence(ctx, t.o, taskErr)
}

func (t *occurrenceTask) OnTerminal(context.Context) {}
