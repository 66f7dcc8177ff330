package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	tickerq "github.com/joe10832/TickerQ"
	"github.com/joe10832/TickerQ/cron"
	"github.com/joe10832/TickerQ/ext"
	"github.com/joe10832/TickerQ/id"
	"github.com/joe10832/TickerQ/job"
)

// jobSpec accumulates per-job overrides of the function's defaults.
type jobSpec struct {
	at       time.Time
	priority *job.Priority
	retry    *job.RetryPolicy
	parent   id.JobID
	cond     job.RunCondition
}

// JobOption configures a scheduled job.
type JobOption func(*jobSpec)

// At sets the instant the job becomes due. Omitted or past instants mean
// the job is due immediately.
func At(t time.Time) JobOption {
	return func(s *jobSpec) { s.at = t }
}

// WithJobPriority overrides the function's default priority.
func WithJobPriority(p job.Priority) JobOption {
	return func(s *jobSpec) { s.priority = &p }
}

// WithJobRetry overrides the function's default retry policy.
func WithJobRetry(p job.RetryPolicy) JobOption {
	return func(s *jobSpec) { s.retry = &p }
}

// AsChildOf gates the job on its parent's outcome. The child stays Idle
// and invisible to dispatch until the batch coordinator queues it.
func AsChildOf(parent id.JobID, cond job.RunCondition) JobOption {
	return func(s *jobSpec) {
		s.parent = parent
		s.cond = cond
	}
}

// ScheduleJob creates a time job for a registered function. The payload
// is JSON-encoded; it must match the type the function was registered
// with. Returns the persisted job.
func (e *Engine) ScheduleJob(ctx context.Context, function string, payload any, opts ...JobOption) (*job.Job, error) {
	entry, ok := e.registry.Get(function)
	if !ok {
		return nil, fmt.Errorf("%w: %q", tickerq.ErrFunctionNotRegistered, function)
	}

	var spec jobSpec
	for _, opt := range opts {
		opt(&spec)
	}

	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload for %q: %w", function, err)
	}

	now := time.Now().UTC()
	at := spec.at
	if at.IsZero() {
		at = now
	}

	j := &job.Job{
		Entity:    tickerq.NewEntity(),
		ID:        id.NewJobID(),
		Function:  function,
		Payload:   raw,
		Priority:  entry.Opts.Priority,
		Status:    job.StatusQueued,
		Retry:     entry.Opts.Retry,
		ExecuteAt: at,
	}
	if spec.priority != nil {
		j.Priority = *spec.priority
	}
	if spec.retry != nil {
		j.Retry = *spec.retry
	}
	if !spec.parent.IsNil() {
		parent, err := e.store.GetJob(ctx, spec.parent)
		if err != nil {
			return nil, fmt.Errorf("batch parent: %w", err)
		}
		j.ParentID = parent.ID
		j.RunCondition = spec.cond
		if j.RunCondition == "" {
			j.RunCondition = job.RunOnSuccess
		}
		// Gated until the coordinator decides.
		j.Status = job.StatusIdle
	}

	if err := e.store.CreateJob(ctx, j); err != nil {
		return nil, err
	}

	e.extensions.EmitJobScheduled(ctx, j)
	if j.Status == job.StatusQueued {
		e.Wake()
	}
	return j, nil
}

// GetJob retrieves a job by ID.
func (e *Engine) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return e.store.GetJob(ctx, jobID)
}

// CancelJob cancels a job. Pending jobs are cancelled in the store; a
// job running on this node has its execution context cancelled. A job
// running on another node cannot be cancelled from here, and terminal
// jobs are immutable.
func (e *Engine) CancelJob(ctx context.Context, jobID id.JobID, reason string) error {
	j, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status.Terminal() {
		return tickerq.ErrJobImmutable
	}

	if j.Status == job.StatusInProgress {
		if e.pool.Cancel(jobID.String(), reason) {
			return nil
		}
		return fmt.Errorf("%w: job is running on another node", tickerq.ErrInvalidState)
	}

	now := time.Now().UTC()
	j.Status = job.StatusCancelled
	j.CancelReason = reason
	j.CompletedAt = &now
	j.Touch()
	if err := e.store.UpdateJob(ctx, j); err != nil {
		return err
	}

	e.extensions.EmitTaskCancelled(ctx, ext.TaskInfo{
		ID:       j.ID,
		Kind:     ext.KindJob,
		Function: j.Function,
		Priority: j.Priority,
		Attempt:  j.Attempt,
	}, reason)
	e.coordinator.JobFinished(ctx, j.ID)
	return nil
}

// RegisterCron creates an active cron definition. The expression is
// validated up front; occurrences over the configured horizon are
// materialized immediately.
func (e *Engine) RegisterCron(ctx context.Context, name, expression, function string, payload any, opts ...job.Option) (*cron.Definition, error) {
	if _, err := cron.ParseSchedule(expression); err != nil {
		return nil, err
	}
	if _, ok := e.registry.Get(function); !ok {
		return nil, fmt.Errorf("%w: %q", tickerq.ErrFunctionNotRegistered, function)
	}

	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload for %q: %w", name, err)
	}

	o := job.DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	def := &cron.Definition{
		Entity:     tickerq.NewEntity(),
		ID:         id.NewDefinitionID(),
		Name:       name,
		Function:   function,
		Expression: expression,
		Payload:    raw,
		Priority:   o.Priority,
		Retry:      o.Retry,
		Active:     true,
	}
	if err := e.store.CreateDefinition(ctx, def); err != nil {
		return nil, err
	}

	if err := e.generator.Refresh(ctx, time.Now()); err != nil {
		e.logger.Error("materialize new definition", "error", err)
	}
	e.Wake()
	return def, nil
}

// SetCronActive pauses or resumes a definition. Pausing stops future
// materialization; already materialized occurrences still run.
func (e *Engine) SetCronActive(ctx context.Context, defID id.DefinitionID, active bool) error {
	def, err := e.store.GetDefinition(ctx, defID)
	if err != nil {
		return err
	}
	if def.Active == active {
		return nil
	}
	def.Active = active
	def.Touch()
	return e.store.UpdateDefinition(ctx, def)
}

// DeleteCron removes a definition. Its occurrences are left in place:
// history is retained and pending firings still execute.
func (e *Engine) DeleteCron(ctx context.Context, defID id.DefinitionID) error {
	return e.store.DeleteDefinition(ctx, defID)
}

// ListCrons returns cron definitions, optionally only active ones.
func (e *Engine) ListCrons(ctx context.Context, activeOnly bool) ([]*cron.Definition, error) {
	return e.store.ListDefinitions(ctx, activeOnly)
}

// ReplayDLQ re-schedules a dead letter entry as a fresh job due
// immediately.
func (e *Engine) ReplayDLQ(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	j, err := e.dlqSvc.Replay(ctx, entryID)
	if err != nil && j == nil {
		return nil, err
	}
	if err != nil {
		e.logger.Warn("dlq entry replayed but not marked", "entry", entryID.String(), "error", err.Error())
	}
	e.Wake()
	return j, nil
}

func marshalPayload(payload any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	if raw, ok := payload.([]byte); ok {
		return raw, nil
	}
	return json.Marshal(payload)
}
