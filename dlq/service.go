package dlq

import (
	"context"
	"time"

	tickerq "github.com/joe10832/TickerQ"
	"github.com/joe10832/TickerQ/cron"
	"github.com/joe10832/TickerQ/id"
	"github.com/joe10832/TickerQ/job"
)

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store    Store
	jobStore job.Store
}

// NewService creates a DLQ service.
func NewService(store Store, jobStore job.Store) *Service {
	return &Service{store: store, jobStore: jobStore}
}

// PushJob archives a permanently failed time job.
func (s *Service) PushJob(ctx context.Context, j *job.Job, jobErr error) error {
	now := time.Now().UTC()
	entry := &Entry{
		ID:        id.NewDLQID(),
		SourceID:  j.ID,
		Source:    SourceJob,
		Function:  j.Function,
		Payload:   j.Payload,
		Priority:  j.Priority,
		Retry:     j.Retry,
		Error:     jobErr.Error(),
		Attempts:  j.Attempt,
		FailedAt:  now,
		CreatedAt: now,
	}
	return s.store.PushDLQ(ctx, entry)
}

// PushOccurrence archives a permanently failed cron occurrence.
func (s *Service) PushOccurrence(ctx context.Context, o *cron.Occurrence, occErr error) error {
	now := time.Now().UTC()
	entry := &Entry{
		ID:        id.NewDLQID(),
		SourceID:  o.ID,
		Source:    SourceOccurrence,
		Function:  o.Function,
		Payload:   o.Payload,
		Priority:  o.Priority,
		Retry:     o.Retry,
		Error:     occErr.Error(),
		Attempts:  o.Attempt,
		FailedAt:  now,
		CreatedAt: now,
	}
	return s.store.PushDLQ(ctx, entry)
}

// Replay re-schedules a DLQ entry as a fresh time job due immediately and
// marks the entry as replayed. The new job gets a fresh ID and a zero
// attempt counter; a replayed occurrence becomes an ordinary time job.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	j := &job.Job{
		Entity:    tickerq.NewEntity(),
		ID:        id.NewJobID(),
		Function:  entry.Function,
		Payload:   entry.Payload,
		Priority:  entry.Priority,
		Retry:     entry.Retry,
		Status:    job.StatusQueued,
		ExecuteAt: now,
	}

	if err := s.jobStore.CreateJob(ctx, j); err != nil {
		return nil, err
	}

	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		// The job is already scheduled. Log at the call site, don't fail.
		return j, err
	}

	return j, nil
}

// DLQStore returns the underlying DLQ store for direct access to List,
// Get, Purge, and Count operations.
func (s *Service) DLQStore() Store {
	return s.store
}
