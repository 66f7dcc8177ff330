package memory

import (
	"context"
	"sort"
	"time"

	tickerq "github.com/joe10832/TickerQ"
	"github.com/joe10832/TickerQ/id"
	"github.com/joe10832/TickerQ/job"
)

func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return tickerq.ErrStoreClosed
	}
	key := j.ID.String()
	if _, ok := s.jobs[key]; ok {
		return tickerq.ErrJobAlreadyExists
	}
	s.jobs[key] = cloneJob(j)
	return nil
}

func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, tickerq.ErrStoreClosed
	}
	j, ok := s.jobs[jobID.String()]
	if !ok {
		return nil, tickerq.ErrJobNotFound
	}
	return cloneJob(j), nil
}

func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return tickerq.ErrStoreClosed
	}
	key := j.ID.String()
	if _, ok := s.jobs[key]; !ok {
		return tickerq.ErrJobNotFound
	}
	s.jobs[key] = cloneJob(j)
	return nil
}

func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return tickerq.ErrStoreClosed
	}
	key := jobID.String()
	if _, ok := s.jobs[key]; !ok {
		return tickerq.ErrJobNotFound
	}
	delete(s.jobs, key)
	return nil
}

func (s *Store) DueJobs(ctx context.Context, now time.Time, limit int) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, tickerq.ErrStoreClosed
	}

	var due []*job.Job
	for _, j := range s.jobs {
		if j.Claimable(now) {
			due = append(due, cloneJob(j))
		}
	}
	sortJobsForDispatch(due)
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// sortJobsForDispatch orders oldest due first, priority breaking ties at
// the same instant, then ID for a stable total order.
func sortJobsForDispatch(jobs []*job.Job) {
	sort.Slice(jobs, func(i, k int) bool {
		if !jobs[i].ExecuteAt.Equal(jobs[k].ExecuteAt) {
			return jobs[i].ExecuteAt.Before(jobs[k].ExecuteAt)
		}
		if jobs[i].Priority != jobs[k].Priority {
			return jobs[i].Priority > jobs[k].Priority
		}
		return jobs[i].ID.String() < jobs[k].ID.String()
	})
}

func (s *Store) ClaimJob(ctx context.Context, jobID id.JobID, owner id.NodeID, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, tickerq.ErrStoreClosed
	}
	// A deleted row is a lost race, not an error. SQL backends report it
	// the same way: zero rows matched the conditional update.
	j, ok := s.jobs[jobID.String()]
	if !ok {
		return false, nil
	}

	now := time.Now()
	if !j.Claimable(now) {
		return false, nil
	}
	j.Status = job.StatusInProgress
	j.Lease = &job.Lease{Owner: owner, ExpiresAt: now.Add(ttl)}
	if j.StartedAt == nil {
		started := now
		j.StartedAt = &started
	}
	j.Touch()
	return true, nil
}

func (s *Store) RenewJobLease(ctx context.Context, jobID id.JobID, owner id.NodeID, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, tickerq.ErrStoreClosed
	}
	j, ok := s.jobs[jobID.String()]
	if !ok {
		return false, nil
	}

	now := time.Now()
	if j.Status != job.StatusInProgress || !j.Lease.Held(now) || j.Lease.Owner != owner {
		return false, nil
	}
	j.Lease.ExpiresAt = now.Add(ttl)
	j.Touch()
	return true, nil
}

func (s *Store) UpdateJobOwned(ctx context.Context, j *job.Job, owner id.NodeID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, tickerq.ErrStoreClosed
	}
	key := j.ID.String()
	current, ok := s.jobs[key]
	if !ok {
		return false, nil
	}
	if !current.Lease.Held(time.Now()) || current.Lease.Owner != owner {
		return false, nil
	}
	s.jobs[key] = cloneJob(j)
	return true, nil
}

func (s *Store) ListJobsByStatus(ctx context.Context, status job.Status, opts job.ListOpts) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, tickerq.ErrStoreClosed
	}

	var matched []*job.Job
	for _, j := range s.jobs {
		if j.Status == status {
			matched = append(matched, cloneJob(j))
		}
	}
	sort.Slice(matched, func(i, k int) bool {
		if !matched[i].CreatedAt.Equal(matched[k].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[k].CreatedAt)
		}
		return matched[i].ID.String() < matched[k].ID.String()
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[opts.Offset:]
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, tickerq.ErrStoreClosed
	}

	var n int64
	for _, j := range s.jobs {
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		if opts.Function != "" && j.Function != opts.Function {
			continue
		}
		n++
	}
	return n, nil
}

func (s *Store) ChildJobs(ctx context.Context, parentID id.JobID) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, tickerq.ErrStoreClosed
	}

	var children []*job.Job
	for _, j := range s.jobs {
		if j.ParentID == parentID {
			children = append(children, cloneJob(j))
		}
	}
	sort.Slice(children, func(i, k int) bool {
		if !children[i].CreatedAt.Equal(children[k].CreatedAt) {
			return children[i].CreatedAt.Before(children[k].CreatedAt)
		}
		return children[i].ID.String() < children[k].ID.String()
	})
	return children, nil
}

func (s *Store) EarliestJobDue(ctx context.Context, now time.Time) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, tickerq.ErrStoreClosed
	}

	var earliest *time.Time
	for _, j := range s.jobs {
		if j.Status != job.StatusIdle && j.Status != job.StatusQueued {
			continue
		}
		if !j.ParentID.IsNil() && j.Status != job.StatusQueued {
			continue
		}
		if j.Lease.Held(now) || !j.ExecuteAt.After(now) {
			continue
		}
		if earliest == nil || j.ExecuteAt.Before(*earliest) {
			at := j.ExecuteAt
			earliest = &at
		}
	}
	return earliest, nil
}
