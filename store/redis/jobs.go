package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	tickerq "github.com/joe10832/TickerQ"
	"github.com/joe10832/TickerQ/id"
	"github.com/joe10832/TickerQ/job"
)

// CreateJob persists a new job blob and indexes it.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	data, err := encodeJob(j)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, jobKey(j.ID.String()), data, 0).Result()
	if err != nil {
		return fmt.Errorf("tickerq/redis: create job: %w", err)
	}
	if !ok {
		return tickerq.ErrJobAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, jobIDsKey, j.ID.String())
	if !j.Status.Terminal() {
		pipe.ZAdd(ctx, jobDueKey, goredis.Z{
			Score:  float64(timeToMillis(j.ExecuteAt)),
			Member: j.ID.String(),
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("tickerq/redis: index job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	data, err := s.client.Get(ctx, jobKey(jobID.String())).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, tickerq.ErrJobNotFound
		}
		return nil, fmt.Errorf("tickerq/redis: get job: %w", err)
	}
	return decodeJob(data)
}

// UpdateJob persists changes to an existing job unconditionally.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	key := jobKey(j.ID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("tickerq/redis: update job exists: %w", err)
	}
	if exists == 0 {
		return tickerq.ErrJobNotFound
	}

	data, err := encodeJob(j)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, data, 0)
	if j.Status.Terminal() {
		pipe.ZRem(ctx, jobDueKey, j.ID.String())
	} else {
		pipe.ZAdd(ctx, jobDueKey, goredis.Z{
			Score:  float64(timeToMillis(j.ExecuteAt)),
			Member: j.ID.String(),
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("tickerq/redis: update job: %w", err)
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	exists, err := s.client.Exists(ctx, jobKey(jID)).Result()
	if err != nil {
		return fmt.Errorf("tickerq/redis: delete job exists: %w", err)
	}
	if exists == 0 {
		return tickerq.ErrJobNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, jobKey(jID))
	pipe.SRem(ctx, jobIDsKey, jID)
	pipe.ZRem(ctx, jobDueKey, jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("tickerq/redis: delete job: %w", err)
	}
	return nil
}

// DueJobs returns up to limit claimable jobs ordered oldest due first,
// priority breaking ties, then id. The due index is scored by ExecuteAt;
// claimability is re-checked on the decoded blobs.
func (s *Store) DueJobs(ctx context.Context, now time.Time, limit int) ([]*job.Job, error) {
	ids, err := s.client.ZRangeByScore(ctx, jobDueKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(timeToMillis(now), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("tickerq/redis: due jobs index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	jobs, err := s.fetchJobs(ctx, ids)
	if err != nil {
		return nil, err
	}

	var due []*job.Job
	for _, j := range jobs {
		if j.Claimable(now) {
			due = append(due, j)
		}
	}
	sortJobsForDispatch(due)
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// ClaimJob atomically transitions a claimable job to InProgress under a
// lease via a server-side script.
func (s *Store) ClaimJob(ctx context.Context, jobID id.JobID, owner id.NodeID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := claimJobScript.Run(ctx, s.client,
		[]string{jobKey(jobID.String())},
		owner.String(), now.UnixMilli(), now.Add(ttl).UnixMilli(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("tickerq/redis: claim job: %w", err)
	}
	return res == 1, nil
}

// RenewJobLease extends the lease expiry while owner still holds the job.
func (s *Store) RenewJobLease(ctx context.Context, jobID id.JobID, owner id.NodeID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := renewLeaseScript.Run(ctx, s.client,
		[]string{jobKey(jobID.String())},
		owner.String(), now.UnixMilli(), now.Add(ttl).UnixMilli(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("tickerq/redis: renew job lease: %w", err)
	}
	return res == 1, nil
}

// UpdateJobOwned persists changes only while owner still holds an
// unexpired lease on the stored blob.
func (s *Store) UpdateJobOwned(ctx context.Context, j *job.Job, owner id.NodeID) (bool, error) {
	data, err := encodeJob(j)
	if err != nil {
		return false, err
	}

	terminal := "0"
	if j.Status.Terminal() {
		terminal = "1"
	}

	res, err := ownedUpdateScript.Run(ctx, s.client,
		[]string{jobKey(j.ID.String()), jobDueKey},
		owner.String(), time.Now().UTC().UnixMilli(), data,
		timeToMillis(j.ExecuteAt), terminal, j.ID.String(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("tickerq/redis: update job owned: %w", err)
	}
	return res == 1, nil
}

// ListJobsByStatus returns jobs matching the given status, ordered by
// creation time.
func (s *Store) ListJobsByStatus(ctx context.Context, status job.Status, opts job.ListOpts) ([]*job.Job, error) {
	all, err := s.allJobs(ctx)
	if err != nil {
		return nil, err
	}

	var matched []*job.Job
	for _, j := range all {
		if j.Status == status {
			matched = append(matched, j)
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

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	all, err := s.allJobs(ctx)
	if err != nil {
		return 0, err
	}

	var n int64
	for _, j := range all {
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

// ChildJobs returns the direct batch children of the given parent.
func (s *Store) ChildJobs(ctx context.Context, parentID id.JobID) ([]*job.Job, error) {
	all, err := s.allJobs(ctx)
	if err != nil {
		return nil, err
	}

	var children []*job.Job
	for _, j := range all {
		if j.ParentID == parentID {
			children = append(children, j)
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

// EarliestJobDue returns the earliest ExecuteAt among unclaimed claimable
// jobs due after now, or nil when there is none. Index candidates come
// back in score order, so the first one passing the claimability filter
// wins.
func (s *Store) EarliestJobDue(ctx context.Context, now time.Time) (*time.Time, error) {
	const batch = 64
	min := "(" + strconv.FormatInt(timeToMillis(now), 10)

	for offset := int64(0); ; offset += batch {
		ids, err := s.client.ZRangeByScore(ctx, jobDueKey, &goredis.ZRangeBy{
			Min:    min,
			Max:    "+inf",
			Offset: offset,
			Count:  batch,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("tickerq/redis: earliest job due: %w", err)
		}
		if len(ids) == 0 {
			return nil, nil
		}

		jobs, err := s.fetchJobs(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, j := range jobs {
			if j.Status != job.StatusIdle && j.Status != job.StatusQueued {
				continue
			}
			if !j.ParentID.IsNil() && j.Status != job.StatusQueued {
				continue
			}
			if j.Lease.Held(now) {
				continue
			}
			at := j.ExecuteAt
			return &at, nil
		}
	}
}

// fetchJobs resolves job IDs to decoded jobs, skipping blobs deleted
// since the index was read.
func (s *Store) fetchJobs(ctx context.Context, ids []string) ([]*job.Job, error) {
	keys := make([]string, len(ids))
	for i, jID := range ids {
		keys[i] = jobKey(jID)
	}

	raw, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("tickerq/redis: fetch jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(raw))
	for _, v := range raw {
		str, ok := v.(string)
		if !ok {
			continue
		}
		j, decErr := decodeJob([]byte(str))
		if decErr != nil {
			return nil, decErr
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (s *Store) allJobs(ctx context.Context) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("tickerq/redis: list job ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return s.fetchJobs(ctx, ids)
}

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
