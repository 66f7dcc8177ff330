package memory

import (
	"context"
	"sort"
	"time"

	tickerq "github.com/joe10832/TickerQ"
	"github.com/joe10832/TickerQ/cron"
	"github.com/joe10832/TickerQ/id"
	"github.com/joe10832/TickerQ/job"
)

func (s *Store) CreateDefinition(ctx context.Context, d *cron.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return tickerq.ErrStoreClosed
	}
	for _, existing := range s.definitions {
		if existing.Name == d.Name {
			return tickerq.ErrDuplicateDefinition
		}
	}
	s.definitions[d.ID.String()] = cloneDefinition(d)
	return nil
}

func (s *Store) GetDefinition(ctx context.Context, defID id.DefinitionID) (*cron.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, tickerq.ErrStoreClosed
	}
	d, ok := s.definitions[defID.String()]
	if !ok {
		return nil, tickerq.ErrDefinitionNotFound
	}
	return cloneDefinition(d), nil
}

func (s *Store) ListDefinitions(ctx context.Context, activeOnly bool) ([]*cron.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, tickerq.ErrStoreClosed
	}

	var defs []*cron.Definition
	for _, d := range s.definitions {
		if activeOnly && !d.Active {
			continue
		}
		defs = append(defs, cloneDefinition(d))
	}
	sort.Slice(defs, func(i, k int) bool { return defs[i].Name < defs[k].Name })
	return defs, nil
}

func (s *Store) UpdateDefinition(ctx context.Context, d *cron.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return tickerq.ErrStoreClosed
	}
	key := d.ID.String()
	if _, ok := s.definitions[key]; !ok {
		return tickerq.ErrDefinitionNotFound
	}
	s.definitions[key] = cloneDefinition(d)
	return nil
}

func (s *Store) DeleteDefinition(ctx context.Context, defID id.DefinitionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return tickerq.ErrStoreClosed
	}
	key := defID.String()
	if _, ok := s.definitions[key]; !ok {
		return tickerq.ErrDefinitionNotFound
	}
	delete(s.definitions, key)
	return nil
}

func (s *Store) CreateOccurrence(ctx context.Context, o *cron.Occurrence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return tickerq.ErrStoreClosed
	}
	for _, existing := range s.occurrences {
		if existing.DefinitionID == o.DefinitionID && existing.SlotAt.Equal(o.SlotAt) {
			return tickerq.ErrDuplicateOccurrence
		}
	}
	s.occurrences[o.ID.String()] = cloneOccurrence(o)
	return nil
}

func (s *Store) GetOccurrence(ctx context.Context, occID id.OccurrenceID) (*cron.Occurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, tickerq.ErrStoreClosed
	}
	o, ok := s.occurrences[occID.String()]
	if !ok {
		return nil, tickerq.ErrOccurrenceNotFound
	}
	return cloneOccurrence(o), nil
}

func (s *Store) ListOccurrences(ctx context.Context, defID id.DefinitionID) ([]*cron.Occurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, tickerq.ErrStoreClosed
	}

	var occs []*cron.Occurrence
	for _, o := range s.occurrences {
		if o.DefinitionID == defID {
			occs = append(occs, cloneOccurrence(o))
		}
	}
	sort.Slice(occs, func(i, k int) bool { return occs[i].DueAt.Before(occs[k].DueAt) })
	return occs, nil
}

func (s *Store) LatestOccurrenceFor(ctx context.Context, defID id.DefinitionID) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, tickerq.ErrStoreClosed
	}

	var latest *time.Time
	for _, o := range s.occurrences {
		if o.DefinitionID != defID {
			continue
		}
		if latest == nil || o.SlotAt.After(*latest) {
			at := o.SlotAt
			latest = &at
		}
	}
	return latest, nil
}

func (s *Store) DueOccurrences(ctx context.Context, now time.Time, limit int) ([]*cron.Occurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, tickerq.ErrStoreClosed
	}

	var due []*cron.Occurrence
	for _, o := range s.occurrences {
		if o.Claimable(now) {
			due = append(due, cloneOccurrence(o))
		}
	}
	sort.Slice(due, func(i, k int) bool {
		if !due[i].DueAt.Equal(due[k].DueAt) {
			return due[i].DueAt.Before(due[k].DueAt)
		}
		if due[i].Priority != due[k].Priority {
			return due[i].Priority > due[k].Priority
		}
		return due[i].ID.String() < due[k].ID.String()
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *Store) ClaimOccurrence(ctx context.Context, occID id.OccurrenceID, owner id.NodeID, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, tickerq.ErrStoreClosed
	}
	// A deleted row is a lost race, not an error, matching the SQL
	// backends' zero-rows-matched behavior.
	o, ok := s.occurrences[occID.String()]
	if !ok {
		return false, nil
	}

	now := time.Now()
	if !o.Claimable(now) {
		return false, nil
	}
	o.Status = job.StatusInProgress
	o.Lease = &job.Lease{Owner: owner, ExpiresAt: now.Add(ttl)}
	if o.StartedAt == nil {
		started := now
		o.StartedAt = &started
	}
	o.Touch()
	return true, nil
}

func (s *Store) RenewOccurrenceLease(ctx context.Context, occID id.OccurrenceID, owner id.NodeID, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, tickerq.ErrStoreClosed
	}
	o, ok := s.occurrences[occID.String()]
	if !ok {
		return false, nil
	}

	now := time.Now()
	if o.Status != job.StatusInProgress || !o.Lease.Held(now) || o.Lease.Owner != owner {
		return false, nil
	}
	o.Lease.ExpiresAt = now.Add(ttl)
	o.Touch()
	return true, nil
}

func (s *Store) UpdateOccurrenceOwned(ctx context.Context, o *cron.Occurrence, owner id.NodeID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, tickerq.ErrStoreClosed
	}
	key := o.ID.String()
	current, ok := s.occurrences[key]
	if !ok {
		return false, nil
	}
	if !current.Lease.Held(time.Now()) || current.Lease.Owner != owner {
		return false, nil
	}
	s.occurrences[key] = cloneOccurrence(o)
	return true, nil
}

func (s *Store) EarliestOccurrenceDue(ctx context.Context, now time.Time) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, tickerq.ErrStoreClosed
	}

	var earliest *time.Time
	for _, o := range s.occurrences {
		if o.Status != job.StatusIdle && o.Status != job.StatusQueued {
			continue
		}
		if o.Lease.Held(now) || !o.DueAt.After(now) {
			continue
		}
		if earliest == nil || o.DueAt.Before(*earliest) {
			at := o.DueAt
			earliest = &at
		}
	}
	return earliest, nil
}

func (s *Store) CountOccurrences(ctx context.Context, status job.Status) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, tickerq.ErrStoreClosed
	}

	var n int64
	for _, o := range s.occurrences {
		if status == "" || o.Status == status {
			n++
		}
	}
	return n, nil
}
