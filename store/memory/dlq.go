package memory

import (
	"context"
	"sort"
	"time"

	tickerq "github.com/joe10832/TickerQ"
	"github.com/joe10832/TickerQ/dlq"
	"github.com/joe10832/TickerQ/id"
)

func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return tickerq.ErrStoreClosed
	}
	s.dlq[entry.ID.String()] = cloneEntry(entry)
	return nil
}

func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, tickerq.ErrStoreClosed
	}

	var entries []*dlq.Entry
	for _, e := range s.dlq {
		if opts.Function != "" && e.Function != opts.Function {
			continue
		}
		entries = append(entries, cloneEntry(e))
	}
	// Newest failures first.
	sort.Slice(entries, func(i, k int) bool {
		if !entries[i].FailedAt.Equal(entries[k].FailedAt) {
			return entries[i].FailedAt.After(entries[k].FailedAt)
		}
		return entries[i].ID.String() < entries[k].ID.String()
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(entries) {
			return nil, nil
		}
		entries = entries[opts.Offset:]
	}
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, tickerq.ErrStoreClosed
	}
	e, ok := s.dlq[entryID.String()]
	if !ok {
		return nil, tickerq.ErrDLQNotFound
	}
	return cloneEntry(e), nil
}

func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return tickerq.ErrStoreClosed
	}
	e, ok := s.dlq[entryID.String()]
	if !ok {
		return tickerq.ErrDLQNotFound
	}
	now := time.Now().UTC()
	e.ReplayedAt = &now
	return nil
}

func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, tickerq.ErrStoreClosed
	}

	var n int64
	for key, e := range s.dlq {
		if e.FailedAt.Before(before) {
			delete(s.dlq, key)
			n++
		}
	}
	return n, nil
}

func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, tickerq.ErrStoreClosed
	}
	return int64(len(s.dlq)), nil
}
