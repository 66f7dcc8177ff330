// Package memory provides an in-process Store for tests and
// single-process deployments. All operations, including the claim
// compare-and-swap writes, run under one mutex, which makes it a useful
// reference for the concurrency semantics the SQL and Redis backends
// implement with conditional writes.
package memory

import (
	"context"
	"sync"
	"time"

	tickerq "github.com/joe10832/TickerQ"
	"github.com/joe10832/TickerQ/cluster"
	"github.com/joe10832/TickerQ/cron"
	"github.com/joe10832/TickerQ/dlq"
	"github.com/joe10832/TickerQ/job"
	"github.com/joe10832/TickerQ/store"
)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu     sync.RWMutex
	closed bool

	jobs        map[string]*job.Job
	definitions map[string]*cron.Definition
	occurrences map[string]*cron.Occurrence
	dlq         map[string]*dlq.Entry
	nodes       map[string]*cluster.Node
}

var _ store.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		jobs:        make(map[string]*job.Job),
		definitions: make(map[string]*cron.Definition),
		occurrences: make(map[string]*cron.Occurrence),
		dlq:         make(map[string]*dlq.Entry),
		nodes:       make(map[string]*cluster.Node),
	}
}

// Migrate is a no-op: there is no schema.
func (s *Store) Migrate(ctx context.Context) error { return s.check() }

// Ping reports whether the store is open.
func (s *Store) Ping(ctx context.Context) error { return s.check() }

// Close marks the store closed. Subsequent operations return
// ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return tickerq.ErrStoreClosed
	}
	return nil
}

// ── clone helpers ──
//
// The store never hands out its own pointers: reads return copies and
// writes store copies, so callers cannot race the store's state.

func cloneJob(j *job.Job) *job.Job {
	c := *j
	if j.Lease != nil {
		l := *j.Lease
		c.Lease = &l
	}
	c.StartedAt = cloneTime(j.StartedAt)
	c.CompletedAt = cloneTime(j.CompletedAt)
	return &c
}

func cloneOccurrence(o *cron.Occurrence) *cron.Occurrence {
	c := *o
	if o.Lease != nil {
		l := *o.Lease
		c.Lease = &l
	}
	c.StartedAt = cloneTime(o.StartedAt)
	c.CompletedAt = cloneTime(o.CompletedAt)
	return &c
}

func cloneDefinition(d *cron.Definition) *cron.Definition {
	c := *d
	return &c
}

func cloneEntry(e *dlq.Entry) *dlq.Entry {
	c := *e
	c.ReplayedAt = cloneTime(e.ReplayedAt)
	return &c
}

func cloneNode(n *cluster.Node) *cluster.Node {
	c := *n
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
