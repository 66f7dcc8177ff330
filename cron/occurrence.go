package cron

import (
	"time"

	tickerq "github.com/joe10832/TickerQ"
	"github.com/joe10832/TickerQ/id"
	"github.com/joe10832/TickerQ/job"
)

// Occurrence is one materialized firing of a definition: an individually
// executable record with its own status, lease, and retry bookkeeping.
// Exactly one occurrence exists per (definition, due instant) pair.
// Completed occurrences are retained for history until externally purged.
type Occurrence struct {
	tickerq.Entity

	ID           id.OccurrenceID `json:"id"`
	DefinitionID id.DefinitionID `json:"definition_id"`

	// SlotAt is the planned firing instant computed from the schedule.
	// It is immutable and forms the (definition, slot) uniqueness key
	// that makes materialization idempotent.
	SlotAt time.Time `json:"slot_at"`

	// DueAt is the instant this occurrence next becomes due. It starts
	// equal to SlotAt and moves forward on retries.
	DueAt time.Time `json:"due_at"`

	Function string          `json:"function"`
	Payload  []byte          `json:"payload,omitempty"`
	Priority job.Priority    `json:"priority"`
	Retry    job.RetryPolicy `json:"retry"`

	Status    job.Status `json:"status"`
	Attempt   int        `json:"attempt"`
	LastError string     `json:"last_error,omitempty"`
	Lease     *job.Lease `json:"lease,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Claimable reports whether the occurrence may be claimed at the given
// time: due, in a claimable state, and not under an unexpired lease.
func (o *Occurrence) Claimable(now time.Time) bool {
	switch o.Status {
	case job.StatusIdle, job.StatusQueued:
	case job.StatusInProgress:
		// Reclaimable once the owning node's lease expires.
	default:
		return false
	}
	if o.DueAt.After(now) {
		return false
	}
	return !o.Lease.Held(now)
}
