package dlq

import (
	"time"

	"github.com/joe10832/TickerQ/id"
	"github.com/joe10832/TickerQ/job"
)

// SourceKind identifies what kind of work produced a DLQ entry.
type SourceKind string

const (
	// SourceJob means the entry came from a time job.
	SourceJob SourceKind = "job"
	// SourceOccurrence means the entry came from a cron occurrence.
	SourceOccurrence SourceKind = "occurrence"
)

// Entry represents work that failed permanently and was archived with its
// final error for inspection or replay.
type Entry struct {
	ID       id.DLQID   `json:"id"`
	SourceID id.ID      `json:"source_id"`
	Source   SourceKind `json:"source"`

	Function string          `json:"function"`
	Payload  []byte          `json:"payload,omitempty"`
	Priority job.Priority    `json:"priority"`
	Retry    job.RetryPolicy `json:"retry"`

	Error    string `json:"error"`
	Attempts int    `json:"attempts"`

	FailedAt   time.Time  `json:"failed_at"`
	ReplayedAt *time.Time `json:"replayed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
