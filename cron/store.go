package cron

import (
	"context"
	"time"

	"github.com/joe10832/TickerQ/id"
	"github.com/joe10832/TickerQ/job"
)

// Store defines the persistence contract for cron definitions and their
// occurrences. Claim and owned-update operations carry the same atomic
// compare-and-swap requirement as job.Store.
type Store interface {
	// CreateDefinition persists a new definition. Returns an error if the
	// name already exists.
	CreateDefinition(ctx context.Context, d *Definition) error

	// GetDefinition retrieves a definition by ID.
	GetDefinition(ctx context.Context, defID id.DefinitionID) (*Definition, error)

	// ListDefinitions returns all definitions. When activeOnly is set,
	// deactivated definitions are excluded.
	ListDefinitions(ctx context.Context, activeOnly bool) ([]*Definition, error)

	// UpdateDefinition updates a definition (Active, Expression, etc.).
	UpdateDefinition(ctx context.Context, d *Definition) error

	// DeleteDefinition removes a definition by ID.
	DeleteDefinition(ctx context.Context, defID id.DefinitionID) error

	// CreateOccurrence persists a new occurrence. Returns
	// ErrDuplicateOccurrence when one already exists for the same
	// (DefinitionID, SlotAt) key; the generator relies on this for
	// idempotent materialization.
	CreateOccurrence(ctx context.Context, o *Occurrence) error

	// GetOccurrence retrieves an occurrence by ID.
	GetOccurrence(ctx context.Context, occID id.OccurrenceID) (*Occurrence, error)

	// ListOccurrences returns all occurrences for a definition ordered by
	// DueAt ascending.
	ListOccurrences(ctx context.Context, defID id.DefinitionID) ([]*Occurrence, error)

	// LatestOccurrenceFor returns the latest SlotAt materialized for a
	// definition, or nil if none exists. The generator resumes from it so
	// horizon refreshes never re-plan covered slots.
	LatestOccurrenceFor(ctx context.Context, defID id.DefinitionID) (*time.Time, error)

	// DueOccurrences returns up to limit claimable occurrences at the
	// given instant, ordered DueAt ascending, priority descending, id
	// ascending.
	DueOccurrences(ctx context.Context, now time.Time, limit int) ([]*Occurrence, error)

	// ClaimOccurrence atomically transitions the occurrence to InProgress
	// under a lease if and only if it is still claimable. Returns false
	// without error when another node won the race.
	ClaimOccurrence(ctx context.Context, occID id.OccurrenceID, owner id.NodeID, ttl time.Duration) (bool, error)

	// RenewOccurrenceLease extends the lease expiry to now+ttl while
	// owner still holds the occurrence. Returns false when the lease was
	// lost.
	RenewOccurrenceLease(ctx context.Context, occID id.OccurrenceID, owner id.NodeID, ttl time.Duration) (bool, error)

	// UpdateOccurrenceOwned persists changes to a claimed occurrence only
	// while owner still holds an unexpired lease. Returns false when the
	// lease was lost.
	UpdateOccurrenceOwned(ctx context.Context, o *Occurrence, owner id.NodeID) (bool, error)

	// EarliestOccurrenceDue returns the earliest DueAt among unclaimed
	// claimable occurrences due after now, or nil when there is none.
	EarliestOccurrenceDue(ctx context.Context, now time.Time) (*time.Time, error)

	// CountOccurrences returns the number of occurrences with the given
	// status. Empty status counts all.
	CountOccurrences(ctx context.Context, status job.Status) (int64, error)
}
