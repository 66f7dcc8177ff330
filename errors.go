package tickerq

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("tickerq: no store configured")
	ErrStoreClosed     = errors.New("tickerq: store closed")
	ErrMigrationFailed = errors.New("tickerq: migration failed")

	// Not found errors.
	ErrJobNotFound        = errors.New("tickerq: job not found")
	ErrDefinitionNotFound = errors.New("tickerq: cron definition not found")
	ErrOccurrenceNotFound = errors.New("tickerq: occurrence not found")
	ErrDLQNotFound        = errors.New("tickerq: dlq entry not found")
	ErrNodeNotFound       = errors.New("tickerq: node not found")

	// Conflict errors.
	ErrJobAlreadyExists    = errors.New("tickerq: job already exists")
	ErrDuplicateDefinition = errors.New("tickerq: duplicate cron definition")
	// ErrDuplicateOccurrence is returned by CreateOccurrence when an
	// occurrence with the same (definition, due instant) key already exists.
	// The generator relies on it for idempotent materialization.
	ErrDuplicateOccurrence = errors.New("tickerq: duplicate occurrence")

	// Scheduling errors.
	ErrInvalidScheduleExpression = errors.New("tickerq: invalid schedule expression")
	ErrFunctionNotRegistered     = errors.New("tickerq: function not registered")

	// State errors.
	ErrInvalidState = errors.New("tickerq: invalid state transition")
	ErrJobImmutable = errors.New("tickerq: job is in a terminal state")
)
