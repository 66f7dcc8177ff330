package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/joe10832/TickerQ/cluster"
	"github.com/joe10832/TickerQ/cron"
	"github.com/joe10832/TickerQ/dlq"
	"github.com/joe10832/TickerQ/id"
	"github.com/joe10832/TickerQ/job"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// ── Job rows ──────────────────────────────────────────────────────

func scanJob(row rowScanner) (*job.Job, error) {
	var (
		j            job.Job
		idStr        string
		statusStr    string
		condStr      string
		delaysJSON   string
		executeAt    int64
		leaseOwner   *string
		leaseExpires *int64
		parentStr    *string
		startedAt    *int64
		completedAt  *int64
		createdAt    int64
		updatedAt    int64
	)
	err := row.Scan(
		&idStr, &j.Function, &j.Payload, &j.Priority, &statusStr,
		&j.Retry.MaxRetries, &delaysJSON, &executeAt, &j.Attempt,
		&j.LastError, &leaseOwner, &leaseExpires, &parentStr,
		&condStr, &j.CancelReason, &startedAt, &completedAt,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Status = job.Status(statusStr)
	j.RunCondition = job.RunCondition(condStr)
	j.ExecuteAt = nanosToTime(executeAt)
	j.StartedAt = nanosToTimePtr(startedAt)
	j.CompletedAt = nanosToTimePtr(completedAt)
	j.CreatedAt = nanosToTime(createdAt)
	j.UpdatedAt = nanosToTime(updatedAt)

	delays, err := delaysFromJSON(delaysJSON)
	if err != nil {
		return nil, err
	}
	j.Retry.Delays = delays

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("tickerq/sqlite: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if parentStr != nil {
		parsedParent, pErr := id.ParseJobID(*parentStr)
		if pErr != nil {
			return nil, fmt.Errorf("tickerq/sqlite: parse parent id %q: %w", *parentStr, pErr)
		}
		j.ParentID = parsedParent
	}

	lease, leaseErr := scanLease(leaseOwner, leaseExpires)
	if leaseErr != nil {
		return nil, leaseErr
	}
	j.Lease = lease

	return &j, nil
}

func collectJobs(rows *sql.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("tickerq/sqlite: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tickerq/sqlite: iterate job rows: %w", err)
	}
	return jobs, nil
}

// ── Definition rows ───────────────────────────────────────────────

func scanDefinition(row rowScanner) (*cron.Definition, error) {
	var (
		d          cron.Definition
		idStr      string
		delaysJSON string
		createdAt  int64
		updatedAt  int64
	)
	err := row.Scan(
		&idStr, &d.Name, &d.Function, &d.Expression, &d.Payload,
		&d.Priority, &d.Retry.MaxRetries, &delaysJSON, &d.Active,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.CreatedAt = nanosToTime(createdAt)
	d.UpdatedAt = nanosToTime(updatedAt)

	delays, err := delaysFromJSON(delaysJSON)
	if err != nil {
		return nil, err
	}
	d.Retry.Delays = delays

	parsedID, parseErr := id.ParseDefinitionID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("tickerq/sqlite: parse definition id %q: %w", idStr, parseErr)
	}
	d.ID = parsedID

	return &d, nil
}

func collectDefinitions(rows *sql.Rows) ([]*cron.Definition, error) {
	var defs []*cron.Definition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("tickerq/sqlite: scan definition row: %w", err)
		}
		defs = append(defs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tickerq/sqlite: iterate definition rows: %w", err)
	}
	return defs, nil
}

// ── Occurrence rows ───────────────────────────────────────────────

func scanOccurrence(row rowScanner) (*cron.Occurrence, error) {
	var (
		o            cron.Occurrence
		idStr        string
		defStr       string
		statusStr    string
		delaysJSON   string
		slotAt       int64
		dueAt        int64
		leaseOwner   *string
		leaseExpires *int64
		startedAt    *int64
		completedAt  *int64
		createdAt    int64
		updatedAt    int64
	)
	err := row.Scan(
		&idStr, &defStr, &slotAt, &dueAt, &o.Function, &o.Payload,
		&o.Priority, &o.Retry.MaxRetries, &delaysJSON, &statusStr,
		&o.Attempt, &o.LastError, &leaseOwner, &leaseExpires,
		&startedAt, &completedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Status = job.Status(statusStr)
	o.SlotAt = nanosToTime(slotAt)
	o.DueAt = nanosToTime(dueAt)
	o.StartedAt = nanosToTimePtr(startedAt)
	o.CompletedAt = nanosToTimePtr(completedAt)
	o.CreatedAt = nanosToTime(createdAt)
	o.UpdatedAt = nanosToTime(updatedAt)

	delays, err := delaysFromJSON(delaysJSON)
	if err != nil {
		return nil, err
	}
	o.Retry.Delays = delays

	parsedID, parseErr := id.ParseOccurrenceID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("tickerq/sqlite: parse occurrence id %q: %w", idStr, parseErr)
	}
	o.ID = parsedID

	parsedDef, defErr := id.ParseDefinitionID(defStr)
	if defErr != nil {
		return nil, fmt.Errorf("tickerq/sqlite: parse definition id %q: %w", defStr, defErr)
	}
	o.DefinitionID = parsedDef

	lease, leaseErr := scanLease(leaseOwner, leaseExpires)
	if leaseErr != nil {
		return nil, leaseErr
	}
	o.Lease = lease

	return &o, nil
}

func collectOccurrences(rows *sql.Rows) ([]*cron.Occurrence, error) {
	var occs []*cron.Occurrence
	for rows.Next() {
		o, err := scanOccurrence(rows)
		if err != nil {
			return nil, fmt.Errorf("tickerq/sqlite: scan occurrence row: %w", err)
		}
		occs = append(occs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tickerq/sqlite: iterate occurrence rows: %w", err)
	}
	return occs, nil
}

// ── DLQ rows ──────────────────────────────────────────────────────

func scanDLQ(row rowScanner) (*dlq.Entry, error) {
	var (
		e          dlq.Entry
		idStr      string
		sourceStr  string
		kindStr    string
		delaysJSON string
		failedAt   int64
		replayedAt *int64
		createdAt  int64
	)
	err := row.Scan(
		&idStr, &sourceStr, &kindStr, &e.Function, &e.Payload,
		&e.Priority, &e.Retry.MaxRetries, &delaysJSON, &e.Error,
		&e.Attempts, &failedAt, &replayedAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	e.Source = dlq.SourceKind(kindStr)
	e.FailedAt = nanosToTime(failedAt)
	e.ReplayedAt = nanosToTimePtr(replayedAt)
	e.CreatedAt = nanosToTime(createdAt)

	delays, err := delaysFromJSON(delaysJSON)
	if err != nil {
		return nil, err
	}
	e.Retry.Delays = delays

	parsedID, parseErr := id.ParseDLQID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("tickerq/sqlite: parse dlq id %q: %w", idStr, parseErr)
	}
	e.ID = parsedID

	parsedSource, srcErr := id.Parse(sourceStr)
	if srcErr != nil {
		return nil, fmt.Errorf("tickerq/sqlite: parse dlq source id %q: %w", sourceStr, srcErr)
	}
	e.SourceID = parsedSource

	return &e, nil
}

func collectDLQ(rows *sql.Rows) ([]*dlq.Entry, error) {
	var entries []*dlq.Entry
	for rows.Next() {
		e, err := scanDLQ(rows)
		if err != nil {
			return nil, fmt.Errorf("tickerq/sqlite: scan dlq row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tickerq/sqlite: iterate dlq rows: %w", err)
	}
	return entries, nil
}

// ── Node rows ─────────────────────────────────────────────────────

func scanNode(row rowScanner) (*cluster.Node, error) {
	var (
		n         cluster.Node
		idStr     string
		stateStr  string
		lastSeen  int64
		createdAt int64
	)
	err := row.Scan(&idStr, &n.Hostname, &n.Concurrency, &stateStr, &lastSeen, &createdAt)
	if err != nil {
		return nil, err
	}

	n.State = cluster.NodeState(stateStr)
	n.LastSeen = nanosToTime(lastSeen)
	n.CreatedAt = nanosToTime(createdAt)

	parsedID, parseErr := id.ParseNodeID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("tickerq/sqlite: parse node id %q: %w", idStr, parseErr)
	}
	n.ID = parsedID

	return &n, nil
}

func collectNodes(rows *sql.Rows) ([]*cluster.Node, error) {
	var nodes []*cluster.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("tickerq/sqlite: scan node row: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tickerq/sqlite: iterate node rows: %w", err)
	}
	return nodes, nil
}
