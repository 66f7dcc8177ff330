package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/joe10832/TickerQ/cluster"
	"github.com/joe10832/TickerQ/cron"
	"github.com/joe10832/TickerQ/dlq"
	"github.com/joe10832/TickerQ/id"
	"github.com/joe10832/TickerQ/job"
)

// ── Job rows ──────────────────────────────────────────────────────

func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j            job.Job
		idStr        string
		statusStr    string
		condStr      string
		delays       []int64
		leaseOwner   *string
		leaseExpires *time.Time
		parentStr    *string
	)
	err := row.Scan(
		&idStr, &j.Function, &j.Payload, &j.Priority, &statusStr,
		&j.Retry.MaxRetries, &delays, &j.ExecuteAt, &j.Attempt,
		&j.LastError, &leaseOwner, &leaseExpires, &parentStr,
		&condStr, &j.CancelReason, &j.StartedAt, &j.CompletedAt,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Status = job.Status(statusStr)
	j.RunCondition = job.RunCondition(condStr)
	j.Retry.Delays = nanosToDelays(delays)

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("tickerq/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if parentStr != nil {
		parsedParent, pErr := id.ParseJobID(*parentStr)
		if pErr != nil {
			return nil, fmt.Errorf("tickerq/postgres: parse parent id %q: %w", *parentStr, pErr)
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

func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("tickerq/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tickerq/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}

// ── Definition rows ───────────────────────────────────────────────

func scanDefinition(row pgx.Row) (*cron.Definition, error) {
	var (
		d      cron.Definition
		idStr  string
		delays []int64
	)
	err := row.Scan(
		&idStr, &d.Name, &d.Function, &d.Expression, &d.Payload,
		&d.Priority, &d.Retry.MaxRetries, &delays, &d.Active,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Retry.Delays = nanosToDelays(delays)

	parsedID, parseErr := id.ParseDefinitionID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("tickerq/postgres: parse definition id %q: %w", idStr, parseErr)
	}
	d.ID = parsedID

	return &d, nil
}

func collectDefinitions(rows pgx.Rows) ([]*cron.Definition, error) {
	var defs []*cron.Definition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("tickerq/postgres: scan definition row: %w", err)
		}
		defs = append(defs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tickerq/postgres: iterate definition rows: %w", err)
	}
	return defs, nil
}

// ── Occurrence rows ───────────────────────────────────────────────

func scanOccurrence(row pgx.Row) (*cron.Occurrence, error) {
	var (
		o            cron.Occurrence
		idStr        string
		defStr       string
		statusStr    string
		delays       []int64
		leaseOwner   *string
		leaseExpires *time.Time
	)
	err := row.Scan(
		&idStr, &defStr, &o.SlotAt, &o.DueAt, &o.Function, &o.Payload,
		&o.Priority, &o.Retry.MaxRetries, &delays, &statusStr,
		&o.Attempt, &o.LastError, &leaseOwner, &leaseExpires,
		&o.StartedAt, &o.CompletedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Status = job.Status(statusStr)
	o.Retry.Delays = nanosToDelays(delays)

	parsedID, parseErr := id.ParseOccurrenceID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("tickerq/postgres: parse occurrence id %q: %w", idStr, parseErr)
	}
	o.ID = parsedID

	parsedDef, defErr := id.ParseDefinitionID(defStr)
	if defErr != nil {
		return nil, fmt.Errorf("tickerq/postgres: parse definition id %q: %w", defStr, defErr)
	}
	o.DefinitionID = parsedDef

	lease, leaseErr := scanLease(leaseOwner, leaseExpires)
	if leaseErr != nil {
		return nil, leaseErr
	}
	o.Lease = lease

	return &o, nil
}

func collectOccurrences(rows pgx.Rows) ([]*cron.Occurrence, error) {
	var occs []*cron.Occurrence
	for rows.Next() {
		o, err := scanOccurrence(rows)
		if err != nil {
			return nil, fmt.Errorf("tickerq/postgres: scan occurrence row: %w", err)
		}
		occs = append(occs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tickerq/postgres: iterate occurrence rows: %w", err)
	}
	return occs, nil
}

// ── DLQ rows ──────────────────────────────────────────────────────

func scanDLQ(row pgx.Row) (*dlq.Entry, error) {
	var (
		e         dlq.Entry
		idStr     string
		sourceStr string
		kindStr   string
		delays    []int64
	)
	err := row.Scan(
		&idStr, &sourceStr, &kindStr, &e.Function, &e.Payload,
		&e.Priority, &e.Retry.MaxRetries, &delays, &e.Error,
		&e.Attempts, &e.FailedAt, &e.ReplayedAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Source = dlq.SourceKind(kindStr)
	e.Retry.Delays = nanosToDelays(delays)

	parsedID, parseErr := id.ParseDLQID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("tickerq/postgres: parse dlq id %q: %w", idStr, parseErr)
	}
	e.ID = parsedID

	parsedSource, srcErr := id.Parse(sourceStr)
	if srcErr != nil {
		return nil, fmt.Errorf("tickerq/postgres: parse dlq source id %q: %w", sourceStr, srcErr)
	}
	e.SourceID = parsedSource

	return &e, nil
}

func collectDLQ(rows pgx.Rows) ([]*dlq.Entry, error) {
	var entries []*dlq.Entry
	for rows.Next() {
		e, err := scanDLQ(rows)
		if err != nil {
			return nil, fmt.Errorf("tickerq/postgres: scan dlq row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tickerq/postgres: iterate dlq rows: %w", err)
	}
	return entries, nil
}

// ── Node rows ─────────────────────────────────────────────────────

func scanNode(row pgx.Row) (*cluster.Node, error) {
	var (
		n        cluster.Node
		idStr    string
		stateStr string
	)
	err := row.Scan(&idStr, &n.Hostname, &n.Concurrency, &stateStr, &n.LastSeen, &n.CreatedAt)
	if err != nil {
		return nil, err
	}

	n.State = cluster.NodeState(stateStr)

	parsedID, parseErr := id.ParseNodeID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("tickerq/postgres: parse node id %q: %w", idStr, parseErr)
	}
	n.ID = parsedID

	return &n, nil
}

func collectNodes(rows pgx.Rows) ([]*cluster.Node, error) {
	var nodes []*cluster.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("tickerq/postgres: scan node row: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tickerq/postgres: iterate node rows: %w", err)
	}
	return nodes, nil
}

func scanLease(owner *string, expires *time.Time) (*job.Lease, error) {
	if owner == nil || expires == nil {
		return nil, nil
	}
	parsed, err := id.ParseNodeID(*owner)
	if err != nil {
		return nil, fmt.Errorf("tickerq/postgres: parse lease owner %q: %w", *owner, err)
	}
	return &job.Lease{Owner: parsed, ExpiresAt: *expires}, nil
}
