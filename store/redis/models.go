package redis

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/joe10832/TickerQ/cluster"
	"github.com/joe10832/TickerQ/cron"
	"github.com/joe10832/TickerQ/dlq"
	"github.com/joe10832/TickerQ/id"
	"github.com/joe10832/TickerQ/job"
)

// Blob records mirror the domain entities with flat scalar fields so
// the Lua scripts can inspect them via cmsgpack: string IDs, unix
// millisecond times (0 = unset), and "" for absent IDs and lease
// owners. Every field stays present in the encoding.

// ── Job record ────────────────────────────────────────────────────

type jobRecord struct {
	ID           string  `msgpack:"id"`
	Function     string  `msgpack:"function"`
	Payload      []byte  `msgpack:"payload"`
	Priority     int     `msgpack:"priority"`
	Status       string  `msgpack:"status"`
	MaxRetries   int     `msgpack:"max_retries"`
	RetryDelays  []int64 `msgpack:"retry_delays"`
	ExecuteAt    int64   `msgpack:"execute_at"`
	Attempt      int     `msgpack:"attempt"`
	LastError    string  `msgpack:"last_error"`
	LeaseOwner   string  `msgpack:"lease_owner"`
	LeaseExpires int64   `msgpack:"lease_expires_at"`
	ParentID     string  `msgpack:"parent_id"`
	RunCondition string  `msgpack:"run_condition"`
	CancelReason string  `msgpack:"cancel_reason"`
	StartedAt    int64   `msgpack:"started_at"`
	CompletedAt  int64   `msgpack:"completed_at"`
	CreatedAt    int64   `msgpack:"created_at"`
	UpdatedAt    int64   `msgpack:"updated_at"`
}

func encodeJob(j *job.Job) ([]byte, error) {
	rec := jobRecord{
		ID:           j.ID.String(),
		Function:     j.Function,
		Payload:      j.Payload,
		Priority:     int(j.Priority),
		Status:       string(j.Status),
		MaxRetries:   j.Retry.MaxRetries,
		RetryDelays:  delaysToNanos(j.Retry.Delays),
		ExecuteAt:    timeToMillis(j.ExecuteAt),
		Attempt:      j.Attempt,
		LastError:    j.LastError,
		LeaseOwner:   leaseOwnerStr(j.Lease),
		LeaseExpires: leaseExpiresMillis(j.Lease),
		ParentID:     idStr(j.ParentID),
		RunCondition: string(j.RunCondition),
		CancelReason: j.CancelReason,
		StartedAt:    timePtrToMillis(j.StartedAt),
		CompletedAt:  timePtrToMillis(j.CompletedAt),
		CreatedAt:    timeToMillis(j.CreatedAt),
		UpdatedAt:    timeToMillis(j.UpdatedAt),
	}
	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("tickerq/redis: encode job: %w", err)
	}
	return data, nil
}

func decodeJob(data []byte) (*job.Job, error) {
	var rec jobRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("tickerq/redis: decode job: %w", err)
	}

	parsedID, err := id.ParseJobID(rec.ID)
	if err != nil {
		return nil, fmt.Errorf("tickerq/redis: parse job id %q: %w", rec.ID, err)
	}

	j := &job.Job{
		ID:       parsedID,
		Function: rec.Function,
		Payload:  rec.Payload,
		Priority: job.Priority(rec.Priority),
		Status:   job.Status(rec.Status),
		Retry: job.RetryPolicy{
			MaxRetries: rec.MaxRetries,
			Delays:     nanosToDelays(rec.RetryDelays),
		},
		ExecuteAt:    millisToTime(rec.ExecuteAt),
		Attempt:      rec.Attempt,
		LastError:    rec.LastError,
		RunCondition: job.RunCondition(rec.RunCondition),
		CancelReason: rec.CancelReason,
		StartedAt:    millisToTimePtr(rec.StartedAt),
		CompletedAt:  millisToTimePtr(rec.CompletedAt),
	}
	j.CreatedAt = millisToTime(rec.CreatedAt)
	j.UpdatedAt = millisToTime(rec.UpdatedAt)

	if rec.ParentID != "" {
		parsedParent, pErr := id.ParseJobID(rec.ParentID)
		if pErr != nil {
			return nil, fmt.Errorf("tickerq/redis: parse parent id %q: %w", rec.ParentID, pErr)
		}
		j.ParentID = parsedParent
	}

	lease, leaseErr := decodeLease(rec.LeaseOwner, rec.LeaseExpires)
	if leaseErr != nil {
		return nil, leaseErr
	}
	j.Lease = lease

	return j, nil
}

// ── Definition record ─────────────────────────────────────────────

type defRecord struct {
	ID          string  `msgpack:"id"`
	Name        string  `msgpack:"name"`
	Function    string  `msgpack:"function"`
	Expression  string  `msgpack:"expression"`
	Payload     []byte  `msgpack:"payload"`
	Priority    int     `msgpack:"priority"`
	MaxRetries  int     `msgpack:"max_retries"`
	RetryDelays []int64 `msgpack:"retry_delays"`
	Active      bool    `msgpack:"active"`
	CreatedAt   int64   `msgpack:"created_at"`
	UpdatedAt   int64   `msgpack:"updated_at"`
}

func encodeDefinition(d *cron.Definition) ([]byte, error) {
	rec := defRecord{
		ID:          d.ID.String(),
		Name:        d.Name,
		Function:    d.Function,
		Expression:  d.Expression,
		Payload:     d.Payload,
		Priority:    int(d.Priority),
		MaxRetries:  d.Retry.MaxRetries,
		RetryDelays: delaysToNanos(d.Retry.Delays),
		Active:      d.Active,
		CreatedAt:   timeToMillis(d.CreatedAt),
		UpdatedAt:   timeToMillis(d.UpdatedAt),
	}
	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("tickerq/redis: encode definition: %w", err)
	}
	return data, nil
}

func decodeDefinition(data []byte) (*cron.Definition, error) {
	var rec defRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("tickerq/redis: decode definition: %w", err)
	}

	parsedID, err := id.ParseDefinitionID(rec.ID)
	if err != nil {
		return nil, fmt.Errorf("tickerq/redis: parse definition id %q: %w", rec.ID, err)
	}

	d := &cron.Definition{
		ID:         parsedID,
		Name:       rec.Name,
		Function:   rec.Function,
		Expression: rec.Expression,
		Payload:    rec.Payload,
		Priority:   job.Priority(rec.Priority),
		Retry: job.RetryPolicy{
			MaxRetries: rec.MaxRetries,
			Delays:     nanosToDelays(rec.RetryDelays),
		},
		Active: rec.Active,
	}
	d.CreatedAt = millisToTime(rec.CreatedAt)
	d.UpdatedAt = millisToTime(rec.UpdatedAt)

	return d, nil
}

// ── Occurrence record ─────────────────────────────────────────────

type occRecord struct {
	ID           string  `msgpack:"id"`
	DefinitionID string  `msgpack:"definition_id"`
	SlotAt       int64   `msgpack:"slot_at"`
	DueAt        int64   `msgpack:"due_at"`
	Function     string  `msgpack:"function"`
	Payload      []byte  `msgpack:"payload"`
	Priority     int     `msgpack:"priority"`
	MaxRetries   int     `msgpack:"max_retries"`
	RetryDelays  []int64 `msgpack:"retry_delays"`
	Status       string  `msgpack:"status"`
	Attempt      int     `msgpack:"attempt"`
	LastError    string  `msgpack:"last_error"`
	LeaseOwner   string  `msgpack:"lease_owner"`
	LeaseExpires int64   `msgpack:"lease_expires_at"`
	StartedAt    int64   `msgpack:"started_at"`
	CompletedAt  int64   `msgpack:"completed_at"`
	CreatedAt    int64   `msgpack:"created_at"`
	UpdatedAt    int64   `msgpack:"updated_at"`
}

func encodeOccurrence(o *cron.Occurrence) ([]byte, error) {
	rec := occRecord{
		ID:           o.ID.String(),
		DefinitionID: o.DefinitionID.String(),
		SlotAt:       timeToMillis(o.SlotAt),
		DueAt:        timeToMillis(o.DueAt),
		Function:     o.Function,
		Payload:      o.Payload,
		Priority:     int(o.Priority),
		MaxRetries:   o.Retry.MaxRetries,
		RetryDelays:  delaysToNanos(o.Retry.Delays),
		Status:       string(o.Status),
		Attempt:      o.Attempt,
		LastError:    o.LastError,
		LeaseOwner:   leaseOwnerStr(o.Lease),
		LeaseExpires: leaseExpiresMillis(o.Lease),
		StartedAt:    timePtrToMillis(o.StartedAt),
		CompletedAt:  timePtrToMillis(o.CompletedAt),
		CreatedAt:    timeToMillis(o.CreatedAt),
		UpdatedAt:    timeToMillis(o.UpdatedAt),
	}
	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("tickerq/redis: encode occurrence: %w", err)
	}
	return data, nil
}

func decodeOccurrence(data []byte) (*cron.Occurrence, error) {
	var rec occRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("tickerq/redis: decode occurrence: %w", err)
	}

	parsedID, err := id.ParseOccurrenceID(rec.ID)
	if err != nil {
		return nil, fmt.Errorf("tickerq/redis: parse occurrence id %q: %w", rec.ID, err)
	}
	parsedDef, err := id.ParseDefinitionID(rec.DefinitionID)
	if err != nil {
		return nil, fmt.Errorf("tickerq/redis: parse definition id %q: %w", rec.DefinitionID, err)
	}

	o := &cron.Occurrence{
		ID:           parsedID,
		DefinitionID: parsedDef,
		SlotAt:       millisToTime(rec.SlotAt),
		DueAt:        millisToTime(rec.DueAt),
		Function:     rec.Function,
		Payload:      rec.Payload,
		Priority:     job.Priority(rec.Priority),
		Retry: job.RetryPolicy{
			MaxRetries: rec.MaxRetries,
			Delays:     nanosToDelays(rec.RetryDelays),
		},
		Status:      job.Status(rec.Status),
		Attempt:     rec.Attempt,
		LastError:   rec.LastError,
		StartedAt:   millisToTimePtr(rec.StartedAt),
		CompletedAt: millisToTimePtr(rec.CompletedAt),
	}
	o.CreatedAt = millisToTime(rec.CreatedAt)
	o.UpdatedAt = millisToTime(rec.UpdatedAt)

	lease, leaseErr := decodeLease(rec.LeaseOwner, rec.LeaseExpires)
	if leaseErr != nil {
		return nil, leaseErr
	}
	o.Lease = lease

	return o, nil
}

// ── DLQ record ────────────────────────────────────────────────────

type dlqRecord struct {
	ID          string  `msgpack:"id"`
	SourceID    string  `msgpack:"source_id"`
	Source      string  `msgpack:"source"`
	Function    string  `msgpack:"function"`
	Payload     []byte  `msgpack:"payload"`
	Priority    int     `msgpack:"priority"`
	MaxRetries  int     `msgpack:"max_retries"`
	RetryDelays []int64 `msgpack:"retry_delays"`
	Error       string  `msgpack:"error"`
	Attempts    int     `msgpack:"attempts"`
	FailedAt    int64   `msgpack:"failed_at"`
	ReplayedAt  int64   `msgpack:"replayed_at"`
	CreatedAt   int64   `msgpack:"created_at"`
}

func encodeDLQ(e *dlq.Entry) ([]byte, error) {
	rec := dlqRecord{
		ID:          e.ID.String(),
		SourceID:    e.SourceID.String(),
		Source:      string(e.Source),
		Function:    e.Function,
		Payload:     e.Payload,
		Priority:    int(e.Priority),
		MaxRetries:  e.Retry.MaxRetries,
		RetryDelays: delaysToNanos(e.Retry.Delays),
		Error:       e.Error,
		Attempts:    e.Attempts,
		FailedAt:    timeToMillis(e.FailedAt),
		ReplayedAt:  timePtrToMillis(e.ReplayedAt),
		CreatedAt:   timeToMillis(e.CreatedAt),
	}
	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("tickerq/redis: encode dlq entry: %w", err)
	}
	return data, nil
}

func decodeDLQ(data []byte) (*dlq.Entry, error) {
	var rec dlqRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("tickerq/redis: decode dlq entry: %w", err)
	}

	parsedID, err := id.ParseDLQID(rec.ID)
	if err != nil {
		return nil, fmt.Errorf("tickerq/redis: parse dlq id %q: %w", rec.ID, err)
	}
	parsedSource, err := id.Parse(rec.SourceID)
	if err != nil {
		return nil, fmt.Errorf("tickerq/redis: parse dlq source id %q: %w", rec.SourceID, err)
	}

	return &dlq.Entry{
		ID:       parsedID,
		SourceID: parsedSource,
		Source:   dlq.SourceKind(rec.Source),
		Function: rec.Function,
		Payload:  rec.Payload,
		Priority: job.Priority(rec.Priority),
		Retry: job.RetryPolicy{
			MaxRetries: rec.MaxRetries,
			Delays:     nanosToDelays(rec.RetryDelays),
		},
		Error:      rec.Error,
		Attempts:   rec.Attempts,
		FailedAt:   millisToTime(rec.FailedAt),
		ReplayedAt: millisToTimePtr(rec.ReplayedAt),
		CreatedAt:  millisToTime(rec.CreatedAt),
	}, nil
}

// ── Node record ───────────────────────────────────────────────────

type nodeRecord struct {
	ID          string `msgpack:"id"`
	Hostname    string `msgpack:"hostname"`
	Concurrency int    `msgpack:"concurrency"`
	State       string `msgpack:"state"`
	LastSeen    int64  `msgpack:"last_seen"`
	CreatedAt   int64  `msgpack:"created_at"`
}

func encodeNode(n *cluster.Node) ([]byte, error) {
	rec := nodeRecord{
		ID:          n.ID.String(),
		Hostname:    n.Hostname,
		Concurrency: n.Concurrency,
		State:       string(n.State),
		LastSeen:    timeToMillis(n.LastSeen),
		CreatedAt:   timeToMillis(n.CreatedAt),
	}
	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("tickerq/redis: encode node: %w", err)
	}
	return data, nil
}

func decodeNode(data []byte) (*cluster.Node, error) {
	var rec nodeRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("tickerq/redis: decode node: %w", err)
	}

	parsedID, err := id.ParseNodeID(rec.ID)
	if err != nil {
		return nil, fmt.Errorf("tickerq/redis: parse node id %q: %w", rec.ID, err)
	}

	return &cluster.Node{
		ID:          parsedID,
		Hostname:    rec.Hostname,
		Concurrency: rec.Concurrency,
		State:       cluster.NodeState(rec.State),
		LastSeen:    millisToTime(rec.LastSeen),
		CreatedAt:   millisToTime(rec.CreatedAt),
	}, nil
}
