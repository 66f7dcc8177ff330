package postgres

import (
	"context"
	"fmt"
	"time"

	tickerq "github.com/joe10832/TickerQ"
	"github.com/joe10832/TickerQ/cluster"
	"github.com/joe10832/TickerQ/id"
)

// RegisterNode adds a node to the cluster registry. Re-registering an
// existing node refreshes its row.
func (s *Store) RegisterNode(ctx context.Context, n *cluster.Node) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tickerq_nodes (id, hostname, concurrency, state, last_seen, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			concurrency = EXCLUDED.concurrency,
			state = EXCLUDED.state,
			last_seen = EXCLUDED.last_seen`,
		n.ID.String(), n.Hostname, n.Concurrency, string(n.State),
		n.LastSeen, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("tickerq/postgres: register node: %w", err)
	}
	return nil
}

// DeregisterNode removes a node from the cluster registry.
func (s *Store) DeregisterNode(ctx context.Context, nodeID id.NodeID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM tickerq_nodes WHERE id = $1`, nodeID.String())
	if err != nil {
		return fmt.Errorf("tickerq/postgres: deregister node: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tickerq.ErrNodeNotFound
	}
	return nil
}

// HeartbeatNode updates the last-seen timestamp for a node. A node
// previously reaped as dead comes back active.
func (s *Store) HeartbeatNode(ctx context.Context, nodeID id.NodeID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tickerq_nodes SET
			last_seen = NOW(),
			state = CASE WHEN state = 'dead' THEN 'active' ELSE state END
		WHERE id = $1`,
		nodeID.String(),
	)
	if err != nil {
		return fmt.Errorf("tickerq/postgres: heartbeat node: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tickerq.ErrNodeNotFound
	}
	return nil
}

// ListNodes returns all registered nodes.
func (s *Store) ListNodes(ctx context.Context) ([]*cluster.Node, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, hostname, concurrency, state, last_seen, created_at
		FROM tickerq_nodes
		ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("tickerq/postgres: list nodes: %w", err)
	}
	defer rows.Close()

	return collectNodes(rows)
}

// ReapDeadNodes marks nodes whose last-seen timestamp is older than the
// threshold as dead and returns them. Their leases are left to expire.
func (s *Store) ReapDeadNodes(ctx context.Context, threshold time.Duration) ([]*cluster.Node, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	rows, err := s.pool.Query(ctx, `
		UPDATE tickerq_nodes SET state = 'dead'
		WHERE state <> 'dead' AND last_seen < $1
		RETURNING id, hostname, concurrency, state, last_seen, created_at`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("tickerq/postgres: reap dead nodes: %w", err)
	}
	defer rows.Close()

	return collectNodes(rows)
}
