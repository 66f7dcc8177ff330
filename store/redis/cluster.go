package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	tickerq "github.com/joe10832/TickerQ"
	"github.com/joe10832/TickerQ/cluster"
	"github.com/joe10832/TickerQ/id"
)

// RegisterNode adds a node to the cluster registry. Re-registering an
// existing node refreshes its blob.
func (s *Store) RegisterNode(ctx context.Context, n *cluster.Node) error {
	data, err := encodeNode(n)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, nodeKey(n.ID.String()), data, 0)
	pipe.SAdd(ctx, nodeIDsKey, n.ID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("tickerq/redis: register node: %w", err)
	}
	return nil
}

// DeregisterNode removes a node from the cluster registry.
func (s *Store) DeregisterNode(ctx context.Context, nodeID id.NodeID) error {
	nID := nodeID.String()
	exists, err := s.client.Exists(ctx, nodeKey(nID)).Result()
	if err != nil {
		return fmt.Errorf("tickerq/redis: deregister node exists: %w", err)
	}
	if exists == 0 {
		return tickerq.ErrNodeNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, nodeKey(nID))
	pipe.SRem(ctx, nodeIDsKey, nID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("tickerq/redis: deregister node: %w", err)
	}
	return nil
}

// HeartbeatNode updates the last-seen timestamp for a node. A node
// previously reaped as dead comes back active.
func (s *Store) HeartbeatNode(ctx context.Context, nodeID id.NodeID) error {
	n, err := s.getNode(ctx, nodeID)
	if err != nil {
		return err
	}

	n.LastSeen = time.Now().UTC()
	if n.State == cluster.NodeDead {
		n.State = cluster.NodeActive
	}

	data, err := encodeNode(n)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, nodeKey(nodeID.String()), data, 0).Err(); err != nil {
		return fmt.Errorf("tickerq/redis: heartbeat node: %w", err)
	}
	return nil
}

// ListNodes returns all registered nodes.
func (s *Store) ListNodes(ctx context.Context) ([]*cluster.Node, error) {
	nodes, err := s.allNodes(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(nodes, func(i, k int) bool {
		return nodes[i].ID.String() < nodes[k].ID.String()
	})
	return nodes, nil
}

// ReapDeadNodes marks nodes whose last-seen timestamp is older than the
// threshold as dead and returns them. Their leases are left to expire.
func (s *Store) ReapDeadNodes(ctx context.Context, threshold time.Duration) ([]*cluster.Node, error) {
	nodes, err := s.allNodes(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-threshold)
	var reaped []*cluster.Node
	for _, n := range nodes {
		if n.State == cluster.NodeDead || !n.LastSeen.Before(cutoff) {
			continue
		}
		n.State = cluster.NodeDead
		data, encErr := encodeNode(n)
		if encErr != nil {
			return nil, encErr
		}
		if setErr := s.client.Set(ctx, nodeKey(n.ID.String()), data, 0).Err(); setErr != nil {
			return nil, fmt.Errorf("tickerq/redis: reap node: %w", setErr)
		}
		reaped = append(reaped, n)
	}
	return reaped, nil
}

func (s *Store) getNode(ctx context.Context, nodeID id.NodeID) (*cluster.Node, error) {
	data, err := s.client.Get(ctx, nodeKey(nodeID.String())).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, tickerq.ErrNodeNotFound
		}
		return nil, fmt.Errorf("tickerq/redis: get node: %w", err)
	}
	return decodeNode(data)
}

func (s *Store) allNodes(ctx context.Context) ([]*cluster.Node, error) {
	ids, err := s.client.SMembers(ctx, nodeIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("tickerq/redis: list node ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, nID := range ids {
		keys[i] = nodeKey(nID)
	}
	raw, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("tickerq/redis: fetch nodes: %w", err)
	}

	nodes := make([]*cluster.Node, 0, len(raw))
	for _, v := range raw {
		str, ok := v.(string)
		if !ok {
			continue
		}
		n, decErr := decodeNode([]byte(str))
		if decErr != nil {
			return nil, decErr
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}
