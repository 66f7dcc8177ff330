package memory

import (
	"context"
	"sort"
	"time"

	tickerq "github.com/joe10832/TickerQ"
	"github.com/joe10832/TickerQ/cluster"
	"github.com/joe10832/TickerQ/id"
)

func (s *Store) RegisterNode(ctx context.Context, n *cluster.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return tickerq.ErrStoreClosed
	}
	s.nodes[n.ID.String()] = cloneNode(n)
	return nil
}

func (s *Store) DeregisterNode(ctx context.Context, nodeID id.NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return tickerq.ErrStoreClosed
	}
	key := nodeID.String()
	if _, ok := s.nodes[key]; !ok {
		return tickerq.ErrNodeNotFound
	}
	delete(s.nodes, key)
	return nil
}

func (s *Store) HeartbeatNode(ctx context.Context, nodeID id.NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return tickerq.ErrStoreClosed
	}
	n, ok := s.nodes[nodeID.String()]
	if !ok {
		return tickerq.ErrNodeNotFound
	}
	n.LastSeen = time.Now().UTC()
	if n.State == cluster.NodeDead {
		n.State = cluster.NodeActive
	}
	return nil
}

func (s *Store) ListNodes(ctx context.Context) ([]*cluster.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, tickerq.ErrStoreClosed
	}

	nodes := make([]*cluster.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, cloneNode(n))
	}
	sort.Slice(nodes, func(i, k int) bool { return nodes[i].ID.String() < nodes[k].ID.String() })
	return nodes, nil
}

func (s *Store) ReapDeadNodes(ctx context.Context, threshold time.Duration) ([]*cluster.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, tickerq.ErrStoreClosed
	}

	cutoff := time.Now().Add(-threshold)
	var reaped []*cluster.Node
	for _, n := range s.nodes {
		if n.State != cluster.NodeDead && n.LastSeen.Before(cutoff) {
			n.State = cluster.NodeDead
			reaped = append(reaped, cloneNode(n))
		}
	}
	return reaped, nil
}
