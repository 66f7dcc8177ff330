package cluster_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/joe10832/TickerQ/cluster"
	"github.com/joe10832/TickerQ/id"
	"github.com/joe10832/TickerQ/store/memory"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestMembershipLifecycle(t *testing.T) {
	st := memory.New()
	nodeID := id.NewNodeID()
	logger := slog.New(slog.DiscardHandler)

	m := cluster.NewMembership(st, nodeID, logger,
		cluster.WithHeartbeat(10*time.Millisecond),
		cluster.WithConcurrency(4),
	)

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	nodes, err := st.ListNodes(ctx)
	if err != nil {
		t.Fatalf("ListNodes: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("got %d nodes, want 1", len(nodes))
	}
	if nodes[0].ID != nodeID {
		t.Fatalf("registered node %s, want %s", nodes[0].ID, nodeID)
	}
	if nodes[0].State != cluster.NodeActive {
		t.Fatalf("node state = %s, want active", nodes[0].State)
	}
	if nodes[0].Concurrency != 4 {
		t.Fatalf("node concurrency = %d, want 4", nodes[0].Concurrency)
	}

	registeredAt := nodes[0].LastSeen
	waitFor(t, time.Second, func() bool {
		ns, listErr := st.ListNodes(ctx)
		return listErr == nil && len(ns) == 1 && ns[0].LastSeen.After(registeredAt)
	})

	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	nodes, err = st.ListNodes(ctx)
	if err != nil {
		t.Fatalf("ListNodes after stop: %v", err)
	}
	if len(nodes) != 0 {
		t.Fatalf("got %d nodes after stop, want 0", len(nodes))
	}
}

func TestMembershipReapsStaleNodes(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	// A node that stopped heartbeating long ago.
	stale := &cluster.Node{
		ID:       id.NewNodeID(),
		Hostname: "gone",
		State:    cluster.NodeActive,
		LastSeen: time.Now().UTC().Add(-time.Hour),
	}
	if err := st.RegisterNode(ctx, stale); err != nil {
		t.Fatalf("RegisterNode: %v", err)
	}

	m := cluster.NewMembership(st, id.NewNodeID(), slog.New(slog.DiscardHandler),
		cluster.WithHeartbeat(10*time.Millisecond),
		cluster.WithDeadThreshold(time.Minute),
	)
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(ctx)

	waitFor(t, time.Second, func() bool {
		ns, err := st.ListNodes(ctx)
		if err != nil {
			return false
		}
		for _, n := range ns {
			if n.ID == stale.ID {
				return n.State == cluster.NodeDead
			}
		}
		return false
	})
}

// stuckStore refuses deregistration, as an unreachable backend would.
type stuckStore struct {
	cluster.Store
}

func (s *stuckStore) DeregisterNode(context.Context, id.NodeID) error {
	return errors.New("connection refused")
}

func TestMembershipStopMarksNodeDraining(t *testing.T) {
	st := memory.New()
	nodeID := id.NewNodeID()
	ctx := context.Background()

	m := cluster.NewMembership(&stuckStore{Store: st}, nodeID, slog.New(slog.DiscardHandler),
		cluster.WithHeartbeat(time.Hour),
		cluster.WithConcurrency(2),
	)
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// The record could not be removed; it must at least say the shutdown
	// was intentional.
	nodes, err := st.ListNodes(ctx)
	if err != nil {
		t.Fatalf("ListNodes: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("got %d nodes, want 1", len(nodes))
	}
	if nodes[0].State != cluster.NodeDraining {
		t.Fatalf("node state = %s, want draining", nodes[0].State)
	}
}

func TestMembershipStartIsIdempotent(t *testing.T) {
	st := memory.New()
	m := cluster.NewMembership(st, id.NewNodeID(), slog.New(slog.DiscardHandler),
		cluster.WithHeartbeat(time.Hour),
	)

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	defer m.Stop(ctx)

	nodes, err := st.ListNodes(ctx)
	if err != nil {
		t.Fatalf("ListNodes: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("got %d nodes, want 1", len(nodes))
	}
}
