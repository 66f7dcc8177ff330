package cluster

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/joe10832/TickerQ/id"
)

// Membership keeps this process's node record alive in the cluster
// registry: register on start, heartbeat on an interval, reap nodes that
// stopped heartbeating, deregister on stop.
type Membership struct {
	store         Store
	nodeID        id.NodeID
	concurrency   int
	logger        *slog.Logger
	interval      time.Duration
	deadThreshold time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	active bool
}

// MembershipOption configures a Membership.
type MembershipOption func(*Membership)

// WithHeartbeat sets the node heartbeat interval.
func WithHeartbeat(d time.Duration) MembershipOption {
	return func(m *Membership) { m.interval = d }
}

// WithDeadThreshold sets how long a silent node is tolerated before
// being marked dead.
func WithDeadThreshold(d time.Duration) MembershipOption {
	return func(m *Membership) { m.deadThreshold = d }
}

// WithConcurrency records the node's worker concurrency for observability.
func WithConcurrency(n int) MembershipOption {
	return func(m *Membership) { m.concurrency = n }
}

// NewMembership creates a Membership for the given node identity.
func NewMembership(store Store, nodeID id.NodeID, logger *slog.Logger, opts ...MembershipOption) *Membership {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Membership{
		store:         store,
		nodeID:        nodeID,
		logger:        logger,
		interval:      15 * time.Second,
		deadThreshold: 1 * time.Minute,
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start registers the node and launches the heartbeat loop.
func (m *Membership) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		return nil
	}

	hostname, _ := os.Hostname()
	now := time.Now().UTC()
	n := &Node{
		ID:          m.nodeID,
		Hostname:    hostname,
		Concurrency: m.concurrency,
		State:       NodeActive,
		LastSeen:    now,
		CreatedAt:   now,
	}
	if err := m.store.RegisterNode(ctx, n); err != nil {
		return err
	}

	m.active = true
	m.wg.Add(1)
	go m.heartbeatLoop()

	m.logger.Info("node joined cluster",
		slog.String("node_id", m.nodeID.String()),
		slog.String("hostname", hostname),
	)
	return nil
}

// Stop marks the node draining, stops the heartbeat loop, and removes
// the node record. If deregistration fails the record stays behind in
// the draining state, so survivors see an intentional shutdown rather
// than a stalled heartbeat.
func (m *Membership) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return nil
	}
	m.active = false
	m.mu.Unlock()

	hostname, _ := os.Hostname()
	if err := m.store.RegisterNode(ctx, &Node{
		ID:          m.nodeID,
		Hostname:    hostname,
		Concurrency: m.concurrency,
		State:       NodeDraining,
		LastSeen:    time.Now().UTC(),
	}); err != nil {
		m.logger.Warn("mark node draining failed",
			slog.String("node_id", m.nodeID.String()),
			slog.String("error", err.Error()),
		)
	}

	close(m.stopCh)
	m.wg.Wait()

	if err := m.store.DeregisterNode(ctx, m.nodeID); err != nil {
		m.logger.Warn("deregister node failed",
			slog.String("node_id", m.nodeID.String()),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (m *Membership) heartbeatLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			ctx := context.Background()
			if err := m.store.HeartbeatNode(ctx, m.nodeID); err != nil {
				m.logger.Warn("node heartbeat failed", slog.String("error", err.Error()))
				continue
			}
			m.reap(ctx)
		}
	}
}

func (m *Membership) reap(ctx context.Context) {
	dead, err := m.store.ReapDeadNodes(ctx, m.deadThreshold)
	if err != nil {
		m.logger.Warn("reap dead nodes failed", slog.String("error", err.Error()))
		return
	}
	for _, n := range dead {
		m.logger.Info("marked silent node dead",
			slog.String("node_id", n.ID.String()),
			slog.String("hostname", n.Hostname),
			slog.Time("last_seen", n.LastSeen),
		)
	}
}
