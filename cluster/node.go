package cluster

import (
	"time"

	"github.com/joe10832/TickerQ/id"
)

// NodeState represents the lifecycle state of a node.
type NodeState string

const (
	// NodeActive means the node is healthy and processing jobs.
	NodeActive NodeState = "active"
	// NodeDraining means the node is finishing in-flight jobs but not
	// claiming new ones (graceful shutdown).
	NodeDraining NodeState = "draining"
	// NodeDead means the node has stopped heartbeating; its leases will
	// expire and be reclaimed by the survivors.
	NodeDead NodeState = "dead"
)

// Node represents one engine process in a cluster sharing a store.
type Node struct {
	ID          id.NodeID `json:"id"`
	Hostname    string    `json:"hostname"`
	Concurrency int       `json:"concurrency"`
	State       NodeState `json:"state"`
	LastSeen    time.Time `json:"last_seen"`
	CreatedAt   time.Time `json:"created_at"`
}
