// Package cluster tracks the nodes cooperating over a shared store.
//
// There is no leader election and no central lock service: mutual
// exclusion over individual jobs is handled by per-job lease claiming.
// The node registry exists for liveness observability; each process
// registers itself, heartbeats while alive, and dead nodes are reaped so
// operators can see who is (or was) doing the work.
package cluster
