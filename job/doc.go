// Package job defines the time job entity, its lifecycle state machine,
// priorities, retry policy, batch run conditions, the function registry,
// and the job persistence contract.
package job
