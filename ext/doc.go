// Package ext defines the extension system for TickerQ.
//
// Extensions are notified of lifecycle events and can react to them:
// recording metrics, alerting on permanent failures, writing audit logs.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type Alerter struct{}
//
//	func (a *Alerter) Name() string { return "alerter" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (a *Alerter) OnTaskFailed(ctx context.Context, t ext.TaskInfo, err error) error {
//	    return page(ctx, t.Function, err)
//	}
//
// # Hooks
//
//   - [JobScheduled]: a time job was accepted for scheduling
//   - [TaskStarted]: a node began executing a job or occurrence
//   - [TaskCompleted]: execution finished successfully
//   - [TaskRetrying]: execution failed and a retry was scheduled
//   - [TaskFailed]: execution failed permanently; this is the engine's
//     pluggable exception-handler surface and fires exactly once per task
//   - [TaskCancelled]: execution was cancelled
//   - [TaskDLQ]: the task was archived in the dead letter queue
//   - [Shutdown]: the dispatcher is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. Hook errors and panics are
// swallowed and logged; they never reach the scheduler loop.
package ext
