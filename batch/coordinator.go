// Package batch releases or cancels gated child jobs when their parent
// (or a sibling) reaches a terminal state. Children with a parent stay
// Idle, invisible to due-job selection, until the coordinator queues
// them.
package batch

import (
	"context"
	"log/slog"
	"time"

	"github.com/joe10832/TickerQ/id"
	"github.com/joe10832/TickerQ/job"
)

// Coordinator evaluates batch run conditions.
type Coordinator struct {
	jobs   job.Store
	logger *slog.Logger
	wake   func()
	now    func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithWakeFunc registers a callback fired after a child is queued, so
// the dispatch loop picks it up without waiting for its timer.
func WithWakeFunc(fn func()) Option {
	return func(c *Coordinator) { c.wake = fn }
}

// WithLogger sets the coordinator's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCoordinator creates a batch coordinator over the job store.
func NewCoordinator(jobs job.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		jobs:   jobs,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// JobFinished re-evaluates gating after the given job reached a terminal
// state: its own children, and, if it is itself a batch child, its
// sibling set (AllSiblingsSucceeded conditions may now be decidable).
func (c *Coordinator) JobFinished(ctx context.Context, jobID id.JobID) {
	j, err := c.jobs.GetJob(ctx, jobID)
	if err != nil {
		c.logger.Error("load finished job",
			slog.String("job", jobID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if !j.Status.Terminal() {
		return
	}

	c.evaluateChildren(ctx, j.ID)
	if !j.ParentID.IsNil() {
		c.evaluateChildren(ctx, j.ParentID)
	}
}

// evaluateChildren resolves every Idle child of the given parent whose
// condition has become decidable.
func (c *Coordinator) evaluateChildren(ctx context.Context, parentID id.JobID) {
	parent, err := c.jobs.GetJob(ctx, parentID)
	if err != nil {
		c.logger.Error("load batch parent",
			slog.String("job", parentID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if !parent.Status.Terminal() {
		return
	}

	children, err := c.jobs.ChildJobs(ctx, parentID)
	if err != nil {
		c.logger.Error("load batch children",
			slog.String("parent", parentID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	released := false
	for _, child := range children {
		if child.Status != job.StatusIdle {
			continue
		}
		switch c.decide(parent, child, children) {
		case decisionRelease:
			if c.release(ctx, child) {
				released = true
			}
		case decisionCancel:
			c.cancelSubtree(ctx, child, "batch condition not met")
		case decisionWait:
		}
	}

	if released && c.wake != nil {
		c.wake()
	}
}

type decision int

const (
	decisionWait decision = iota
	decisionRelease
	decisionCancel
)

// decide resolves a child's run condition against the parent's terminal
// state. Siblings under AllSiblingsSucceeded are the other children of
// the same parent, excluding those gated on the sibling set themselves.
func (c *Coordinator) decide(parent, child *job.Job, siblings []*job.Job) decision {
	switch child.RunCondition {
	case job.RunAlways:
		return decisionRelease

	case job.RunAllSiblingsSucceeded:
		if parent.Status != job.StatusDone {
			return decisionCancel
		}
		for _, sib := range siblings {
			if sib.ID == child.ID || sib.RunCondition == job.RunAllSiblingsSucceeded {
				continue
			}
			switch sib.Status {
			case job.StatusDone:
			case job.StatusFailed, job.StatusCancelled:
				return decisionCancel
			default:
				return decisionWait
			}
		}
		return decisionRelease

	default: // RunOnSuccess
		if parent.Status == job.StatusDone {
			return decisionRelease
		}
		return decisionCancel
	}
}

// release queues an Idle child so due-job selection can see it.
func (c *Coordinator) release(ctx context.Context, child *job.Job) bool {
	now := c.now()
	child.Status = job.StatusQueued
	if child.ExecuteAt.IsZero() || child.ExecuteAt.Before(now) {
		child.ExecuteAt = now
	}
	child.Touch()
	if err := c.jobs.UpdateJob(ctx, child); err != nil {
		c.logger.Error("queue batch child",
			slog.String("job", child.ID.String()),
			slog.String("error", err.Error()),
		)
		return false
	}
	c.logger.Info("batch child released",
		slog.String("job", child.ID.String()),
		slog.String("function", child.Function),
	)
	return true
}

// cancelSubtree cancels a child, then re-evaluates the child's own
// children under the normal rules: cancellation is a terminal state, so
// an Always grandchild still runs while OnSuccess descendants cascade
// into cancellation.
func (c *Coordinator) cancelSubtree(ctx context.Context, child *job.Job, reason string) {
	now := c.now()
	child.Status = job.StatusCancelled
	child.CancelReason = reason
	child.CompletedAt = &now
	child.Touch()
	if err := c.jobs.UpdateJob(ctx, child); err != nil {
		c.logger.Error("cancel batch child",
			slog.String("job", child.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	c.logger.Info("batch child cancelled",
		slog.String("job", child.ID.String()),
		slog.String("reason", reason),
	)

	c.evaluateChildren(ctx, child.ID)
}
