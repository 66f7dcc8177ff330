package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tickerq "github.com/joe10832/TickerQ"
	"github.com/joe10832/TickerQ/id"
	"github.com/joe10832/TickerQ/job"
)

// Generator materializes upcoming firings of active definitions into
// occurrence records over a rolling lookahead horizon.
type Generator struct {
	store   Store
	logger  *slog.Logger
	horizon time.Duration
	maxPer  int
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithHorizon sets how far ahead occurrences are materialized.
func WithHorizon(d time.Duration) GeneratorOption {
	return func(g *Generator) { g.horizon = d }
}

// WithMaxPerDefinition caps occurrences materialized per definition per
// refresh. Guards against pathological expressions like "* * * * *" over
// a long horizon.
func WithMaxPerDefinition(n int) GeneratorOption {
	return func(g *Generator) { g.maxPer = n }
}

// NewGenerator creates a Generator.
func NewGenerator(store Store, logger *slog.Logger, opts ...GeneratorOption) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Generator{
		store:   store,
		logger:  logger,
		horizon: 10 * time.Minute,
		maxPer:  100,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Refresh materializes occurrences due within [now, now+horizon] for every
// active definition. Generation is idempotent: occurrences are keyed
// (definition, due instant) and re-running over the same window creates no
// duplicates. A definition with an unparsable expression is logged and
// skipped without blocking the others. Store errors abort the refresh.
func (g *Generator) Refresh(ctx context.Context, now time.Time) error {
	defs, err := g.store.ListDefinitions(ctx, true)
	if err != nil {
		return fmt.Errorf("cron: list definitions: %w", err)
	}

	for _, def := range defs {
		if err := g.generate(ctx, def, now); err != nil {
			if errors.Is(err, tickerq.ErrInvalidScheduleExpression) {
				g.logger.Warn("skipping definition with invalid expression",
					slog.String("definition_id", def.ID.String()),
					slog.String("definition_name", def.Name),
					slog.String("expression", def.Expression),
				)
				continue
			}
			return err
		}
	}
	return nil
}

// generate materializes the occurrences of a single definition.
func (g *Generator) generate(ctx context.Context, def *Definition, now time.Time) error {
	sched, err := ParseSchedule(def.Expression)
	if err != nil {
		return err
	}

	// Resume after the latest slot already materialized so horizon
	// refreshes never re-plan covered ground.
	after := now
	latest, err := g.store.LatestOccurrenceFor(ctx, def.ID)
	if err != nil {
		return fmt.Errorf("cron: latest occurrence for %s: %w", def.ID, err)
	}
	if latest != nil && latest.After(after) {
		after = *latest
	}

	end := now.Add(g.horizon)
	created := 0

	for next := sched.Next(after); !next.IsZero() && !next.After(end); next = sched.Next(next) {
		if created >= g.maxPer {
			break
		}

		occ := &Occurrence{
			ID:           id.NewOccurrenceID(),
			DefinitionID: def.ID,
			SlotAt:       next.UTC(),
			DueAt:        next.UTC(),
			Function:     def.Function,
			Payload:      def.Payload,
			Priority:     def.Priority,
			Retry:        def.Retry,
			Status:       job.StatusQueued,
		}
		occ.Touch()

		err := g.store.CreateOccurrence(ctx, occ)
		switch {
		case err == nil:
			created++
		case errors.Is(err, tickerq.ErrDuplicateOccurrence):
			// Already materialized by an earlier refresh or another node.
		default:
			return fmt.Errorf("cron: create occurrence: %w", err)
		}
	}

	if created > 0 {
		g.logger.Debug("materialized occurrences",
			slog.String("definition_name", def.Name),
			slog.Int("count", created),
		)
	}
	return nil
}
