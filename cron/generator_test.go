package cron_test

import (
	"context"
	"testing"
	"time"

	tickerq "github.com/joe10832/TickerQ"
	"github.com/joe10832/TickerQ/cron"
	"github.com/joe10832/TickerQ/id"
	"github.com/joe10832/TickerQ/job"
	"github.com/joe10832/TickerQ/store/memory"
)

func testDefinition(t *testing.T, s *memory.Store, name, expr string, active bool) *cron.Definition {
	t.Helper()
	d := &cron.Definition{
		Entity:     tickerq.NewEntity(),
		ID:         id.NewDefinitionID(),
		Name:       name,
		Function:   "report",
		Expression: expr,
		Retry:      job.DefaultRetryPolicy(),
		Active:     active,
	}
	if err := s.CreateDefinition(context.Background(), d); err != nil {
		t.Fatal(err)
	}
	return d
}

func TestGeneratorMaterializesHorizon(t *testing.T) {
	s := memory.New()
	def := testDefinition(t, s, "quarter-hourly", "*/15 * * * *", true)

	g := cron.NewGenerator(s, nil, cron.WithHorizon(time.Hour))
	now := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	if err := g.Refresh(context.Background(), now); err != nil {
		t.Fatal(err)
	}

	occs, err := s.ListOccurrences(context.Background(), def.ID)
	if err != nil {
		t.Fatal(err)
	}
	// 12:15, 12:30, 12:45, 13:00 fall inside [12:00:30, 13:00:30].
	if len(occs) != 4 {
		t.Fatalf("materialized %d occurrences, want 4", len(occs))
	}
	want := time.Date(2026, 3, 1, 12, 15, 0, 0, time.UTC)
	for i, o := range occs {
		if !o.SlotAt.Equal(want) {
			t.Fatalf("slot %d = %v, want %v", i, o.SlotAt, want)
		}
		if !o.DueAt.Equal(o.SlotAt) {
			t.Fatalf("new occurrence DueAt %v != SlotAt %v", o.DueAt, o.SlotAt)
		}
		if o.Status != job.StatusQueued {
			t.Fatalf("status = %s, want queued", o.Status)
		}
		want = want.Add(15 * time.Minute)
	}
}

func TestGeneratorIsIdempotent(t *testing.T) {
	s := memory.New()
	def := testDefinition(t, s, "quarter-hourly", "*/15 * * * *", true)

	g := cron.NewGenerator(s, nil, cron.WithHorizon(time.Hour))
	now := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := g.Refresh(context.Background(), now); err != nil {
			t.Fatal(err)
		}
	}

	occs, _ := s.ListOccurrences(context.Background(), def.ID)
	if len(occs) != 4 {
		t.Fatalf("repeated refresh produced %d occurrences, want 4", len(occs))
	}

	// A later refresh extends the window without re-planning covered
	// slots.
	if err := g.Refresh(context.Background(), now.Add(30*time.Minute)); err != nil {
		t.Fatal(err)
	}
	occs, _ = s.ListOccurrences(context.Background(), def.ID)
	if len(occs) != 6 {
		t.Fatalf("extended refresh produced %d occurrences, want 6", len(occs))
	}
}

func TestGeneratorSkipsInvalidExpression(t *testing.T) {
	s := memory.New()
	testDefinition(t, s, "broken", "not a cron line", true)
	good := testDefinition(t, s, "hourly", "@hourly", true)

	g := cron.NewGenerator(s, nil, cron.WithHorizon(2*time.Hour))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := g.Refresh(context.Background(), now); err != nil {
		t.Fatalf("invalid expression must not abort the refresh: %v", err)
	}

	occs, _ := s.ListOccurrences(context.Background(), good.ID)
	if len(occs) == 0 {
		t.Fatal("healthy definition should still be materialized")
	}
}

func TestGeneratorSkipsInactiveDefinitions(t *testing.T) {
	s := memory.New()
	paused := testDefinition(t, s, "paused", "@hourly", false)

	g := cron.NewGenerator(s, nil, cron.WithHorizon(2*time.Hour))
	if err := g.Refresh(context.Background(), time.Now()); err != nil {
		t.Fatal(err)
	}

	occs, _ := s.ListOccurrences(context.Background(), paused.ID)
	if len(occs) != 0 {
		t.Fatalf("inactive definition produced %d occurrences, want 0", len(occs))
	}
}

func TestGeneratorCapsPerDefinition(t *testing.T) {
	s := memory.New()
	def := testDefinition(t, s, "every-minute", "* * * * *", true)

	g := cron.NewGenerator(s, nil,
		cron.WithHorizon(24*time.Hour),
		cron.WithMaxPerDefinition(10),
	)
	if err := g.Refresh(context.Background(), time.Now()); err != nil {
		t.Fatal(err)
	}

	occs, _ := s.ListOccurrences(context.Background(), def.ID)
	if len(occs) != 10 {
		t.Fatalf("materialized %d occurrences, want the 10 cap", len(occs))
	}
}

func TestParseScheduleDescriptors(t *testing.T) {
	for _, expr := range []string{"@hourly", "@every 30s", "*/5 * * * *", "0 3 * * 1-5"} {
		if _, err := cron.ParseSchedule(expr); err != nil {
			t.Fatalf("ParseSchedule(%q) = %v", expr, err)
		}
	}
	if _, err := cron.ParseSchedule("61 * * * *"); err == nil {
		t.Fatal("out-of-range minute should fail")
	}
}
