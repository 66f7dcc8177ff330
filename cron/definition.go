package cron

import (
	"fmt"

	cronlib "github.com/robfig/cron/v3"

	tickerq "github.com/joe10832/TickerQ"
	"github.com/joe10832/TickerQ/id"
	"github.com/joe10832/TickerQ/job"
)

// Definition is a recurring schedule template: which function to run, on
// what cron expression, with what payload and defaults. It is never
// executed directly; the generator materializes it into occurrences.
type Definition struct {
	tickerq.Entity

	ID         id.DefinitionID `json:"id"`
	Name       string          `json:"name"`
	Function   string          `json:"function"`
	Expression string          `json:"expression"`
	Payload    []byte          `json:"payload,omitempty"`
	Priority   job.Priority    `json:"priority"`
	Retry      job.RetryPolicy `json:"retry"`
	Active     bool            `json:"active"`
}

// cronParser supports standard five-field cron expressions
// (minute hour dom month dow with * / , -) and descriptors like
// "@every 30s" or "@hourly".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
// An unparsable expression yields ErrInvalidScheduleExpression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", tickerq.ErrInvalidScheduleExpression, expr, err)
	}
	return sched, nil
}
