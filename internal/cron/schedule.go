// Package cron parses and evaluates the cron expressions carried by a
// workflow's schedule trigger.
package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Schedule is a parsed, ready-to-evaluate cron expression, optionally
// pinned to a timezone.
type Schedule struct {
	expr     string
	sched    cron.Schedule
	location *time.Location
}

// Parse compiles expr (standard 5-field cron, optional leading seconds
// field, or a descriptor like "@hourly") against the given IANA timezone
// name. An empty timezone defaults to UTC.
func Parse(expr, timezone string) (*Schedule, error) {
	if expr == "" {
		return nil, fmt.Errorf("cron: empty expression")
	}
	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("cron: invalid timezone %q: %w", timezone, err)
		}
		loc = l
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("cron: invalid expression %q: %w", expr, err)
	}
	return &Schedule{expr: expr, sched: sched, location: loc}, nil
}

// Next returns the next activation time strictly after from, evaluated
// in the schedule's configured timezone.
func (s *Schedule) Next(from time.Time) time.Time {
	return s.sched.Next(from.In(s.location))
}

// Expr returns the original cron expression the schedule was parsed from.
func (s *Schedule) Expr() string {
	return s.expr
}

// Due reports whether the schedule has an activation time in
// (since, now], i.e. whether a trigger check at now should fire given
// that the last check was at since.
func (s *Schedule) Due(since, now time.Time) bool {
	next := s.Next(since)
	return !next.After(now)
}
