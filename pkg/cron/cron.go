// Package cron is the cron scheduler (component O): 5-field POSIX cron
// parsing, next-run computation in a schedule's timezone, and
// missed/triggered processing of due schedules.
package cron

import (
	"context"
	"fmt"
	"time"

	robfigcron "github.com/robfig/cron/v3"

	"github.com/sremani/chengis/internal/telemetry/logging"
)

var log = logging.New("cron")

var parser = robfigcron.NewParser(robfigcron.Minute | robfigcron.Hour | robfigcron.Dom | robfigcron.Month | robfigcron.Dow)

// ParseExpression parses a 5-field POSIX cron expression ("*", "*/N",
// "A-B", "A,B" per field). An invalid expression returns a non-nil error;
// callers treat that as "schedule is invalid" rather than panicking.
func ParseExpression(expr string) (robfigcron.Schedule, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("cron: parse %q: %w", expr, err)
	}
	return sched, nil
}

// NextRunTime computes the next time expr matches strictly after from, in the
// IANA timezone tz (empty means UTC).
func NextRunTime(expr string, from time.Time, tz string) (time.Time, error) {
	sched, err := ParseExpression(expr)
	if err != nil {
		return time.Time{}, err
	}
	loc := time.UTC
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return time.Time{}, fmt.Errorf("cron: load timezone %q: %w", tz, err)
		}
		loc = l
	}
	return sched.Next(from.In(loc)), nil
}

// Matches reports whether expr matches instant t exactly, by checking that
// the next run computed from the minute immediately before t equals t
// truncated to the minute.
func Matches(expr string, t time.Time, tz string) (bool, error) {
	loc := time.UTC
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return false, fmt.Errorf("cron: load timezone %q: %w", tz, err)
		}
		loc = l
	}
	truncated := t.In(loc).Truncate(time.Minute)
	next, err := NextRunTime(expr, truncated.Add(-time.Minute), tz)
	if err != nil {
		return false, err
	}
	return next.Equal(truncated), nil
}

// Outcome is what processing one due schedule produced.
type Outcome string

const (
	OutcomeTriggered Outcome = "triggered"
	OutcomeMissed    Outcome = "missed"
)

// ScheduleState is the subset of a persisted cron schedule
// process-due-schedules needs.
type ScheduleState struct {
	ID                        string
	Expression                string
	Timezone                  string
	Enabled                   bool
	NextRunAt                 time.Time
	MissedRunThresholdMinutes int
}

// ProcessResult is the per-schedule outcome of one processing pass.
type ProcessResult struct {
	ScheduleID   string
	Outcome      Outcome
	NewNextRunAt time.Time
	Err          error
}

// TriggerFunc creates a build for a due schedule.
type TriggerFunc func(ctx context.Context, scheduleID string) error

// ProcessDueSchedules evaluates every enabled schedule whose NextRunAt is
// at or before now: schedules more than MissedRunThresholdMinutes overdue
// are logged as missed (no build is created); schedules within the
// threshold trigger a build. A threshold of 0 disables missed-run detection,
// so every due schedule triggers. NextRunAt is advanced in both cases. Fan-out
// across schedules is capped at maxConcurrent.
func ProcessDueSchedules(ctx context.Context, schedules []ScheduleState, now time.Time, maxConcurrent int, trigger TriggerFunc) []ProcessResult {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	due := make([]ScheduleState, 0, len(schedules))
	for _, s := range schedules {
		if s.Enabled && !s.NextRunAt.After(now) {
			due = append(due, s)
		}
	}
	if len(due) == 0 {
		return nil
	}

	results := make([]ProcessResult, len(due))
	sem := make(chan struct{}, maxConcurrent)
	done := make(chan struct{})
	remaining := len(due)

	for i, s := range due {
		sem <- struct{}{}
		go func(i int, s ScheduleState) {
			defer func() { <-sem; done <- struct{}{} }()
			results[i] = processOne(ctx, s, now, trigger)
		}(i, s)
	}
	for r := 0; r < remaining; r++ {
		<-done
	}
	return results
}

func processOne(ctx context.Context, s ScheduleState, now time.Time, trigger TriggerFunc) ProcessResult {
	overdue := now.Sub(s.NextRunAt)
	threshold := time.Duration(s.MissedRunThresholdMinutes) * time.Minute

	newNext, err := NextRunTime(s.Expression, now, s.Timezone)
	if err != nil {
		log.Error("schedule has invalid expression, leaving next-run-at unchanged", "schedule_id", s.ID, "error", err)
		return ProcessResult{ScheduleID: s.ID, Outcome: OutcomeMissed, NewNextRunAt: s.NextRunAt, Err: err}
	}

	if s.MissedRunThresholdMinutes > 0 && overdue > threshold {
		log.Warn("cron schedule missed", "schedule_id", s.ID, "overdue", overdue)
		return ProcessResult{ScheduleID: s.ID, Outcome: OutcomeMissed, NewNextRunAt: newNext}
	}

	if err := trigger(ctx, s.ID); err != nil {
		log.Error("failed to trigger build for due schedule", "schedule_id", s.ID, "error", err)
		return ProcessResult{ScheduleID: s.ID, Outcome: OutcomeTriggered, NewNextRunAt: newNext, Err: err}
	}
	log.Info("cron schedule triggered", "schedule_id", s.ID)
	return ProcessResult{ScheduleID: s.ID, Outcome: OutcomeTriggered, NewNextRunAt: newNext}
}
