// Package schedule computes upcoming ticks for recurring job expressions.
package schedule

import (
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Valid reports whether expr parses as a standard five-field cron expression
// or descriptor such as @daily.
func Valid(expr string) bool {
	_, err := parser.Parse(expr)
	return err == nil
}

// Next returns the first tick of expr strictly after `after`, evaluated in
// timezone. The second result is false when the expression or timezone cannot
// be interpreted; schedule expressions are otherwise opaque.
func Next(expr, timezone string, after time.Time) (time.Time, bool) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, false
	}
	loc := time.UTC
	if timezone != "" {
		if loc, err = time.LoadLocation(timezone); err != nil {
			return time.Time{}, false
		}
	}
	next := sched.Next(after.In(loc))
	if next.IsZero() {
		return time.Time{}, false
	}
	return next.UTC(), true
}
