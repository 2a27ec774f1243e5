// Package schedule gates the triage loop to configured active hours.
// Hours are written as a standard five-field cron expression matching the
// minutes in which scanning is allowed, e.g. "* 9-23 * * *".
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ActiveHours reports whether a moment falls in a minute matched by a cron
// expression. It implements triage.ActivityGate.
type ActiveHours struct {
	expr  string
	sched *cron.SpecSchedule
}

// NewActiveHours parses expr in the named time zone ("" or "Local" for
// the local zone).
func NewActiveHours(expr, timezone string) (*ActiveHours, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty active hours expression")
	}

	loc := time.Local
	if timezone != "" {
		var err error
		if loc, err = time.LoadLocation(timezone); err != nil {
			return nil, fmt.Errorf("active hours timezone: %w", err)
		}
	}

	parsed, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parsing active hours %q: %w", expr, err)
	}
	spec, ok := parsed.(*cron.SpecSchedule)
	if !ok {
		return nil, fmt.Errorf("active hours %q: interval schedules are not supported", expr)
	}
	spec.Location = loc

	return &ActiveHours{expr: expr, sched: spec}, nil
}

// Active reports whether the minute containing t is matched.
func (a *ActiveHours) Active(t time.Time) bool {
	minute := t.Truncate(time.Minute)
	return a.sched.Next(minute.Add(-time.Second)).Equal(minute)
}

// Next returns the start of the next active minute after t.
func (a *ActiveHours) Next(t time.Time) time.Time {
	return a.sched.Next(t)
}

func (a *ActiveHours) String() string {
	if a.sched.Location != nil {
		return a.expr + " (" + a.sched.Location.String() + ")"
	}
	return a.expr
}
