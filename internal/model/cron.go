package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ParseSchedule converts a reaper schedule into a fixed interval.
// Accepted forms are a Go duration ("10m"), a @-macro ("@hourly",
// "@every 5m") or a 5 field cron expression. Cron expressions with an
// uneven firing pattern resolve to the gap between the next two runs.
func ParseSchedule(expr string) (time.Duration, error) {
	e := strings.TrimSpace(expr)
	if e == "" {
		return 0, fmt.Errorf("empty schedule")
	}

	if d, err := time.ParseDuration(e); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("schedule duration must be positive, got %s", d)
		}
		return d, nil
	}

	var schedule cron.Schedule
	var err error
	if strings.HasPrefix(e, "@") {
		schedule, err = cron.ParseStandard(e)
	} else {
		parser5 := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		schedule, err = parser5.Parse(e)
	}
	if err != nil {
		return 0, fmt.Errorf("parsing schedule %q: %w", expr, err)
	}
	next1 := schedule.Next(time.Now())
	next2 := schedule.Next(next1)
	return next2.Sub(next1), nil
}
