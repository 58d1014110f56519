// Package schedule computes the next eligible run time for each job kind
// under the platform's fixed calendar policy: news and events collect daily
// at 06:00 in the reference time zone, business listings weekly on Monday at
// 06:00. The operator-facing interval setting does not alter these times.
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"scraperd/internal/model"
)

const (
	dailySpec  = "0 6 * * *"
	weeklySpec = "0 6 * * 1"
)

type Computer struct {
	location *time.Location
	daily    cron.Schedule
	weekly   cron.Schedule
}

// NewComputer builds a computer for the named reference zone, e.g.
// "America/New_York". Parsing through cron with an explicit CRON_TZ keeps
// next-occurrence arithmetic in the zone's local calendar, so a daylight
// saving shift neither skips nor doubles a day.
func NewComputer(timezone string) (*Computer, error) {
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("failed loading reference time zone %q: %w", timezone, err)
	}
	daily, err := cron.ParseStandard(fmt.Sprintf("CRON_TZ=%s %s", timezone, dailySpec))
	if err != nil {
		return nil, fmt.Errorf("failed parsing daily schedule: %w", err)
	}
	weekly, err := cron.ParseStandard(fmt.Sprintf("CRON_TZ=%s %s", timezone, weeklySpec))
	if err != nil {
		return nil, fmt.Errorf("failed parsing weekly schedule: %w", err)
	}
	return &Computer{location, daily, weekly}, nil
}

func (c *Computer) Location() *time.Location {
	return c.location
}

// NextRun returns the next scheduled time strictly after now, or nil when the
// job is disabled. previous is the stored advisory cache: it is reused when
// it still lies in the future on a policy boundary, otherwise recomputed.
func (c *Computer) NextRun(kind model.JobKind, now time.Time, enabled bool, previous *time.Time) *time.Time {
	if !enabled || !kind.Valid() {
		return nil
	}

	sched := c.daily
	if kind == model.KindBusinesses {
		sched = c.weekly
	}

	if previous != nil && previous.After(now) && onBoundary(sched, *previous) {
		next := previous.In(c.location)
		return &next
	}

	next := sched.Next(now.In(c.location))
	return &next
}

// onBoundary reports whether t is itself a schedule occurrence.
func onBoundary(sched cron.Schedule, t time.Time) bool {
	return sched.Next(t.Add(-time.Second)).Equal(t)
}
