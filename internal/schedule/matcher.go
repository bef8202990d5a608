// Package schedule decides which recurring schedules are due and runs the
// content-generation pass for them.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"newsdesk/internal/storage"
	"newsdesk/internal/zone"
	"newsdesk/pkg/logx"
)

// DefaultWindowMinutes is how long after its wall-clock time a schedule stays
// eligible. Trigger intervals must stay at or below this or windows get missed.
const DefaultWindowMinutes = 15

// Matcher evaluates schedule specs against an instant.
type Matcher struct {
	zones  *zone.Resolver
	window int
	log    logx.Logger
}

func NewMatcher(zones *zone.Resolver, windowMinutes int, log logx.Logger) *Matcher {
	if zones == nil {
		zones = zone.NewResolver(nil)
	}
	if windowMinutes <= 0 {
		windowMinutes = DefaultWindowMinutes
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Matcher{zones: zones, window: windowMinutes, log: log}
}

// WindowMinutes returns the firing window the matcher was built with.
func (m *Matcher) WindowMinutes() int { return m.window }

// Due returns the schedules that should fire at now:
//
//  1. the schedule is active,
//  2. now's local day-of-week (in the schedule's zone) is listed,
//  3. the local wall-clock minute is inside [time, time+window),
//  4. the schedule has not already run on this local calendar day.
//
// Schedules with an empty day list or an unparsable time never fire; the
// latter is logged since it is a data problem someone should fix.
func (m *Matcher) Due(now time.Time, specs []storage.ScheduleSpec) []storage.ScheduleSpec {
	var due []storage.ScheduleSpec
	for _, sp := range specs {
		if !sp.Active {
			continue
		}
		local := m.zones.ResolveLocal(now, sp.Timezone)
		if !containsDay(sp.DaysOfWeek, int(local.Weekday)) {
			continue
		}
		schedMin, err := ParseHHMM(sp.Time)
		if err != nil {
			m.log.Warn("schedule has invalid time, skipping",
				logx.String("schedule_id", sp.ID), logx.String("time", sp.Time), logx.Err(err))
			continue
		}
		nowMin := local.Hour*60 + local.Minute
		if nowMin < schedMin || nowMin >= schedMin+m.window {
			continue
		}
		if sp.LastRunAt != nil && m.zones.SameLocalDay(*sp.LastRunAt, now, sp.Timezone) {
			continue
		}
		due = append(due, sp)
	}
	return due
}

func containsDay(days []int, day int) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}

// ParseHHMM parses a "HH:MM" wall-clock string into minutes since midnight.
func ParseHHMM(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	min, err := strconv.Atoi(parts[1])
	if err != nil || min < 0 || min > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + min, nil
}
