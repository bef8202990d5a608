// Package zone resolves the short timezone labels stored on schedules
// (e.g. "EST", "GMT+1") into canonical IANA zones and answers the local
// wall-clock questions the schedule matcher asks.
//
// Unknown labels resolve to UTC without error. That fallback is deliberate:
// a typo in one schedule's timezone shifts that schedule to UTC instead of
// failing the whole matching pass.
package zone

import (
	"strings"
	"sync"
	"time"
)

// DefaultAliases is the built-in label table. Callers can extend or override
// it via NewResolver; the matcher never hard-codes zone names itself.
func DefaultAliases() map[string]string {
	return map[string]string{
		"UTC":   "UTC",
		"GMT+1": "Europe/London",
		"EST":   "America/New_York",
		"PST":   "America/Los_Angeles",
		"CET":   "Europe/Paris",
		"IST":   "Asia/Kolkata",
	}
}

// Resolver maps schedule timezone labels to time.Locations.
// It is safe for concurrent use.
type Resolver struct {
	aliases map[string]string

	mu    sync.Mutex
	cache map[string]*time.Location
}

// NewResolver builds a resolver from the default alias table merged with
// overrides (overrides win). Label lookup is case-insensitive.
func NewResolver(overrides map[string]string) *Resolver {
	aliases := DefaultAliases()
	for k, v := range overrides {
		k = strings.ToUpper(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		aliases[k] = strings.TrimSpace(v)
	}
	return &Resolver{
		aliases: aliases,
		cache:   map[string]*time.Location{},
	}
}

// Location resolves a label to its canonical zone. Unknown labels and labels
// whose zone data cannot be loaded fall back to UTC.
func (r *Resolver) Location(label string) *time.Location {
	label = strings.ToUpper(strings.TrimSpace(label))
	if label == "" {
		return time.UTC
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if loc, ok := r.cache[label]; ok {
		return loc
	}

	name, ok := r.aliases[label]
	if !ok {
		r.cache[label] = time.UTC
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = time.UTC
	}
	r.cache[label] = loc
	return loc
}

// LocalTime is a schedule-relevant view of an instant in a label's zone.
type LocalTime struct {
	Weekday time.Weekday
	Hour    int
	Minute  int
}

// ResolveLocal returns the local day-of-week and wall-clock time of the
// instant in the label's zone. DST transitions are handled by the zone
// database, not fixed offsets.
func (r *Resolver) ResolveLocal(t time.Time, label string) LocalTime {
	lt := t.In(r.Location(label))
	return LocalTime{Weekday: lt.Weekday(), Hour: lt.Hour(), Minute: lt.Minute()}
}

// SameLocalDay reports whether two instants fall on the same calendar date
// in the label's zone.
func (r *Resolver) SameLocalDay(a, b time.Time, label string) bool {
	loc := r.Location(label)
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
