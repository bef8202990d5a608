package zone

import (
	"testing"
	"time"
)

func TestLocationAliases(t *testing.T) {
	t.Parallel()

	cases := []struct {
		label string
		want  string
	}{
		{"UTC", "UTC"},
		{"GMT+1", "Europe/London"},
		{"EST", "America/New_York"},
		{"PST", "America/Los_Angeles"},
		{"CET", "Europe/Paris"},
		{"IST", "Asia/Kolkata"},
		{"est", "America/New_York"}, // case-insensitive
		{" pst ", "America/Los_Angeles"},
		{"XYZ", "UTC"}, // unknown falls back silently
		{"", "UTC"},
	}

	r := NewResolver(nil)
	for _, tc := range cases {
		if got := r.Location(tc.label).String(); got != tc.want {
			t.Errorf("Location(%q) = %s, want %s", tc.label, got, tc.want)
		}
	}
}

func TestResolverOverrides(t *testing.T) {
	t.Parallel()

	r := NewResolver(map[string]string{
		"WIB": "Asia/Jakarta",
		"est": "America/Toronto", // overrides win, case-insensitively
	})
	if got := r.Location("WIB").String(); got != "Asia/Jakarta" {
		t.Errorf("Location(WIB) = %s", got)
	}
	if got := r.Location("EST").String(); got != "America/Toronto" {
		t.Errorf("Location(EST) = %s", got)
	}
	// Defaults not overridden stay intact.
	if got := r.Location("PST").String(); got != "America/Los_Angeles" {
		t.Errorf("Location(PST) = %s", got)
	}
}

func TestBadOverrideFallsBackToUTC(t *testing.T) {
	t.Parallel()

	r := NewResolver(map[string]string{"BAD": "No/Such_Zone"})
	if got := r.Location("BAD"); got != time.UTC {
		t.Errorf("Location(BAD) = %v, want UTC", got)
	}
}

func TestResolveLocal(t *testing.T) {
	t.Parallel()

	r := NewResolver(nil)
	// 2026-03-02 14:07 UTC is Monday 09:07 in New York (EST, UTC-5).
	instant := time.Date(2026, 3, 2, 14, 7, 0, 0, time.UTC)

	got := r.ResolveLocal(instant, "EST")
	if got.Weekday != time.Monday || got.Hour != 9 || got.Minute != 7 {
		t.Fatalf("ResolveLocal = %+v, want Monday 09:07", got)
	}

	// Same instant in Kolkata (UTC+5:30) is already 19:37.
	got = r.ResolveLocal(instant, "IST")
	if got.Hour != 19 || got.Minute != 37 {
		t.Fatalf("ResolveLocal IST = %+v, want 19:37", got)
	}
}

func TestResolveLocalAcrossDST(t *testing.T) {
	t.Parallel()

	r := NewResolver(nil)
	// US DST starts 2026-03-08. 13:30 UTC is 08:30 EST before and 09:30 EDT after.
	before := time.Date(2026, 3, 2, 13, 30, 0, 0, time.UTC)
	after := time.Date(2026, 3, 9, 13, 30, 0, 0, time.UTC)

	if got := r.ResolveLocal(before, "EST"); got.Hour != 8 {
		t.Fatalf("pre-DST hour = %d, want 8", got.Hour)
	}
	if got := r.ResolveLocal(after, "EST"); got.Hour != 9 {
		t.Fatalf("post-DST hour = %d, want 9", got.Hour)
	}
}

func TestSameLocalDay(t *testing.T) {
	t.Parallel()

	r := NewResolver(nil)

	// 04:30 UTC on March 2 is still March 1 in New York (23:30 EST);
	// 14:00 UTC the same day is March 2 (09:00 EST).
	a := time.Date(2026, 3, 2, 4, 30, 0, 0, time.UTC)
	b := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

	if r.SameLocalDay(a, b, "EST") {
		t.Fatal("instants on different New York dates reported as same day")
	}
	if !r.SameLocalDay(a, b, "UTC") {
		t.Fatal("instants on the same UTC date reported as different days")
	}
	// In Kolkata both are March 2 (10:00 and 19:30).
	if !r.SameLocalDay(a, b, "IST") {
		t.Fatal("instants on the same Kolkata date reported as different days")
	}
}
