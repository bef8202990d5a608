package schedule

import (
	"testing"
	"time"

	"newsdesk/internal/storage"
	"newsdesk/internal/zone"
	"newsdesk/pkg/logx"
)

// 2026-03-02 is a Monday. US DST starts 2026-03-08, so America/New_York is
// UTC-5 on that date and UTC-4 the following Monday.
func utc(month time.Month, day, hour, min int) time.Time {
	return time.Date(2026, month, day, hour, min, 0, 0, time.UTC)
}

func spec(days []int, hhmm, tz string, lastRun *time.Time) storage.ScheduleSpec {
	return storage.ScheduleSpec{
		ID:         "s1",
		DaysOfWeek: days,
		Time:       hhmm,
		Timezone:   tz,
		Active:     true,
		Topics:     []string{"t"},
		LastRunAt:  lastRun,
	}
}

func TestMatcherDue(t *testing.T) {
	t.Parallel()

	monday := []int{1}
	ranEarlier := utc(time.March, 2, 14, 2) // 09:02 EST, same local Monday

	cases := []struct {
		name string
		spec storage.ScheduleSpec
		now  time.Time
		due  bool
	}{
		{"est monday inside window", spec(monday, "09:00", "EST", nil), utc(time.March, 2, 14, 7), true},
		{"est monday after window", spec(monday, "09:00", "EST", nil), utc(time.March, 2, 14, 16), false},
		{"est tuesday", spec(monday, "09:00", "EST", nil), utc(time.March, 3, 14, 7), false},
		{"est before scheduled time", spec(monday, "09:00", "EST", nil), utc(time.March, 2, 13, 59), false},
		{"window start inclusive", spec(monday, "09:00", "UTC", nil), utc(time.March, 2, 9, 0), true},
		{"window last minute", spec(monday, "09:00", "UTC", nil), utc(time.March, 2, 9, 14), true},
		{"window end exclusive", spec(monday, "09:00", "UTC", nil), utc(time.March, 2, 9, 15), false},
		{"inactive never due", inactive(spec(monday, "09:00", "UTC", nil)), utc(time.March, 2, 9, 5), false},
		{"empty day list never due", spec(nil, "09:00", "UTC", nil), utc(time.March, 2, 9, 5), false},
		{"invalid time never due", spec(monday, "9am", "UTC", nil), utc(time.March, 2, 9, 5), false},
		{"already ran this local day", spec(monday, "09:00", "EST", &ranEarlier), utc(time.March, 2, 14, 7), false},
		{"ran previous local day still due", spec(monday, "09:00", "EST", ptr(utc(time.March, 2, 4, 30))), utc(time.March, 2, 14, 7), true},
		{"ran previous week still due", spec(monday, "09:00", "EST", ptr(utc(time.February, 23, 14, 5))), utc(time.March, 2, 14, 7), true},
		{"unknown label falls back to utc", spec(monday, "09:00", "XYZ", nil), utc(time.March, 2, 9, 5), true},
		// Same instant, different zones: 17:07 UTC is 09:07 Monday in Los
		// Angeles but 22:37 in Kolkata.
		{"pst due at 1707 utc", spec(monday, "09:00", "PST", nil), utc(time.March, 2, 17, 7), true},
		{"ist not due at 1707 utc", spec(monday, "09:00", "IST", nil), utc(time.March, 2, 17, 7), false},
		{"ist due at its own morning", spec(monday, "09:00", "IST", nil), utc(time.March, 2, 3, 35), true},
		// After the DST switch, 09:05 New York is 13:05 UTC, not 14:05.
		{"est after dst switch", spec(monday, "09:00", "EST", nil), utc(time.March, 9, 13, 5), true},
		{"est pre-dst offset no longer matches", spec(monday, "09:00", "EST", nil), utc(time.March, 9, 14, 20), false},
	}

	m := NewMatcher(zone.NewResolver(nil), DefaultWindowMinutes, logx.Nop())
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			due := m.Due(tc.now, []storage.ScheduleSpec{tc.spec})
			if got := len(due) == 1; got != tc.due {
				t.Fatalf("due = %v, want %v (now=%v spec=%+v)", got, tc.due, tc.now, tc.spec)
			}
		})
	}
}

func TestMatcherCustomWindow(t *testing.T) {
	t.Parallel()
	m := NewMatcher(zone.NewResolver(nil), 5, logx.Nop())
	sp := spec([]int{1}, "09:00", "UTC", nil)

	if got := m.Due(utc(time.March, 2, 9, 4), []storage.ScheduleSpec{sp}); len(got) != 1 {
		t.Fatal("minute 4 of a 5-minute window should be due")
	}
	if got := m.Due(utc(time.March, 2, 9, 5), []storage.ScheduleSpec{sp}); len(got) != 0 {
		t.Fatal("minute 5 of a 5-minute window should not be due")
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"09:00", 540, false},
		{"00:00", 0, false},
		{"23:59", 1439, false},
		{" 9:30 ", 570, false},
		{"24:00", 0, true},
		{"09:60", 0, true},
		{"0900", 0, true},
		{"", 0, true},
		{"aa:bb", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseHHMM(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseHHMM(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if err == nil && got != tc.want {
			t.Errorf("ParseHHMM(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func inactive(s storage.ScheduleSpec) storage.ScheduleSpec {
	s.Active = false
	return s
}

func ptr(t time.Time) *time.Time { return &t }
