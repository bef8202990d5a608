package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"newsdesk/internal/generate"
	"newsdesk/internal/storage"
	"newsdesk/internal/zone"
	"newsdesk/pkg/logx"
)

type fakeGenerator struct {
	failTopics map[string]error
	calls      []string
}

func (f *fakeGenerator) Generate(_ context.Context, topic string) (generate.Draft, error) {
	f.calls = append(f.calls, topic)
	if err, ok := f.failTopics[topic]; ok {
		return generate.Draft{}, err
	}
	return generate.Draft{Topic: topic, Title: "About " + topic, Body: "body"}, nil
}

func newRunner(store storage.Store, gen generate.Generator) *Runner {
	m := NewMatcher(zone.NewResolver(nil), DefaultWindowMinutes, logx.Nop())
	return NewRunner(store, m, gen, logx.Nop())
}

func TestRunDuePartialTopicFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()

	sp := &storage.ScheduleSpec{
		DaysOfWeek: []int{1}, // Monday
		Time:       "09:00",
		Timezone:   "UTC",
		Active:     true,
		Topics:     []string{"A", "B"},
	}
	if err := store.CreateSchedule(ctx, sp); err != nil {
		t.Fatal(err)
	}

	gen := &fakeGenerator{failTopics: map[string]error{
		"A": errors.New("provider timeout"),
	}}
	r := newRunner(store, gen)

	now := time.Date(2026, 3, 2, 9, 5, 0, 0, time.UTC) // Monday 09:05 UTC
	report, err := r.RunDue(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if report.Skipped || len(report.Schedules) != 1 {
		t.Fatalf("report = %+v, want one schedule run", report)
	}
	if got := report.Schedules[0].Drafted(); got != 1 {
		t.Fatalf("drafted = %d, want 1", got)
	}

	drafts, err := store.Drafts(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(drafts) != 1 || drafts[0].Topic != "B" {
		t.Fatalf("drafts = %+v, want exactly one for topic B", drafts)
	}

	got, err := store.Schedule(ctx, sp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastRunAt == nil || !got.LastRunAt.Equal(now) {
		t.Fatalf("LastRunAt = %v, want %v set exactly once", got.LastRunAt, now)
	}
}

func TestRunDueSecondSameDayPassIsNoop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()

	sp := &storage.ScheduleSpec{
		DaysOfWeek: []int{1},
		Time:       "09:00",
		Timezone:   "UTC",
		Active:     true,
		Topics:     []string{"A"},
	}
	if err := store.CreateSchedule(ctx, sp); err != nil {
		t.Fatal(err)
	}

	gen := &fakeGenerator{}
	r := newRunner(store, gen)

	first := time.Date(2026, 3, 2, 9, 2, 0, 0, time.UTC)
	if _, err := r.RunDue(ctx, first); err != nil {
		t.Fatal(err)
	}
	// Still inside the window, same local day: the dedup must hold.
	second := time.Date(2026, 3, 2, 9, 11, 0, 0, time.UTC)
	report, err := r.RunDue(ctx, second)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Schedules) != 0 {
		t.Fatalf("second pass ran %d schedules, want 0", len(report.Schedules))
	}
	if len(gen.calls) != 1 {
		t.Fatalf("generator called %d times, want 1", len(gen.calls))
	}
}

func TestRunDueSkipsWhenFlagHeld(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()
	now := time.Date(2026, 3, 2, 9, 5, 0, 0, time.UTC)

	if ok, err := store.AcquireRunFlag(ctx, now); err != nil || !ok {
		t.Fatalf("seed acquire: ok=%v err=%v", ok, err)
	}

	gen := &fakeGenerator{}
	r := newRunner(store, gen)
	report, err := r.RunDue(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Skipped {
		t.Fatal("pass should be skipped while the flag is held")
	}
	if len(gen.calls) != 0 {
		t.Fatal("skipped pass must not call the generator")
	}

	// The skipped pass must not release a flag it never acquired.
	flag, err := store.RunFlag(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !flag.Busy {
		t.Fatal("run flag was released by the skipped pass")
	}
}

func TestRunDueReleasesFlag(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()

	sp := &storage.ScheduleSpec{
		DaysOfWeek: []int{1},
		Time:       "09:00",
		Timezone:   "UTC",
		Active:     true,
		Topics:     []string{"A"},
	}
	if err := store.CreateSchedule(ctx, sp); err != nil {
		t.Fatal(err)
	}

	// Every topic failing must still release the flag and record the run.
	gen := &fakeGenerator{failTopics: map[string]error{"A": generate.ErrBadDraft}}
	r := newRunner(store, gen)
	now := time.Date(2026, 3, 2, 9, 5, 0, 0, time.UTC)
	if _, err := r.RunDue(ctx, now); err != nil {
		t.Fatal(err)
	}

	flag, err := store.RunFlag(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if flag.Busy {
		t.Fatal("run flag still held after the pass")
	}
	got, err := store.Schedule(ctx, sp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastRunAt == nil {
		t.Fatal("failed topics must still count as today's run")
	}
}
