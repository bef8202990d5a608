package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestJobTransitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		from JobStatus
		to   JobStatus
		ok   bool
	}{
		{"pending to sending", JobPending, JobSending, true},
		{"sending to sent", JobSending, JobSent, true},
		{"sending to pending", JobSending, JobPending, true},
		{"sending to failed", JobSending, JobFailed, true},
		{"pending to sent", JobPending, JobSent, false},
		{"pending to failed", JobPending, JobFailed, false},
		{"sent to anything", JobSent, JobSending, false},
		{"failed to sending", JobFailed, JobSending, false},
		{"failed to pending via processor", JobFailed, JobPending, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := canTransition(tc.from, tc.to); got != tc.ok {
				t.Fatalf("canTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.ok)
			}
		})
	}
}

func TestSentIsImmutable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	j := &DeliveryJob{Recipient: "a@example.com", Subject: "hi"}
	if err := m.EnqueueJob(ctx, j); err != nil {
		t.Fatal(err)
	}
	if ok, err := m.MarkSending(ctx, j.ID); err != nil || !ok {
		t.Fatalf("MarkSending: ok=%v err=%v", ok, err)
	}
	if err := m.MarkSent(ctx, j.ID, time.Now()); err != nil {
		t.Fatal(err)
	}

	if ok, err := m.MarkSending(ctx, j.ID); err != nil || ok {
		t.Fatalf("MarkSending on sent job: ok=%v err=%v, want false nil", ok, err)
	}
	if err := m.MarkRetry(ctx, j.ID, "boom"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("MarkRetry on sent job: %v, want ErrInvalidTransition", err)
	}
	if err := m.MarkFailed(ctx, j.ID, "boom"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("MarkFailed on sent job: %v, want ErrInvalidTransition", err)
	}

	got, err := m.Job(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != JobSent || got.SentAt == nil {
		t.Fatalf("job = %+v, want sent with SentAt set", got)
	}
}

func TestMarkSendingClaimsOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	j := &DeliveryJob{Recipient: "a@example.com"}
	if err := m.EnqueueJob(ctx, j); err != nil {
		t.Fatal(err)
	}

	first, err := m.MarkSending(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.MarkSending(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !first || second {
		t.Fatalf("claims = (%v, %v), want (true, false)", first, second)
	}
}

func TestDueJobsOrderAndLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	for i := 5; i >= 1; i-- {
		j := &DeliveryJob{
			Recipient:    "a@example.com",
			ScheduledFor: now.Add(-time.Duration(i) * time.Minute),
		}
		if err := m.EnqueueJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}
	// Not yet due.
	future := &DeliveryJob{Recipient: "a@example.com", ScheduledFor: now.Add(time.Hour)}
	if err := m.EnqueueJob(ctx, future); err != nil {
		t.Fatal(err)
	}

	due, err := m.DueJobs(ctx, now, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 3 {
		t.Fatalf("got %d due jobs, want 3", len(due))
	}
	for i := 1; i < len(due); i++ {
		if due[i].ScheduledFor.Before(due[i-1].ScheduledFor) {
			t.Fatalf("due jobs not oldest first: %v after %v", due[i].ScheduledFor, due[i-1].ScheduledFor)
		}
	}
	if due[0].ScheduledFor != now.Add(-5*time.Minute) {
		t.Fatalf("oldest due = %v, want %v", due[0].ScheduledFor, now.Add(-5*time.Minute))
	}
}

func TestResetJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	j := &DeliveryJob{Recipient: "a@example.com"}
	if err := m.EnqueueJob(ctx, j); err != nil {
		t.Fatal(err)
	}
	if err := m.ResetJob(ctx, j.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("ResetJob on pending job: %v, want ErrInvalidTransition", err)
	}

	if _, err := m.MarkSending(ctx, j.ID); err != nil {
		t.Fatal(err)
	}
	if err := m.MarkFailed(ctx, j.ID, "smtp: connection refused"); err != nil {
		t.Fatal(err)
	}
	if err := m.ResetJob(ctx, j.ID); err != nil {
		t.Fatal(err)
	}

	got, err := m.Job(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != JobPending || got.Retries != 0 || got.LastError != "" {
		t.Fatalf("after reset: %+v, want pending with retries 0", got)
	}
}

func TestRunFlagCheckAndSet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()

	ok, err := m.AcquireRunFlag(ctx, now)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = m.AcquireRunFlag(ctx, now)
	if err != nil || ok {
		t.Fatalf("second acquire: ok=%v err=%v, want false nil", ok, err)
	}
	if err := m.ReleaseRunFlag(ctx); err != nil {
		t.Fatal(err)
	}
	ok, err = m.AcquireRunFlag(ctx, now)
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestScheduleCRUD(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	sp := &ScheduleSpec{
		DaysOfWeek: []int{1, 3},
		Time:       "09:00",
		Timezone:   "EST",
		Active:     true,
		Topics:     []string{"markets", "weather"},
	}
	if err := m.CreateSchedule(ctx, sp); err != nil {
		t.Fatal(err)
	}
	if sp.ID == "" {
		t.Fatal("CreateSchedule did not assign an ID")
	}

	got, err := m.Schedule(ctx, sp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Time != "09:00" || got.Timezone != "EST" || len(got.Topics) != 2 {
		t.Fatalf("schedule = %+v", got)
	}
	if got.LastRunAt != nil {
		t.Fatal("new schedule should have no LastRunAt")
	}

	ranAt := time.Date(2026, 3, 2, 14, 7, 0, 0, time.UTC)
	if err := m.MarkScheduleRun(ctx, sp.ID, ranAt); err != nil {
		t.Fatal(err)
	}
	got, err = m.Schedule(ctx, sp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastRunAt == nil || !got.LastRunAt.Equal(ranAt) {
		t.Fatalf("LastRunAt = %v, want %v", got.LastRunAt, ranAt)
	}

	if err := m.DeleteSchedule(ctx, sp.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Schedule(ctx, sp.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("after delete: %v, want ErrNotFound", err)
	}
}
