package storage

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a status update would violate the
	// delivery job state machine (e.g. re-sending a sent job).
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process store, state is lost on restart
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ScheduleSpec is one recurring, timezone-aware weekly schedule.
//
// A schedule fires at most once per local calendar day in its own zone;
// LastRunAt is the bookkeeping for that invariant and is only written by
// the schedule runner.
type ScheduleSpec struct {
	ID         string
	DaysOfWeek []int  // 0 = Sunday .. 6 = Saturday
	Time       string // local wall-clock "HH:MM"
	Timezone   string // short label resolved via zone.Resolver
	Active     bool
	Topics     []string
	LastRunAt  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// JobStatus is the delivery job state machine.
//
//	pending --(picked up)--> sending --(send ok)--> sent
//	sending --(send failed, retries < max)--> pending (retries+1)
//	sending --(send failed, retries >= max)--> failed
//
// sent and failed are terminal; failed can only be reopened by an explicit
// operator reset.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobSending JobStatus = "sending"
	JobSent    JobStatus = "sent"
	JobFailed  JobStatus = "failed"
)

func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobSending, JobSent, JobFailed:
		return true
	}
	return false
}

// Terminal reports whether the processor will never touch the job again.
func (s JobStatus) Terminal() bool { return s == JobSent || s == JobFailed }

// canTransition is the single source of truth for legal processor moves.
// The operator reset (failed->pending) deliberately bypasses this and has
// its own store method.
func canTransition(from, to JobStatus) bool {
	switch from {
	case JobPending:
		return to == JobSending
	case JobSending:
		return to == JobSent || to == JobFailed || to == JobPending
	case JobSent, JobFailed:
		return false
	}
	return false
}

// DeliveryJob is one queued outbound message.
type DeliveryJob struct {
	ID           string
	Recipient    string
	Subject      string
	TemplateName string
	TemplateData map[string]string
	Status       JobStatus
	ScheduledFor time.Time
	Retries      int
	LastError    string
	SentAt       *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Draft is a generated article produced by a schedule run. Drafts are
// append-only here; editorial workflow happens elsewhere.
type Draft struct {
	ID         string
	ScheduleID string
	Topic      string
	Title      string
	Body       string
	CreatedAt  time.Time
}

// RunStatus is the process-wide "schedule pass in progress" flag.
type RunStatus struct {
	Busy  bool
	Since time.Time
}
