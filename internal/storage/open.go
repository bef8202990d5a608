package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"newsdesk/pkg/logx"
)

// Store is the persistence API used by the schedule runner, the delivery
// processor, and the ops surface.
type Store interface {
	// Schedules.
	CreateSchedule(ctx context.Context, s *ScheduleSpec) error
	Schedule(ctx context.Context, id string) (ScheduleSpec, error)
	Schedules(ctx context.Context) ([]ScheduleSpec, error)
	UpdateSchedule(ctx context.Context, s *ScheduleSpec) error
	DeleteSchedule(ctx context.Context, id string) error
	// MarkScheduleRun records that a schedule fired; only the runner calls it.
	MarkScheduleRun(ctx context.Context, id string, at time.Time) error

	// Drafts.
	CreateDraft(ctx context.Context, d *Draft) error
	Drafts(ctx context.Context, limit int) ([]Draft, error)

	// Delivery queue.
	EnqueueJob(ctx context.Context, j *DeliveryJob) error
	Job(ctx context.Context, id string) (DeliveryJob, error)
	JobsByStatus(ctx context.Context, status JobStatus, limit int) ([]DeliveryJob, error)
	// DueJobs returns pending jobs with ScheduledFor <= now, oldest first.
	DueJobs(ctx context.Context, now time.Time, limit int) ([]DeliveryJob, error)
	// MarkSending claims a job: a conditional pending->sending update.
	// Returns false (no error) when the job was not pending anymore.
	MarkSending(ctx context.Context, id string) (bool, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	// MarkRetry moves sending->pending and increments the retry counter.
	MarkRetry(ctx context.Context, id string, sendErr string) error
	MarkFailed(ctx context.Context, id string, sendErr string) error
	// ResetJob is the operator action: failed->pending, retry counter cleared.
	ResetJob(ctx context.Context, id string) error
	DeleteJob(ctx context.Context, id string) error
	CountJobs(ctx context.Context) (map[JobStatus]int, error)

	// Run flag (schedule pass in progress). Acquire is a check-and-set in the
	// same store the schedules live in, so concurrent trigger invocations
	// cannot both pass the busy check.
	AcquireRunFlag(ctx context.Context, at time.Time) (bool, error)
	ReleaseRunFlag(ctx context.Context) error
	RunFlag(ctx context.Context) (RunStatus, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
