package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"newsdesk/pkg/logx"
)

//go:embed migrations.sql
var migrations string

const defaultBusyTimeout = 5 * time.Second

// sqliteStore is the durable Store. All timestamps are stored as unix
// milliseconds in UTC; slice and map columns are JSON-encoded.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := cfg.Path
	if path == "" {
		path = "./newsdesk.db"
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(migrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	// A crash mid-pass can leave the run flag stuck; a fresh process owns the
	// store exclusively, so it is always safe to clear it on open.
	if _, err := db.Exec(`UPDATE run_status SET busy = 0, since = NULL WHERE id = 1`); err != nil {
		db.Close()
		return nil, fmt.Errorf("reset run flag: %w", err)
	}

	log.Debug("sqlite store opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func unixMilliPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func timeFromMilli(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// --- Schedules ---

func (s *sqliteStore) CreateSchedule(ctx context.Context, sp *ScheduleSpec) error {
	if sp.ID == "" {
		sp.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sp.CreatedAt = now
	sp.UpdatedAt = now

	days, err := marshalJSON(sp.DaysOfWeek)
	if err != nil {
		return fmt.Errorf("encode days: %w", err)
	}
	topics, err := marshalJSON(sp.Topics)
	if err != nil {
		return fmt.Errorf("encode topics: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedules (id, days_of_week, time, timezone, active, topics, last_run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sp.ID, days, sp.Time, sp.Timezone, boolInt(sp.Active), topics,
		unixMilliPtr(sp.LastRunAt), now.UnixMilli(), now.UnixMilli())
	return err
}

func (s *sqliteStore) Schedule(ctx context.Context, id string) (ScheduleSpec, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, days_of_week, time, timezone, active, topics, last_run_at, created_at, updated_at
		FROM schedules WHERE id = ?`, id)
	return scanSchedule(row)
}

func (s *sqliteStore) Schedules(ctx context.Context) ([]ScheduleSpec, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, days_of_week, time, timezone, active, topics, last_run_at, created_at, updated_at
		FROM schedules ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScheduleSpec
	for rows.Next() {
		sp, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (ScheduleSpec, error) {
	var (
		sp        ScheduleSpec
		days      string
		topics    string
		active    int
		lastRun   sql.NullInt64
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&sp.ID, &days, &sp.Time, &sp.Timezone, &active, &topics, &lastRun, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ScheduleSpec{}, ErrNotFound
	}
	if err != nil {
		return ScheduleSpec{}, err
	}
	if err := json.Unmarshal([]byte(days), &sp.DaysOfWeek); err != nil {
		return ScheduleSpec{}, fmt.Errorf("decode days: %w", err)
	}
	if err := json.Unmarshal([]byte(topics), &sp.Topics); err != nil {
		return ScheduleSpec{}, fmt.Errorf("decode topics: %w", err)
	}
	sp.Active = active != 0
	sp.LastRunAt = timeFromMilli(lastRun)
	sp.CreatedAt = time.UnixMilli(createdAt).UTC()
	sp.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return sp, nil
}

func (s *sqliteStore) UpdateSchedule(ctx context.Context, sp *ScheduleSpec) error {
	days, err := marshalJSON(sp.DaysOfWeek)
	if err != nil {
		return fmt.Errorf("encode days: %w", err)
	}
	topics, err := marshalJSON(sp.Topics)
	if err != nil {
		return fmt.Errorf("encode topics: %w", err)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules
		SET days_of_week = ?, time = ?, timezone = ?, active = ?, topics = ?, updated_at = ?
		WHERE id = ?`,
		days, sp.Time, sp.Timezone, boolInt(sp.Active), topics, now.UnixMilli(), sp.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) MarkScheduleRun(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules SET last_run_at = ?, updated_at = ? WHERE id = ?`,
		at.UTC().UnixMilli(), time.Now().UTC().UnixMilli(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// --- Drafts ---

func (s *sqliteStore) CreateDraft(ctx context.Context, d *Draft) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO drafts (id, schedule_id, topic, title, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.ScheduleID, d.Topic, d.Title, d.Body, d.CreatedAt.UnixMilli())
	return err
}

func (s *sqliteStore) Drafts(ctx context.Context, limit int) ([]Draft, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, schedule_id, topic, title, body, created_at
		FROM drafts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Draft
	for rows.Next() {
		var d Draft
		var createdAt int64
		if err := rows.Scan(&d.ID, &d.ScheduleID, &d.Topic, &d.Title, &d.Body, &createdAt); err != nil {
			return nil, err
		}
		d.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- Delivery queue ---

func (s *sqliteStore) EnqueueJob(ctx context.Context, j *DeliveryJob) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = JobPending
	}
	now := time.Now().UTC()
	if j.ScheduledFor.IsZero() {
		j.ScheduledFor = now
	}
	j.CreatedAt = now
	j.UpdatedAt = now

	data, err := marshalJSON(j.TemplateData)
	if err != nil {
		return fmt.Errorf("encode template data: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO delivery_jobs (id, recipient, subject, template_name, template_data, status, scheduled_for, retries, last_error, sent_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Recipient, j.Subject, j.TemplateName, data, string(j.Status),
		j.ScheduledFor.UTC().UnixMilli(), j.Retries, j.LastError,
		unixMilliPtr(j.SentAt), now.UnixMilli(), now.UnixMilli())
	return err
}

const jobColumns = `id, recipient, subject, template_name, template_data, status, scheduled_for, retries, last_error, sent_at, created_at, updated_at`

func (s *sqliteStore) Job(ctx context.Context, id string) (DeliveryJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM delivery_jobs WHERE id = ?`, id)
	return scanJob(row)
}

func (s *sqliteStore) JobsByStatus(ctx context.Context, status JobStatus, limit int) ([]DeliveryJob, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM delivery_jobs
		WHERE status = ? ORDER BY scheduled_for LIMIT ?`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (s *sqliteStore) DueJobs(ctx context.Context, now time.Time, limit int) ([]DeliveryJob, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM delivery_jobs
		WHERE status = ? AND scheduled_for <= ?
		ORDER BY scheduled_for LIMIT ?`,
		string(JobPending), now.UTC().UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

func collectJobs(rows *sql.Rows) ([]DeliveryJob, error) {
	var out []DeliveryJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanJob(row rowScanner) (DeliveryJob, error) {
	var (
		j         DeliveryJob
		data      string
		status    string
		schedFor  int64
		sentAt    sql.NullInt64
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&j.ID, &j.Recipient, &j.Subject, &j.TemplateName, &data, &status,
		&schedFor, &j.Retries, &j.LastError, &sentAt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return DeliveryJob{}, ErrNotFound
	}
	if err != nil {
		return DeliveryJob{}, err
	}
	if data != "" && data != "null" {
		if err := json.Unmarshal([]byte(data), &j.TemplateData); err != nil {
			return DeliveryJob{}, fmt.Errorf("decode template data: %w", err)
		}
	}
	j.Status = JobStatus(status)
	j.ScheduledFor = time.UnixMilli(schedFor).UTC()
	j.SentAt = timeFromMilli(sentAt)
	j.CreatedAt = time.UnixMilli(createdAt).UTC()
	j.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return j, nil
}

func (s *sqliteStore) MarkSending(ctx context.Context, id string) (bool, error) {
	// Conditional update doubles as the claim: the WHERE clause only matches
	// a pending row, so concurrent processors race on RowsAffected, not on
	// a read-then-write.
	res, err := s.db.ExecContext(ctx, `
		UPDATE delivery_jobs SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(JobSending), time.Now().UTC().UnixMilli(), id, string(JobPending))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	// Distinguish "claimed by someone else" from "no such job".
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM delivery_jobs WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

func (s *sqliteStore) transition(ctx context.Context, id string, from, to JobStatus, set string, args ...any) error {
	if !canTransition(from, to) {
		return ErrInvalidTransition
	}
	q := fmt.Sprintf(`UPDATE delivery_jobs SET status = ?, updated_at = ?%s WHERE id = ? AND status = ?`, set)
	base := []any{string(to), time.Now().UTC().UnixMilli()}
	base = append(base, args...)
	base = append(base, id, string(from))
	res, err := s.db.ExecContext(ctx, q, base...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM delivery_jobs WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrInvalidTransition
}

func (s *sqliteStore) MarkSent(ctx context.Context, id string, at time.Time) error {
	return s.transition(ctx, id, JobSending, JobSent,
		`, sent_at = ?, last_error = ''`, at.UTC().UnixMilli())
}

func (s *sqliteStore) MarkRetry(ctx context.Context, id string, sendErr string) error {
	return s.transition(ctx, id, JobSending, JobPending,
		`, retries = retries + 1, last_error = ?`, sendErr)
}

func (s *sqliteStore) MarkFailed(ctx context.Context, id string, sendErr string) error {
	return s.transition(ctx, id, JobSending, JobFailed,
		`, last_error = ?`, sendErr)
}

func (s *sqliteStore) ResetJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE delivery_jobs SET status = ?, retries = 0, last_error = '', updated_at = ?
		WHERE id = ? AND status = ?`,
		string(JobPending), time.Now().UTC().UnixMilli(), id, string(JobFailed))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM delivery_jobs WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrInvalidTransition
}

func (s *sqliteStore) DeleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM delivery_jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) CountJobs(ctx context.Context) (map[JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM delivery_jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[JobStatus]int{}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[JobStatus(st)] = n
	}
	return out, rows.Err()
}

// --- Run flag ---

func (s *sqliteStore) AcquireRunFlag(ctx context.Context, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE run_status SET busy = 1, since = ? WHERE id = 1 AND busy = 0`,
		at.UTC().UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) ReleaseRunFlag(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `UPDATE run_status SET busy = 0, since = NULL WHERE id = 1`)
	return err
}

func (s *sqliteStore) RunFlag(ctx context.Context) (RunStatus, error) {
	var (
		busy  int
		since sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `SELECT busy, since FROM run_status WHERE id = 1`).Scan(&busy, &since)
	if err != nil {
		return RunStatus{}, err
	}
	st := RunStatus{Busy: busy != 0}
	if t := timeFromMilli(since); t != nil {
		st.Since = *t
	}
	return st, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
