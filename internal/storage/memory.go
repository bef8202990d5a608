package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store. It enforces the same status transitions as
// the SQLite driver, so tests exercising the processor against it cover the
// real state machine.
type Memory struct {
	mu        sync.Mutex
	schedules map[string]*ScheduleSpec
	jobs      map[string]*DeliveryJob
	drafts    []Draft
	run       RunStatus
}

func NewMemory() *Memory {
	return &Memory{
		schedules: map[string]*ScheduleSpec{},
		jobs:      map[string]*DeliveryJob{},
	}
}

func cloneSchedule(s *ScheduleSpec) ScheduleSpec {
	out := *s
	out.DaysOfWeek = append([]int(nil), s.DaysOfWeek...)
	out.Topics = append([]string(nil), s.Topics...)
	if s.LastRunAt != nil {
		t := *s.LastRunAt
		out.LastRunAt = &t
	}
	return out
}

func cloneJob(j *DeliveryJob) DeliveryJob {
	out := *j
	if len(j.TemplateData) > 0 {
		out.TemplateData = make(map[string]string, len(j.TemplateData))
		for k, v := range j.TemplateData {
			out.TemplateData[k] = v
		}
	}
	if j.SentAt != nil {
		t := *j.SentAt
		out.SentAt = &t
	}
	return out
}

func (m *Memory) CreateSchedule(_ context.Context, s *ScheduleSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	cp := cloneSchedule(s)
	m.schedules[s.ID] = &cp
	return nil
}

func (m *Memory) Schedule(_ context.Context, id string) (ScheduleSpec, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return ScheduleSpec{}, ErrNotFound
	}
	return cloneSchedule(s), nil
}

func (m *Memory) Schedules(_ context.Context) ([]ScheduleSpec, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ScheduleSpec, 0, len(m.schedules))
	for _, s := range m.schedules {
		out = append(out, cloneSchedule(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateSchedule(_ context.Context, s *ScheduleSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.schedules[s.ID]
	if !ok {
		return ErrNotFound
	}
	s.CreatedAt = cur.CreatedAt
	s.UpdatedAt = time.Now().UTC()
	cp := cloneSchedule(s)
	m.schedules[s.ID] = &cp
	return nil
}

func (m *Memory) DeleteSchedule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[id]; !ok {
		return ErrNotFound
	}
	delete(m.schedules, id)
	return nil
}

func (m *Memory) MarkScheduleRun(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return ErrNotFound
	}
	t := at.UTC()
	s.LastRunAt = &t
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) CreateDraft(_ context.Context, d *Draft) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.CreatedAt = time.Now().UTC()
	m.drafts = append(m.drafts, *d)
	return nil
}

func (m *Memory) Drafts(_ context.Context, limit int) ([]Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]Draft(nil), m.drafts...)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) EnqueueJob(_ context.Context, j *DeliveryJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
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
	cp := cloneJob(j)
	m.jobs[j.ID] = &cp
	return nil
}

func (m *Memory) Job(_ context.Context, id string) (DeliveryJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return DeliveryJob{}, ErrNotFound
	}
	return cloneJob(j), nil
}

func (m *Memory) JobsByStatus(_ context.Context, status JobStatus, limit int) ([]DeliveryJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []DeliveryJob
	for _, j := range m.jobs {
		if j.Status == status {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) DueJobs(_ context.Context, now time.Time, limit int) ([]DeliveryJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []DeliveryJob
	for _, j := range m.jobs {
		if j.Status == JobPending && !j.ScheduledFor.After(now) {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) MarkSending(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if j.Status != JobPending {
		return false, nil
	}
	j.Status = JobSending
	j.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *Memory) MarkSent(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !canTransition(j.Status, JobSent) {
		return ErrInvalidTransition
	}
	t := at.UTC()
	j.Status = JobSent
	j.SentAt = &t
	j.LastError = ""
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) MarkRetry(_ context.Context, id string, sendErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !canTransition(j.Status, JobPending) {
		return ErrInvalidTransition
	}
	j.Status = JobPending
	j.Retries++
	j.LastError = sendErr
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) MarkFailed(_ context.Context, id string, sendErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !canTransition(j.Status, JobFailed) {
		return ErrInvalidTransition
	}
	j.Status = JobFailed
	j.LastError = sendErr
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) ResetJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status != JobFailed {
		return ErrInvalidTransition
	}
	j.Status = JobPending
	j.Retries = 0
	j.LastError = ""
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) DeleteJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(m.jobs, id)
	return nil
}

func (m *Memory) CountJobs(_ context.Context) (map[JobStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[JobStatus]int{}
	for _, j := range m.jobs {
		out[j.Status]++
	}
	return out, nil
}

func (m *Memory) AcquireRunFlag(_ context.Context, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.run.Busy {
		return false, nil
	}
	m.run = RunStatus{Busy: true, Since: at.UTC()}
	return true, nil
}

func (m *Memory) ReleaseRunFlag(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.run = RunStatus{}
	return nil
}

func (m *Memory) RunFlag(_ context.Context) (RunStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.run, nil
}

func (m *Memory) Close() error { return nil }
