// Package trigger drives the periodic passes: the schedule pass (matching and
// generation) and the delivery pass (queue draining), each on its own fixed
// interval. An invocation that is still running when its next tick arrives is
// skipped, not queued.
package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"newsdesk/internal/delivery"
	"newsdesk/internal/schedule"
	"newsdesk/pkg/logx"
)

const (
	DefaultScheduleInterval = 15 * time.Minute
	DefaultDeliveryInterval = 5 * time.Minute
)

// Config holds the trigger intervals. Both are hot-reloadable.
type Config struct {
	ScheduleInterval time.Duration
	DeliveryInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.ScheduleInterval <= 0 {
		c.ScheduleInterval = DefaultScheduleInterval
	}
	if c.DeliveryInterval <= 0 {
		c.DeliveryInterval = DefaultDeliveryInterval
	}
	return c
}

// Runner is the schedule pass entry point.
type Runner interface {
	RunDue(ctx context.Context, now time.Time) (schedule.RunReport, error)
}

// BatchProcessor is the delivery pass entry point.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, now time.Time, limit int) (delivery.BatchReport, error)
}

// Service owns the cron instance and both periodic entries.
type Service struct {
	runner    Runner
	processor BatchProcessor
	window    int // matcher firing window, minutes
	log       logx.Logger

	mu      sync.Mutex
	cfg     Config
	cron    *cron.Cron
	baseCtx context.Context
	running bool
}

func New(runner Runner, processor BatchProcessor, windowMinutes int, cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		runner:    runner,
		processor: processor,
		window:    windowMinutes,
		cfg:       cfg.withDefaults(),
		log:       log,
	}
}

// Start registers both entries and starts ticking. ctx bounds every
// invocation the service makes.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.baseCtx = ctx
	s.startLocked()
	s.running = true
	return nil
}

func (s *Service) startLocked() {
	s.warnIfWindowExceeded(s.cfg)

	// The pass closures capture the context here instead of reading it through
	// the service: a pass must never take s.mu, because Apply restarts the cron
	// while holding it and waits for in-flight passes to finish.
	ctx := s.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}

	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{s.log}),
		cron.SkipIfStillRunning(cronLogger{s.log}),
	))
	c.Schedule(cron.Every(s.cfg.ScheduleInterval), cron.FuncJob(func() { s.schedulePass(ctx) }))
	c.Schedule(cron.Every(s.cfg.DeliveryInterval), cron.FuncJob(func() { s.deliveryPass(ctx) }))
	c.Start()
	s.cron = c

	s.log.Info("trigger started",
		logx.Duration("schedule_interval", s.cfg.ScheduleInterval),
		logx.Duration("delivery_interval", s.cfg.DeliveryInterval))
}

// Stop halts ticking and waits for in-flight passes to finish, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	stopCtx := s.cron.Stop()
	s.cron = nil
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Apply swaps the intervals. No-op when nothing changed; restarts the cron
// instance otherwise since entries cannot be rescheduled in place.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg == s.cfg {
		return
	}
	s.cfg = cfg
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.startLocked()
	s.log.Info("trigger intervals updated")
}

func (s *Service) warnIfWindowExceeded(cfg Config) {
	if s.window <= 0 {
		return
	}
	window := time.Duration(s.window) * time.Minute
	if cfg.ScheduleInterval > window {
		// An interval longer than the firing window means some windows will
		// open and close without a single evaluation in between.
		s.log.Warn("schedule interval exceeds firing window, windows will be missed",
			logx.Duration("interval", cfg.ScheduleInterval),
			logx.Duration("window", window))
	}
}

func (s *Service) schedulePass(ctx context.Context) {
	report, err := s.runner.RunDue(ctx, time.Now())
	if err != nil {
		s.log.Error("schedule pass", logx.Err(err))
		return
	}
	if report.Skipped || len(report.Schedules) == 0 {
		return
	}
	fired, drafted := 0, 0
	for _, sr := range report.Schedules {
		fired++
		drafted += sr.Drafted()
	}
	s.log.Info("schedule pass complete",
		logx.Int("evaluated", report.Evaluated),
		logx.Int("fired", fired),
		logx.Int("drafted", drafted))
}

func (s *Service) deliveryPass(ctx context.Context) {
	if _, err := s.processor.ProcessBatch(ctx, time.Now(), 0); err != nil {
		s.log.Error("delivery pass", logx.Err(err))
	}
}

// cronLogger adapts logx to cron's logger interface.
type cronLogger struct {
	log logx.Logger
}

func (c cronLogger) Info(msg string, kv ...interface{}) {
	c.log.Debug(msg, logx.Any("detail", kv))
}

func (c cronLogger) Error(err error, msg string, kv ...interface{}) {
	c.log.Error(msg, logx.Err(err), logx.Any("detail", kv))
}
