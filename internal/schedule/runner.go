package schedule

import (
	"context"
	"fmt"
	"time"

	"newsdesk/internal/generate"
	"newsdesk/internal/storage"
	"newsdesk/pkg/logx"
)

// TopicResult is the outcome of one topic in a schedule run.
type TopicResult struct {
	Topic string
	Err   error
}

// ScheduleResult aggregates one schedule's topics.
type ScheduleResult struct {
	ScheduleID string
	Topics     []TopicResult
}

// Drafted counts the topics that produced a draft.
func (r ScheduleResult) Drafted() int {
	n := 0
	for _, t := range r.Topics {
		if t.Err == nil {
			n++
		}
	}
	return n
}

// RunReport is what one runDueSchedules invocation did.
type RunReport struct {
	Skipped   bool // another pass held the run flag
	Evaluated int  // schedules read from the store
	Schedules []ScheduleResult
}

// Runner executes the schedule pass: acquire the run flag, match, generate
// drafts topic by topic, record each fired schedule's run timestamp.
type Runner struct {
	store   storage.Store
	matcher *Matcher
	gen     generate.Generator
	log     logx.Logger
}

func NewRunner(store storage.Store, matcher *Matcher, gen generate.Generator, log logx.Logger) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{store: store, matcher: matcher, gen: gen, log: log}
}

// RunDue evaluates all schedules against now and generates drafts for the due
// ones. The store-level run flag makes the pass mutually exclusive: when a
// pass is already in flight the call is a no-op (Skipped report, nil error).
//
// Topic failures never abort the pass or the schedule: each failed topic is
// logged and reported, the rest still run, and the schedule's run timestamp is
// written once after all its topics were attempted. Only store-level errors
// come back as errors.
func (r *Runner) RunDue(ctx context.Context, now time.Time) (RunReport, error) {
	acquired, err := r.store.AcquireRunFlag(ctx, now)
	if err != nil {
		return RunReport{}, fmt.Errorf("acquire run flag: %w", err)
	}
	if !acquired {
		r.log.Info("schedule pass already in flight, skipping")
		return RunReport{Skipped: true}, nil
	}
	defer func() {
		if err := r.store.ReleaseRunFlag(context.WithoutCancel(ctx)); err != nil {
			r.log.Error("release run flag", logx.Err(err))
		}
	}()

	specs, err := r.store.Schedules(ctx)
	if err != nil {
		return RunReport{}, fmt.Errorf("load schedules: %w", err)
	}

	report := RunReport{Evaluated: len(specs)}
	for _, sp := range r.matcher.Due(now, specs) {
		report.Schedules = append(report.Schedules, r.runOne(ctx, now, sp))
	}
	return report, nil
}

func (r *Runner) runOne(ctx context.Context, now time.Time, sp storage.ScheduleSpec) ScheduleResult {
	res := ScheduleResult{ScheduleID: sp.ID}
	log := r.log.With(logx.String("schedule_id", sp.ID))
	log.Info("schedule due, generating",
		logx.String("time", sp.Time),
		logx.String("timezone", sp.Timezone),
		logx.Int("topics", len(sp.Topics)))

	for _, topic := range sp.Topics {
		err := r.generateTopic(ctx, sp.ID, topic)
		res.Topics = append(res.Topics, TopicResult{Topic: topic, Err: err})
		if err != nil {
			log.Warn("topic generation failed", logx.String("topic", topic), logx.Err(err))
		}
	}

	// Written once per fired schedule, after every topic was attempted, so a
	// partly failed run still counts as today's run.
	if err := r.store.MarkScheduleRun(ctx, sp.ID, now); err != nil {
		log.Error("record schedule run", logx.Err(err))
	}

	log.Info("schedule run finished",
		logx.Int("drafted", res.Drafted()),
		logx.Int("failed", len(res.Topics)-res.Drafted()))
	return res
}

func (r *Runner) generateTopic(ctx context.Context, scheduleID, topic string) error {
	draft, err := r.gen.Generate(ctx, topic)
	if err != nil {
		return err
	}
	d := storage.Draft{
		ScheduleID: scheduleID,
		Topic:      topic,
		Title:      draft.Title,
		Body:       draft.Body,
	}
	if err := r.store.CreateDraft(ctx, &d); err != nil {
		return fmt.Errorf("persist draft: %w", err)
	}
	return nil
}
