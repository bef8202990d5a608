package delivery

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"newsdesk/internal/storage"
	"newsdesk/pkg/logx"
)

const (
	DefaultBatchSize   = 25
	DefaultRetryMax    = 3
	DefaultRatePerSec  = 10
	DefaultSendTimeout = 10 * time.Second
)

// Config tunes the processor.
type Config struct {
	BatchSize   int
	RetryMax    int
	RatePerSec  float64 // sends per second; 0 means DefaultRatePerSec, negative disables limiting
	SendTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.RetryMax <= 0 {
		c.RetryMax = DefaultRetryMax
	}
	if c.RatePerSec == 0 {
		c.RatePerSec = DefaultRatePerSec
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	return c
}

// Outcome is what happened to one job in a batch.
type Outcome struct {
	JobID     string
	Status    storage.JobStatus // status after the attempt
	Attempted bool              // claim won and a send was tried
	Err       error
}

// BatchReport summarizes one processBatch invocation.
type BatchReport struct {
	Selected int // due jobs picked up from the store
	Sent     int
	Retried  int // transient failure, back to pending
	Failed   int // retry budget exhausted, terminal
	Skipped  int // claimed by a concurrent processor between select and claim
	Errored  int // store error on claim or status update; job left for the next pass
	Outcomes []Outcome
}

// Processor drains the delivery queue in bounded batches.
type Processor struct {
	store     storage.Store
	transport Transport
	renderer  *Renderer
	limiter   *rate.Limiter
	cfg       Config
	log       logx.Logger
}

func NewProcessor(store storage.Store, transport Transport, renderer *Renderer, cfg Config, log logx.Logger) *Processor {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	var limiter *rate.Limiter
	if cfg.RatePerSec > 0 {
		burst := int(cfg.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return &Processor{
		store:     store,
		transport: transport,
		renderer:  renderer,
		limiter:   limiter,
		cfg:       cfg,
		log:       log,
	}
}

// ProcessBatch selects due pending jobs oldest first, claims each with a
// conditional pending->sending update, and attempts delivery. A job the claim
// loses (another processor got there first) is skipped without error; one
// job's failure never halts the rest of the batch.
//
// There is no backoff between attempts: a retried job goes straight back to
// pending and waits for the next trigger pass, so the trigger interval is the
// retry pacing.
func (p *Processor) ProcessBatch(ctx context.Context, now time.Time, limit int) (BatchReport, error) {
	if limit <= 0 {
		limit = p.cfg.BatchSize
	}
	jobs, err := p.store.DueJobs(ctx, now, limit)
	if err != nil {
		return BatchReport{}, fmt.Errorf("select due jobs: %w", err)
	}

	report := BatchReport{Selected: len(jobs)}
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		outcome := p.processOne(ctx, job)
		report.Outcomes = append(report.Outcomes, outcome)
		switch {
		case !outcome.Attempted && outcome.Err != nil:
			report.Errored++
		case !outcome.Attempted:
			report.Skipped++
		case outcome.Status == storage.JobSent:
			report.Sent++
		case outcome.Status == storage.JobPending:
			report.Retried++
		case outcome.Status == storage.JobFailed:
			report.Failed++
		default:
			// Attempted but stuck in sending after a store update error.
			report.Errored++
		}
	}

	if report.Selected > 0 {
		p.log.Info("delivery batch processed",
			logx.Int("selected", report.Selected),
			logx.Int("sent", report.Sent),
			logx.Int("retried", report.Retried),
			logx.Int("failed", report.Failed),
			logx.Int("skipped", report.Skipped),
			logx.Int("errored", report.Errored))
	}
	return report, nil
}

func (p *Processor) processOne(ctx context.Context, job storage.DeliveryJob) Outcome {
	log := p.log.With(logx.String("job_id", job.ID))

	claimed, err := p.store.MarkSending(ctx, job.ID)
	if err != nil {
		log.Error("claim job", logx.Err(err))
		return Outcome{JobID: job.ID, Status: job.Status, Err: err}
	}
	if !claimed {
		// Someone else moved it between select and claim.
		return Outcome{JobID: job.ID, Status: job.Status}
	}

	if err := p.attemptSend(ctx, job); err != nil {
		return p.recordFailure(ctx, job, err, log)
	}

	sentAt := time.Now().UTC()
	if err := p.store.MarkSent(ctx, job.ID, sentAt); err != nil {
		log.Error("mark sent", logx.Err(err))
		return Outcome{JobID: job.ID, Status: storage.JobSending, Attempted: true, Err: err}
	}
	log.Debug("job sent", logx.String("recipient", job.Recipient))
	return Outcome{JobID: job.ID, Status: storage.JobSent, Attempted: true}
}

func (p *Processor) attemptSend(ctx context.Context, job storage.DeliveryJob) error {
	body, err := p.renderer.Render(job.TemplateName, job.TemplateData)
	if err != nil {
		return err
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	sendCtx, cancel := context.WithTimeout(ctx, p.cfg.SendTimeout)
	defer cancel()
	return p.transport.Send(sendCtx, job.Recipient, job.Subject, body)
}

func (p *Processor) recordFailure(ctx context.Context, job storage.DeliveryJob, sendErr error, log logx.Logger) Outcome {
	if job.Retries < p.cfg.RetryMax {
		if err := p.store.MarkRetry(ctx, job.ID, sendErr.Error()); err != nil {
			log.Error("mark retry", logx.Err(err))
			return Outcome{JobID: job.ID, Status: storage.JobSending, Attempted: true, Err: err}
		}
		log.Warn("send failed, will retry",
			logx.Int("retries", job.Retries+1),
			logx.Int("retry_max", p.cfg.RetryMax),
			logx.Err(sendErr))
		return Outcome{JobID: job.ID, Status: storage.JobPending, Attempted: true, Err: sendErr}
	}

	if err := p.store.MarkFailed(ctx, job.ID, sendErr.Error()); err != nil {
		log.Error("mark failed", logx.Err(err))
		return Outcome{JobID: job.ID, Status: storage.JobSending, Attempted: true, Err: err}
	}
	log.Error("job failed permanently",
		logx.String("recipient", job.Recipient),
		logx.Int("retries", job.Retries),
		logx.Err(sendErr))
	return Outcome{JobID: job.ID, Status: storage.JobFailed, Attempted: true, Err: sendErr}
}

// RetryJob is the operator action that reopens a failed job: back to pending
// with a fresh retry budget.
func (p *Processor) RetryJob(ctx context.Context, id string) error {
	if err := p.store.ResetJob(ctx, id); err != nil {
		return err
	}
	p.log.Info("job reset for retry", logx.String("job_id", id))
	return nil
}

// DeleteJob removes a job outright. Admin action; no status restriction.
func (p *Processor) DeleteJob(ctx context.Context, id string) error {
	if err := p.store.DeleteJob(ctx, id); err != nil {
		return err
	}
	p.log.Info("job deleted", logx.String("job_id", id))
	return nil
}
