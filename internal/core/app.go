// Package core wires the daemon together: config, logging, storage, the
// schedule runner, the delivery processor, the periodic trigger, and the ops
// server.
package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"newsdesk/internal/config"
	"newsdesk/internal/delivery"
	"newsdesk/internal/generate"
	"newsdesk/internal/ops"
	"newsdesk/internal/runtime/supervisor"
	"newsdesk/internal/schedule"
	"newsdesk/internal/storage"
	"newsdesk/internal/trigger"
	"newsdesk/internal/zone"
	"newsdesk/pkg/logx"
)

const shutdownTimeout = 15 * time.Second

// App owns the daemon's component graph.
type App struct {
	// OnReady is called once everything is started; cmd uses it for systemd
	// readiness notification.
	OnReady func()

	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store     storage.Store
	opsServer *ops.Server
	trig      *trigger.Service
}

// New loads and validates the config and builds the component graph without
// starting anything.
func New(configPath string) (*App, error) {
	mgr := config.NewManager(configPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	mgr.SetLogger(log.With(logx.String("comp", "config")))
	mgr.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	a := &App{cfgMgr: mgr, logSvc: logSvc, log: log}
	if err := a.build(cfg); err != nil {
		logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.store = store
	a.opsServer = ops.NewServer(store, a.log)

	if !cfg.Trigger.Enabled {
		a.log.Warn("trigger disabled; schedules and queue will not be processed")
		return nil
	}

	zones := zone.NewResolver(cfg.Schedule.Zones)
	matcher := schedule.NewMatcher(zones, cfg.Schedule.WindowMinutes,
		a.log.With(logx.String("comp", "matcher")))

	genTimeout, err := config.ParseDurationOrDefault("generation.timeout", cfg.Generation.Timeout, 2*time.Minute)
	if err != nil {
		return err
	}
	gen, err := generate.NewHTTP(generate.Config{
		Endpoint: cfg.Generation.Endpoint,
		APIKey:   cfg.Generation.APIKey,
		Model:    cfg.Generation.Model,
		Timeout:  genTimeout,
	}, a.log.With(logx.String("comp", "generate")))
	if err != nil {
		return err
	}
	runner := schedule.NewRunner(store, matcher, gen,
		a.log.With(logx.String("comp", "schedule")))

	transport, err := delivery.NewSMTP(delivery.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})
	if err != nil {
		return err
	}
	renderer, err := delivery.NewRenderer(nil)
	if err != nil {
		return err
	}
	sendTimeout, err := config.ParseDurationOrDefault("delivery.send_timeout", cfg.Delivery.SendTimeout, delivery.DefaultSendTimeout)
	if err != nil {
		return err
	}
	processor := delivery.NewProcessor(store, transport, renderer, delivery.Config{
		BatchSize:   cfg.Delivery.BatchSize,
		RetryMax:    cfg.Delivery.RetryMax,
		RatePerSec:  float64(cfg.Delivery.RatePerSec),
		SendTimeout: sendTimeout,
	}, a.log.With(logx.String("comp", "delivery")))

	trigCfg, err := triggerConfig(cfg)
	if err != nil {
		return err
	}
	a.trig = trigger.New(runner, processor, matcher.WindowMinutes(), trigCfg,
		a.log.With(logx.String("comp", "trigger")))
	return nil
}

// Run starts everything and blocks until ctx is cancelled, then shuts down
// gracefully within the shutdown timeout.
func (a *App) Run(ctx context.Context) error {
	sup := supervisor.New(ctx, supervisor.WithLogger(a.log))

	sup.Go("config-watch", a.cfgMgr.Watch)
	sup.Go0("config-apply", a.applyLoop)

	if a.trig != nil {
		if err := a.trig.Start(sup.Context()); err != nil {
			sup.Cancel()
			return err
		}
	}
	if c := a.cfgMgr.Get(); c != nil && c.Ops != nil {
		opsCfg, err := opsConfig(c.Ops)
		if err != nil {
			a.log.Warn("ops config invalid, ops server disabled", logx.Err(err))
		} else {
			a.opsServer.Apply(ctx, opsCfg)
		}
	}

	a.log.Info("newsdesk started")
	if a.OnReady != nil {
		a.OnReady()
	}

	<-ctx.Done()
	a.log.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if a.trig != nil {
		if err := a.trig.Stop(stopCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop trigger: %w", err))
		}
	}
	a.opsServer.Stop(stopCtx)
	if err := sup.Stop(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
		errs = append(errs, err)
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	a.logSvc.Close()
	return errors.Join(errs...)
}

// applyLoop fans hot-reloadable config changes out to the running components.
// Sections that require a restart (storage, schedule zones, generation, smtp)
// are reported but left alone.
func (a *App) applyLoop(ctx context.Context) {
	sub := a.cfgMgr.Subscribe(1)
	defer a.cfgMgr.Unsubscribe(sub)

	prev := a.cfgMgr.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok || cfg == nil {
				return
			}
			changed, attrs := config.SummarizeChange(prev, cfg)
			if len(changed) == 0 {
				prev = cfg
				continue
			}
			a.log.Info("config reloaded",
				append([]logx.Field{logx.Any("sections", changed)}, attrs...)...)

			a.logSvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})

			if a.trig != nil {
				if trigCfg, err := triggerConfig(cfg); err == nil {
					a.trig.Apply(trigCfg)
				} else {
					a.log.Warn("trigger config invalid, keeping previous intervals", logx.Err(err))
				}
			}

			if cfg.Ops != nil {
				if opsCfg, err := opsConfig(cfg.Ops); err == nil {
					a.opsServer.Apply(ctx, opsCfg)
				} else {
					a.log.Warn("ops config invalid, keeping previous state", logx.Err(err))
				}
			} else {
				a.opsServer.Apply(ctx, ops.Config{})
			}

			for _, section := range changed {
				switch section {
				case "storage", "schedule", "generation", "smtp", "delivery":
					a.log.Warn("config section requires restart to take effect",
						logx.String("section", section))
				}
			}
			prev = cfg
		}
	}
}

func triggerConfig(cfg *config.Config) (trigger.Config, error) {
	si, err := config.ParseDurationOrDefault("trigger.schedule_interval", cfg.Trigger.ScheduleInterval, trigger.DefaultScheduleInterval)
	if err != nil {
		return trigger.Config{}, err
	}
	di, err := config.ParseDurationOrDefault("trigger.delivery_interval", cfg.Trigger.DeliveryInterval, trigger.DefaultDeliveryInterval)
	if err != nil {
		return trigger.Config{}, err
	}
	return trigger.Config{ScheduleInterval: si, DeliveryInterval: di}, nil
}

func opsConfig(c *config.OpsConfig) (ops.Config, error) {
	rt, err := config.ParseDurationField("ops.read_timeout", c.ReadTimeout)
	if err != nil {
		return ops.Config{}, err
	}
	wt, err := config.ParseDurationField("ops.write_timeout", c.WriteTimeout)
	if err != nil {
		return ops.Config{}, err
	}
	it, err := config.ParseDurationField("ops.idle_timeout", c.IdleTimeout)
	if err != nil {
		return ops.Config{}, err
	}
	return ops.Config{
		Enabled:       c.Enabled,
		Addr:          c.Addr,
		Token:         c.Token,
		AllowInsecure: c.AllowInsecure,
		Pprof:         c.Pprof,
		ReadTimeout:   rt,
		WriteTimeout:  wt,
		IdleTimeout:   it,
	}, nil
}

// validateConfig rejects configs the components would choke on later. It runs
// at startup and as the hot-reload gate.
func validateConfig(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if _, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := triggerConfig(cfg); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("delivery.send_timeout", cfg.Delivery.SendTimeout); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("generation.timeout", cfg.Generation.Timeout); err != nil {
		return err
	}
	if cfg.Ops != nil {
		if _, err := opsConfig(cfg.Ops); err != nil {
			return err
		}
	}

	if cfg.Trigger.Enabled {
		if strings.TrimSpace(cfg.Generation.Endpoint) == "" {
			return errors.New("generation.endpoint is required when the trigger is enabled")
		}
		if strings.TrimSpace(cfg.SMTP.Host) == "" {
			return errors.New("smtp.host is required when the trigger is enabled")
		}
		if strings.TrimSpace(cfg.SMTP.From) == "" {
			return errors.New("smtp.from is required when the trigger is enabled")
		}
	}

	for label, name := range cfg.Schedule.Zones {
		if strings.TrimSpace(label) == "" {
			return errors.New("schedule.zones: empty label")
		}
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("schedule.zones[%s]: empty zone name", label)
		}
	}
	return nil
}
