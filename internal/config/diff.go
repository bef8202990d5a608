package config

import (
	"reflect"
	"strings"

	"newsdesk/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging. Secrets (api keys, smtp password, ops token)
// are never included, only whether they are set.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}

	if !reflect.DeepEqual(oldCfg.Trigger, newCfg.Trigger) {
		changed = append(changed, "trigger")
		attrs = append(attrs,
			logx.Bool("trigger.enabled", newCfg.Trigger.Enabled),
			logx.String("trigger.schedule_interval", strings.TrimSpace(newCfg.Trigger.ScheduleInterval)),
			logx.String("trigger.delivery_interval", strings.TrimSpace(newCfg.Trigger.DeliveryInterval)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Schedule, newCfg.Schedule) {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.Int("schedule.window_minutes", newCfg.Schedule.WindowMinutes),
			logx.Int("schedule.zone_count", len(newCfg.Schedule.Zones)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Delivery, newCfg.Delivery) {
		changed = append(changed, "delivery")
		attrs = append(attrs,
			logx.Int("delivery.batch_size", newCfg.Delivery.BatchSize),
			logx.Int("delivery.retry_max", newCfg.Delivery.RetryMax),
			logx.Int("delivery.rate_per_sec", newCfg.Delivery.RatePerSec),
		)
	}

	// Generation (never log the api key)
	if !reflect.DeepEqual(oldCfg.Generation, newCfg.Generation) {
		changed = append(changed, "generation")
		attrs = append(attrs,
			logx.String("generation.endpoint", strings.TrimSpace(newCfg.Generation.Endpoint)),
			logx.Bool("generation.api_key_set", strings.TrimSpace(newCfg.Generation.APIKey) != ""),
		)
	}

	// SMTP (never log the password)
	if !reflect.DeepEqual(oldCfg.SMTP, newCfg.SMTP) {
		changed = append(changed, "smtp")
		attrs = append(attrs,
			logx.String("smtp.host", strings.TrimSpace(newCfg.SMTP.Host)),
			logx.Bool("smtp.password_set", strings.TrimSpace(newCfg.SMTP.Password) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Ops, newCfg.Ops) {
		changed = append(changed, "ops")
	}

	return changed, attrs
}
