package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Storage holds the durable state: schedules, delivery jobs, and the
	// run-in-progress flag. The daemon refuses to start without it.
	Storage StorageConfig `json:"storage"`

	// Trigger controls the periodic passes over schedules and the delivery queue.
	Trigger TriggerConfig `json:"trigger"`

	Schedule ScheduleConfig `json:"schedule,omitempty"`
	Delivery DeliveryConfig `json:"delivery,omitempty"`

	Generation GenerationConfig `json:"generation,omitempty"`
	SMTP       SMTPConfig       `json:"smtp,omitempty"`

	Ops *OpsConfig `json:"ops,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the persistence backend.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process store, state is lost on restart
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// TriggerConfig controls the two periodic passes.
//
// All durations are Go duration strings (e.g. "5m", "15m").
//
// ScheduleInterval must stay at or below the matcher's firing window
// (schedule.window_minutes, default 15) or due slots can be missed entirely;
// the trigger logs a warning when the config violates that.
type TriggerConfig struct {
	Enabled          bool   `json:"enabled"`
	ScheduleInterval string `json:"schedule_interval,omitempty"` // default "15m"
	DeliveryInterval string `json:"delivery_interval,omitempty"` // default "5m"
}

// ScheduleConfig controls the schedule matcher.
//
// Zones maps short labels (as stored on schedules) to IANA zone names.
// Unknown labels resolve to UTC at match time; that fallback is deliberate
// and silent, so a typo in a schedule's timezone shifts it to UTC rather
// than breaking the whole pass.
type ScheduleConfig struct {
	WindowMinutes int               `json:"window_minutes,omitempty"` // default 15
	Zones         map[string]string `json:"zones,omitempty"`
}

// DeliveryConfig controls the queue processor.
type DeliveryConfig struct {
	BatchSize  int    `json:"batch_size,omitempty"`   // default 25
	RetryMax   int    `json:"retry_max,omitempty"`    // default 3
	RatePerSec int    `json:"rate_per_sec,omitempty"` // sends/sec, default 10; negative disables limiting
	// SendTimeout bounds a single transport call. Go duration string.
	SendTimeout string `json:"send_timeout,omitempty"` // default "10s"
}

// GenerationConfig points at the external content-generation provider.
type GenerationConfig struct {
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"api_key,omitempty"`
	Model    string `json:"model,omitempty"`
	// Timeout bounds a single generation call. Go duration string.
	Timeout string `json:"timeout,omitempty"` // default "120s"
}

// SMTPConfig configures the outbound mail transport.
type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"` // default 587
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	From     string `json:"from"`
}

// OpsConfig controls the optional ops HTTP server (/healthz, /status, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	// Server timeouts (Go duration strings).
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
