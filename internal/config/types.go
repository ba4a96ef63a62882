package config

// Config is the on-disk shape of schedd's config file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Storage    *StorageConfig   `json:"storage,omitempty"`
	Dispatcher DispatcherConfig `json:"dispatcher"`
	Recurrence RecurrenceConfig `json:"recurrence,omitempty"`
	Notifier   *NotifierConfig  `json:"notifier,omitempty"`
	Items      ItemsConfig      `json:"items,omitempty"`
	Pprof      PprofConfig      `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the item store. Omitted means in-memory.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./schedd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// DispatcherConfig controls the daily dispatch run and its wake-up trigger.
//
// Defaults:
//   - timezone: UTC
//   - cadence: "0 * * * *" (hourly; the first run of a day does the work)
//   - run_timeout: "0s" (disabled)
//   - page_size: 100
//   - max_items_per_run: 0 (unlimited)
type DispatcherConfig struct {
	Enabled        bool   `json:"enabled"`
	Timezone       string `json:"timezone,omitempty"`
	Cadence        string `json:"cadence,omitempty"`
	RunTimeout     string `json:"run_timeout,omitempty"`
	PageSize       int    `json:"page_size,omitempty"`
	MaxItemsPerRun int    `json:"max_items_per_run,omitempty"`
	// RunOnStart dispatches once right after startup instead of waiting for
	// the first trigger.
	RunOnStart bool `json:"run_on_start,omitempty"`
}

type RecurrenceConfig struct {
	// HorizonYears bounds next-occurrence searches. 0 means the default (10).
	HorizonYears int `json:"horizon_years,omitempty"`
}

// NotifierConfig controls fire notifications. Omitted means disabled.
type NotifierConfig struct {
	Enabled       bool            `json:"enabled"`
	QueueSize     int             `json:"queue_size,omitempty"`
	RatePerSec    int             `json:"rate_per_sec,omitempty"`
	RetryMax      int             `json:"retry_max,omitempty"`
	RetryBase     string          `json:"retry_base,omitempty"`
	RetryMaxDelay string          `json:"retry_max_delay,omitempty"`
	Template      string          `json:"template,omitempty"`
	Telegram      *TelegramTarget `json:"telegram,omitempty"`
}

// TelegramTarget is where notifications go. Without it they are logged.
type TelegramTarget struct {
	Token    string `json:"token"` // never logged
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}

// ItemsConfig points at an item definition file imported on startup.
type ItemsConfig struct {
	File string `json:"file,omitempty"`
}

// PprofConfig controls the optional pprof HTTP server.
//
// Prefer binding to localhost (e.g. "127.0.0.1:6060"). A non-loopback address
// needs a token or allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // bearer token, never logged
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
