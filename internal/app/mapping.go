package app

import (
	"fmt"
	"strings"
	"time"

	"schedd/internal/config"
	"schedd/internal/dispatch"
	"schedd/internal/notifier"
	"schedd/internal/observability/pprof"
	"schedd/internal/recurrence"
	"schedd/internal/storage"
	"schedd/internal/trigger"
	logx "schedd/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg.Storage == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none", "memory":
		return storage.Config{Driver: "memory"}, nil
	case "file":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapEngineConfig(cfg *config.Config) recurrence.Config {
	return recurrence.Config{HorizonYears: cfg.Recurrence.HorizonYears}
}

// mapDispatcherConfig also checks that the cadence parses as a trigger
// schedule, so a bad hot reload is rejected before it reaches the trigger.
func mapDispatcherConfig(cfg *config.Config) (dispatch.Config, trigger.Config, error) {
	d := cfg.Dispatcher
	loc := time.UTC
	if tz := strings.TrimSpace(d.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return dispatch.Config{}, trigger.Config{}, fmt.Errorf("dispatcher.timezone: invalid %q: %w", tz, err)
		}
		loc = l
	}
	cadence := strings.TrimSpace(d.Cadence)
	if cadence == "" {
		cadence = dispatch.DefaultCadence
	}
	if _, err := trigger.ValidateSchedule(cadence); err != nil {
		return dispatch.Config{}, trigger.Config{}, fmt.Errorf("dispatcher.cadence: %w", err)
	}
	timeout, err := config.ParseDurationField("dispatcher.run_timeout", d.RunTimeout)
	if err != nil {
		return dispatch.Config{}, trigger.Config{}, err
	}
	dc := dispatch.Config{
		Location:       loc,
		Cadence:        cadence,
		RunTimeout:     timeout,
		PageSize:       d.PageSize,
		MaxItemsPerRun: d.MaxItemsPerRun,
	}
	return dc, trigger.Config{Timezone: loc.String()}, nil
}

// mapNotifierConfig returns the notifier config and its sender. A nil
// sender means "log only".
func mapNotifierConfig(cfg *config.Config) (notifier.Config, notifier.Sender, error) {
	n := cfg.Notifier
	if n == nil {
		return notifier.Config{}, nil, nil
	}
	base, err := config.ParseDurationField("notifier.retry_base", n.RetryBase)
	if err != nil {
		return notifier.Config{}, nil, err
	}
	maxDelay, err := config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, nil, err
	}
	nc := notifier.Config{
		Enabled:       n.Enabled,
		QueueSize:     n.QueueSize,
		RatePerSec:    n.RatePerSec,
		RetryMax:      n.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		Template:      n.Template,
	}
	if !n.Enabled || n.Telegram == nil {
		return nc, nil, nil
	}
	snd, err := notifier.NewTelegramSender(notifier.TelegramConfig{
		Token:    n.Telegram.Token,
		ChatID:   n.Telegram.ChatID,
		ThreadID: n.Telegram.ThreadID,
	})
	if err != nil {
		return notifier.Config{}, nil, fmt.Errorf("notifier.telegram: %w", err)
	}
	return nc, snd, nil
}

func mapPprofConfig(cfg *config.Config) (pprof.Config, error) {
	p := cfg.Pprof
	read, err := config.ParseDurationOrDefault("pprof.read_timeout", p.ReadTimeout, 10*time.Second)
	if err != nil {
		return pprof.Config{}, err
	}
	write, err := config.ParseDurationField("pprof.write_timeout", p.WriteTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("pprof.idle_timeout", p.IdleTimeout, 60*time.Second)
	if err != nil {
		return pprof.Config{}, err
	}
	return pprof.Config{
		Enabled:       p.Enabled,
		Addr:          strings.TrimSpace(p.Addr),
		Prefix:        strings.TrimSpace(p.Prefix),
		Token:         strings.TrimSpace(p.Token),
		AllowInsecure: p.AllowInsecure,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

// validate is the hot-reload validator: every mapping must succeed.
func validate(cfg *config.Config) error {
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapDispatcherConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	_, err := mapPprofConfig(cfg)
	return err
}
