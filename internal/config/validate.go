package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	logx "schedd/pkg/logx"
)

// Validate checks bounds, durations, timezone and storage driver. It does not
// touch the filesystem.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if _, err := logx.ParseLevel(cfg.Logging.Level); err != nil {
		add(fmt.Errorf("logging.level: %w", err))
	}

	if sc := cfg.Storage; sc != nil {
		switch strings.ToLower(strings.TrimSpace(sc.Driver)) {
		case "", "none", "memory":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(sc.Path) == "" {
				add(fmt.Errorf("storage.path is required when storage.driver=%s", sc.Driver))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", sc.Driver))
		}
		_, err := ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
		add(err)
	}

	d := cfg.Dispatcher
	if tz := strings.TrimSpace(d.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("dispatcher.timezone: invalid %q: %w", tz, err))
		}
	}
	_, err := ParseDurationField("dispatcher.run_timeout", d.RunTimeout)
	add(err)
	if d.PageSize < 0 {
		add(errors.New("dispatcher.page_size must be >= 0"))
	}
	if d.MaxItemsPerRun < 0 {
		add(errors.New("dispatcher.max_items_per_run must be >= 0"))
	}

	if cfg.Recurrence.HorizonYears < 0 {
		add(errors.New("recurrence.horizon_years must be >= 0"))
	}

	if n := cfg.Notifier; n != nil {
		if n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 {
			add(errors.New("notifier: queue_size, rate_per_sec and retry_max must be >= 0"))
		}
		_, err := ParseDurationField("notifier.retry_base", n.RetryBase)
		add(err)
		_, err = ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay)
		add(err)
		if t := n.Telegram; t != nil && n.Enabled {
			if strings.TrimSpace(t.Token) == "" {
				add(errors.New("notifier.telegram.token is required"))
			}
			if t.ChatID == 0 {
				add(errors.New("notifier.telegram.chat_id is required"))
			}
		}
	}

	add(validatePprof(cfg.Pprof))
	return errors.Join(errs...)
}

func validatePprof(p PprofConfig) error {
	var errs []error
	for _, f := range []struct{ path, raw string }{
		{"pprof.read_timeout", p.ReadTimeout},
		{"pprof.write_timeout", p.WriteTimeout},
		{"pprof.idle_timeout", p.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			errs = append(errs, err)
		}
	}
	if p.Prefix != "" && !strings.HasPrefix(p.Prefix, "/") {
		errs = append(errs, fmt.Errorf("pprof.prefix must start with '/'"))
	}
	if !p.Enabled || strings.TrimSpace(p.Addr) == "" {
		return errors.Join(errs...)
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(p.Addr))
	if err != nil {
		return errors.Join(append(errs, fmt.Errorf("pprof.addr: %w", err))...)
	}
	if !isLoopbackHost(host) && strings.TrimSpace(p.Token) == "" && !p.AllowInsecure {
		errs = append(errs, fmt.Errorf("pprof.addr %q is not loopback; set pprof.token or pprof.allow_insecure", p.Addr))
	}
	return errors.Join(errs...)
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
