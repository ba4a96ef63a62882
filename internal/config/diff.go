package config

import (
	"reflect"
	"sort"
	"strings"

	logx "schedd/pkg/logx"
)

// SummarizeConfigChange lists the changed sections and safe structured fields
// for logging. Tokens are reported only as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 24)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.json", newCfg.Logging.JSON),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if strings.TrimSpace(oS.Driver) != strings.TrimSpace(nS.Driver) ||
		strings.TrimSpace(oS.Path) != strings.TrimSpace(nS.Path) ||
		strings.TrimSpace(oS.BusyTimeout) != strings.TrimSpace(nS.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(nS.BusyTimeout)),
		)
	}

	if oldCfg.Dispatcher != newCfg.Dispatcher {
		d := newCfg.Dispatcher
		changed = append(changed, "dispatcher")
		attrs = append(attrs,
			logx.Bool("dispatcher.enabled", d.Enabled),
			logx.String("dispatcher.timezone", strings.TrimSpace(d.Timezone)),
			logx.String("dispatcher.cadence", strings.TrimSpace(d.Cadence)),
			logx.String("dispatcher.run_timeout", strings.TrimSpace(d.RunTimeout)),
			logx.Int("dispatcher.page_size", d.PageSize),
			logx.Int("dispatcher.max_items_per_run", d.MaxItemsPerRun),
		)
	}

	if oldCfg.Recurrence != newCfg.Recurrence {
		changed = append(changed, "recurrence")
		attrs = append(attrs, logx.Int("recurrence.horizon_years", newCfg.Recurrence.HorizonYears))
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		var n NotifierConfig
		if newCfg.Notifier != nil {
			n = *newCfg.Notifier
		}
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", n.Enabled),
			logx.Int("notifier.queue_size", n.QueueSize),
			logx.Int("notifier.rate_per_sec", n.RatePerSec),
			logx.Int("notifier.retry_max", n.RetryMax),
			logx.Bool("notifier.telegram", n.Telegram != nil),
		)
		if n.Telegram != nil {
			attrs = append(attrs,
				logx.Int64("notifier.telegram.chat_id", n.Telegram.ChatID),
				logx.Bool("notifier.telegram.token_set", strings.TrimSpace(n.Telegram.Token) != ""),
			)
		}
	}

	if oldCfg.Items != newCfg.Items {
		changed = append(changed, "items")
		attrs = append(attrs, logx.String("items.file", newCfg.Items.File))
	}

	op, np := oldCfg.Pprof, newCfg.Pprof
	tokenFlip := (strings.TrimSpace(op.Token) != "") != (strings.TrimSpace(np.Token) != "")
	op.Token, np.Token = "", ""
	if op != np || tokenFlip {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", np.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(np.Addr)),
			logx.Bool("pprof.token_set", strings.TrimSpace(newCfg.Pprof.Token) != ""),
			logx.Bool("pprof.allow_insecure", np.AllowInsecure),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired reports whether any changed section only takes effect after
// a restart (storage backend, recurrence horizon).
func RestartRequired(sections []string) bool {
	for _, s := range sections {
		if s == "storage" || s == "recurrence" {
			return true
		}
	}
	return false
}
