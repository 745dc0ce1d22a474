package config

import (
	"reflect"
	"sort"
	"strings"

	logx "timesync/pkg/logx"
)

// Sections that are only read at startup.
var restartOnly = map[string]bool{"storage": true, "action": true, "http": true}

// SummarizeConfigChange returns the changed sections and safe structured
// fields for logging.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 12)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.journal", newCfg.Logging.Journal),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !trimEq(oldCfg.Scheduler.PollInterval, newCfg.Scheduler.PollInterval) ||
		!trimEq(oldCfg.Scheduler.Timezone, newCfg.Scheduler.Timezone) ||
		oldCfg.Scheduler.HistorySize != newCfg.Scheduler.HistorySize {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.poll_interval", strings.TrimSpace(newCfg.Scheduler.PollInterval)),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.Int("scheduler.history_size", newCfg.Scheduler.HistorySize),
		)
	}

	if !trimEq(oldCfg.Storage.Driver, newCfg.Storage.Driver) ||
		!trimEq(oldCfg.Storage.Path, newCfg.Storage.Path) ||
		!trimEq(oldCfg.Storage.BusyTimeout, newCfg.Storage.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)))
	}

	if !reflect.DeepEqual(oldCfg.Action, newCfg.Action) {
		changed = append(changed, "action")
		// command argv may carry credentials; log its length only
		attrs = append(attrs,
			logx.String("action.driver", strings.TrimSpace(newCfg.Action.Driver)),
			logx.String("action.unit", strings.TrimSpace(newCfg.Action.Unit)),
			logx.Int("action.command_len", len(newCfg.Action.Command)),
		)
	}

	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired filters changed down to sections a reload cannot apply.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		if restartOnly[s] {
			out = append(out, s)
		}
	}
	return out
}

func trimEq(a, b string) bool { return strings.TrimSpace(a) == strings.TrimSpace(b) }
