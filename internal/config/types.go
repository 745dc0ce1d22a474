package config

// Config is the on-disk daemon configuration (JSON or YAML).
//
// Durations are Go duration strings ("30s", "5m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	Action    ActionConfig    `json:"action"`
	HTTP      HTTPConfig      `json:"http"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	Journal bool        `json:"journal,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

// SchedulerConfig controls the poller.
//
// Defaults:
//   - poll_interval: "5m"
//   - timezone: local zone
//   - history_size: 50
type SchedulerConfig struct {
	PollInterval string `json:"poll_interval,omitempty"`
	Timezone     string `json:"timezone,omitempty"`
	HistorySize  int    `json:"history_size,omitempty"`
}

// StorageConfig selects where the schedule and run history live.
//
// Example:
//
//	"storage": { "driver": "file", "path": "/var/lib/timesync" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// ActionConfig selects what a synchronization does.
//
// Drivers:
//   - "systemd" (default): restart Unit over D-Bus
//   - "command": run Command (argv, no shell)
type ActionConfig struct {
	Driver  string   `json:"driver,omitempty"`
	Unit    string   `json:"unit,omitempty"`
	Command []string `json:"command,omitempty"`
	Timeout string   `json:"timeout,omitempty"`
}

// HTTPConfig controls the status/trigger API.
//
// Prefer binding to localhost; the API has no authentication.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8099"
	// TriggerRatePerMin caps manual triggers. 0 means the default (6).
	TriggerRatePerMin int `json:"trigger_rate_per_min,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`

	// Pprof mounts /debug/pprof/ on the same listener.
	Pprof bool `json:"pprof,omitempty"`
}
