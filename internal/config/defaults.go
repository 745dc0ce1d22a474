package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

const (
	DefaultHTTPAddr          = "127.0.0.1:8099"
	DefaultTriggerRatePerMin = 6
	DefaultStoragePath       = "/var/lib/timesync"
	DefaultLogPath           = "/var/log/timesync/timesyncd.log"
)

// Default is the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Scheduler: SchedulerConfig{
			PollInterval: "5m",
		},
		Storage: StorageConfig{Driver: "file"},
		Action:  ActionConfig{Driver: "systemd"},
		HTTP:    HTTPConfig{Enabled: true, Addr: DefaultHTTPAddr, TriggerRatePerMin: DefaultTriggerRatePerMin},
	}
}

// Validate reports every invalid field at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if _, err := ParseDurationField("scheduler.poll_interval", cfg.Scheduler.PollInterval); err != nil {
		errs = append(errs, err)
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if cfg.Scheduler.HistorySize < 0 {
		errs = append(errs, errors.New("scheduler.history_size must be >= 0"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "file", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Action.Driver)) {
	case "", "systemd":
	case "command", "exec":
		if len(cfg.Action.Command) == 0 || strings.TrimSpace(cfg.Action.Command[0]) == "" {
			errs = append(errs, errors.New("action.command is required for the command driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("action.driver: unknown driver %q", cfg.Action.Driver))
	}
	if _, err := ParseDurationField("action.timeout", cfg.Action.Timeout); err != nil {
		errs = append(errs, err)
	}

	if cfg.HTTP.Enabled {
		if addr := strings.TrimSpace(cfg.HTTP.Addr); addr != "" {
			if _, _, err := net.SplitHostPort(addr); err != nil {
				errs = append(errs, fmt.Errorf("http.addr: %w", err))
			}
		}
		if cfg.HTTP.TriggerRatePerMin < 0 {
			errs = append(errs, errors.New("http.trigger_rate_per_min must be >= 0"))
		}
	}
	if _, err := ParseDurationField("http.read_timeout", cfg.HTTP.ReadTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("http.write_timeout", cfg.HTTP.WriteTimeout); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
