package app

import (
	"fmt"
	"strings"
	"time"

	"timesync/internal/action"
	"timesync/internal/config"
	"timesync/internal/scheduler"
	"timesync/internal/storage"
	"timesync/internal/transport/httpapi"
	logx "timesync/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		Journal: lc.Journal,
		File: logx.FileConfig{
			Enabled:    lc.File.Enabled,
			Path:       lc.File.Path,
			MaxSizeMB:  lc.File.MaxSizeMB,
			MaxBackups: lc.File.MaxBackups,
			MaxAgeDays: lc.File.MaxAgeDays,
			Compress:   lc.File.Compress,
		},
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	poll, err := config.ParseDurationOrDefault("scheduler.poll_interval", cfg.Scheduler.PollInterval, scheduler.DefaultPollInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		PollInterval: poll,
		Timezone:     strings.TrimSpace(cfg.Scheduler.Timezone),
		HistorySize:  cfg.Scheduler.HistorySize,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		path = config.DefaultStoragePath
		if driver == "sqlite" || driver == "sqlite3" {
			path += "/timesync.db"
		}
	}
	switch driver {
	case "", "file":
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapActionConfig(cfg *config.Config) (action.Config, error) {
	timeout, err := config.ParseDurationField("action.timeout", cfg.Action.Timeout)
	if err != nil {
		return action.Config{}, err
	}
	return action.Config{
		Driver:  cfg.Action.Driver,
		Unit:    cfg.Action.Unit,
		Command: cfg.Action.Command,
		Timeout: timeout,
	}, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	read, err := config.ParseDurationOrDefault("http.read_timeout", cfg.HTTP.ReadTimeout, 10*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("http.write_timeout", cfg.HTTP.WriteTimeout, 30*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Addr:              cfg.HTTP.Addr,
		TriggerRatePerMin: cfg.HTTP.TriggerRatePerMin,
		ReadTimeout:       read,
		WriteTimeout:      write,
		Pprof:             cfg.HTTP.Pprof,
	}, nil
}
