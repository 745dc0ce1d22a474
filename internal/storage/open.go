package storage

import (
	"context"
	"errors"
	"strings"

	logx "timesync/pkg/logx"
)

// Store is the persistence API used by the scheduler and the run recorder.
type Store interface {
	// Load returns the persisted schedule text, or "" when none was saved yet.
	Load(ctx context.Context) (string, error)
	// Save atomically replaces the persisted schedule text.
	Save(ctx context.Context, raw string) error
	AppendRun(ctx context.Context, r RunRecord) error
	// RecentRuns returns up to n records, newest first.
	RecentRuns(ctx context.Context, n int) ([]RunRecord, error)
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
