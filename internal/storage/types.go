package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file": private directory backend (default when empty)
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string        // directory for "file", database file for "sqlite"
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord is one trigger attempt.
// Keep it compact and schema-stable.
type RunRecord struct {
	Started time.Time `json:"started"`
	TookMS  int64     `json:"took_ms"`
	Source  string    `json:"source"` // "schedule" | "manual"
	OK      bool      `json:"ok"`
	Error   string    `json:"err,omitempty"`
}
