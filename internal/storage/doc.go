// Package storage persists the active schedule and the run history.
//
// It currently supports:
//   - "file": a private directory holding the raw schedule text and a JSON Lines run log
//   - "sqlite": a single SQLite database file (modernc.org/sqlite, no cgo)
//
// The schedule payload is the raw cron text, UTF-8, without framing. An empty
// payload means "no schedule". Saves are atomic: a crash mid-write leaves the
// previous record intact.
package storage
