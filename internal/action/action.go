package action

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "timesync/pkg/logx"
)

var ErrUnsupported = errors.New("action driver unsupported on this platform")

const DefaultUnit = "systemd-timesyncd.service"

// Invoker performs one synchronization attempt.
type Invoker interface {
	Invoke(ctx context.Context) error
}

// Func adapts a plain function to Invoker.
type Func func(ctx context.Context) error

func (f Func) Invoke(ctx context.Context) error { return f(ctx) }

// Config selects and configures the driver.
type Config struct {
	Driver  string        // "systemd" (default) | "command"
	Unit    string        // systemd unit to restart
	Command []string      // argv for the command driver
	Timeout time.Duration // per attempt; 0 means unbounded
}

// New builds the configured invoker.
func New(cfg Config, log logx.Logger) (Invoker, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	var inv Invoker
	switch d := strings.ToLower(strings.TrimSpace(cfg.Driver)); d {
	case "", "systemd":
		unit := strings.TrimSpace(cfg.Unit)
		if unit == "" {
			unit = DefaultUnit
		}
		inv = &Systemd{Unit: normalizeUnit(unit), log: log}
	case "command", "exec":
		if len(cfg.Command) == 0 || strings.TrimSpace(cfg.Command[0]) == "" {
			return nil, errors.New("action.command is required for the command driver")
		}
		inv = &Command{Argv: append([]string(nil), cfg.Command...)}
	default:
		return nil, fmt.Errorf("unknown action driver: %s", d)
	}
	if cfg.Timeout > 0 {
		inv = WithTimeout(inv, cfg.Timeout)
	}
	return inv, nil
}

// WithTimeout bounds each invocation of inv.
func WithTimeout(inv Invoker, d time.Duration) Invoker {
	if d <= 0 {
		return inv
	}
	return Func(func(ctx context.Context) error {
		tctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return inv.Invoke(tctx)
	})
}

func normalizeUnit(u string) string {
	if strings.Contains(u, ".") {
		return u
	}
	return u + ".service"
}
