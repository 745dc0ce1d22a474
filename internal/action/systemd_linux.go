//go:build linux

package action

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/dbus"

	logx "timesync/pkg/logx"
)

// Systemd restarts Unit and waits for the job to finish.
type Systemd struct {
	Unit string
	log  logx.Logger
}

func (s *Systemd) Invoke(ctx context.Context) error {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to systemd: %w", err)
	}
	defer conn.Close()

	done := make(chan string, 1)
	if _, err := conn.RestartUnitContext(ctx, s.Unit, "replace", done); err != nil {
		return fmt.Errorf("restart %s: %w", s.Unit, err)
	}
	select {
	case res := <-done:
		if res != "done" {
			return fmt.Errorf("restart %s: job %s", s.Unit, res)
		}
		s.log.Debug("unit restarted", logx.String("unit", s.Unit))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
