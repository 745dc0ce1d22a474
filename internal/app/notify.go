package app

import (
	"context"

	"github.com/coreos/go-systemd/v22/daemon"

	"timesync/internal/eventbus"
	logx "timesync/pkg/logx"
)

// sdNotify reports state to systemd. It is a no-op outside a Type=notify unit.
func (a *App) sdNotify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		a.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		a.log.Trace("sd_notify sent", logx.String("state", state))
	}
}

func (a *App) statusLine() string {
	return "STATUS=Next Sync: " + a.sched.GetNextRunDescription()
}

// statusLoop keeps the unit status line in sync with the schedule.
func (a *App) statusLoop(ctx context.Context, ch <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			switch e.Type {
			case eventbus.ScheduleChanged, eventbus.SyncFinished, eventbus.SyncFailed:
				a.sdNotify(a.statusLine())
			}
		}
	}
}
