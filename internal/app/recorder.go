package app

import (
	"context"
	"time"

	"timesync/internal/eventbus"
	"timesync/internal/scheduler"
	"timesync/internal/storage"
	logx "timesync/pkg/logx"
)

// runRecorder persists every finished synchronization attempt.
type runRecorder struct {
	store storage.Store
	log   logx.Logger
}

func (r *runRecorder) Run(ctx context.Context, ch <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			// keep what the scheduler published before shutdown
			for {
				select {
				case e, ok := <-ch:
					if !ok {
						return nil
					}
					r.handle(e)
				default:
					return nil
				}
			}
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(e)
		}
	}
}

func (r *runRecorder) handle(e eventbus.Event) {
	if e.Type != eventbus.SyncFinished && e.Type != eventbus.SyncFailed {
		return
	}
	ev, ok := e.Data.(scheduler.RunEvent)
	if !ok {
		return
	}
	rec := storage.RunRecord{
		Started: ev.Started,
		TookMS:  ev.Duration.Milliseconds(),
		Source:  ev.Source,
		OK:      e.Type == eventbus.SyncFinished,
		Error:   ev.Error,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.AppendRun(ctx, rec); err != nil {
		r.log.Warn("run history append failed", logx.Err(err))
	}
}
