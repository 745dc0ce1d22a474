package scheduler

import (
	"context"
	"fmt"
	"time"

	"timesync/internal/eventbus"
	logx "timesync/pkg/logx"
)

func (s *Service) pollLoop(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		s.safeCheck()

		s.mu.RLock()
		interval := s.cfg.PollInterval
		s.mu.RUnlock()

		t := time.NewTimer(interval)
		select {
		case <-stopCh:
			t.Stop()
			return
		case <-s.wake:
			t.Stop()
		case <-t.C:
		}
	}
}

// safeCheck runs one due check; a panic is logged and the loop keeps polling.
func (s *Service) safeCheck() {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in scheduler poller", logx.Any("panic", r), logx.Stack(logx.StackTrace(3, 32)))
		}
	}()
	s.checkDue()
}

// checkDue fires the action when the next run time has passed. It reports
// whether an attempt was made. A tick that finds a run in flight neither fires
// nor advances the next run time.
func (s *Service) checkDue() bool {
	now := s.now()
	next, ctx := s.due(now)
	if next.IsZero() {
		return false
	}
	if s.hookBeforeClaim != nil {
		s.hookBeforeClaim()
	}
	if !s.guard.TryAcquire() {
		s.log.Debug("scheduled sync skipped; previous run still in flight", logx.Time("due", next))
		s.publish(eventbus.SyncSkipped, RunEvent{Source: SourceSchedule, Started: now})
		return false
	}
	// A run that finished between the check and the CAS has already moved next.
	if again, _ := s.due(now); !again.Equal(next) {
		s.guard.Release()
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.execute(ctx, SourceSchedule)
	return true
}

// due returns the next run time when it is at or before now, or zero.
func (s *Service) due(now time.Time) (time.Time, context.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.next.IsZero() || now.Before(s.next) {
		return time.Time{}, s.runCtx
	}
	return s.next, s.runCtx
}

// execute runs the action once. The caller must hold the guard; execute
// recomputes the next run time from the current clock and then releases it.
func (s *Service) execute(ctx context.Context, source string) {
	defer s.guard.Release()

	start := s.now()
	s.log.Info("attempting to synchronize time", logx.String("source", source))
	s.publish(eventbus.SyncStarted, RunEvent{Source: source, Started: start})

	stack, err := s.invoke(ctx)
	dur := s.now().Sub(start)
	s.recompute()

	item := HistoryItem{Source: source, Started: start, Duration: dur}
	ev := RunEvent{Source: source, Started: start, Duration: dur}
	if err != nil {
		item.Error = err.Error()
		ev.Error = item.Error
	}
	s.record(item)

	if err != nil {
		fields := []logx.Field{logx.String("source", source), logx.Duration("dur", dur), logx.Err(err)}
		if stack != "" {
			fields = append(fields, logx.Stack(stack))
		}
		s.log.Error("time synchronization failed", fields...)
		s.publish(eventbus.SyncFailed, ev)
	} else {
		s.log.Info("time synchronization successful", logx.String("source", source), logx.Duration("dur", dur))
		s.publish(eventbus.SyncFinished, ev)
	}
}

// invoke runs the action, converting a panic into an error.
func (s *Service) invoke(ctx context.Context) (stack string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panic: %v", r)
			stack = logx.StackTrace(3, 32)
		}
	}()
	return "", s.inv.Invoke(context.WithoutCancel(ctx))
}

func (s *Service) recompute() {
	s.mu.Lock()
	s.next = s.nextLocked(s.now())
	next, loc := s.next, s.loc
	s.mu.Unlock()
	s.log.Debug("next sync computed", logx.String("next", describe(next, loc)))
}
