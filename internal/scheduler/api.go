package scheduler

import (
	"context"
	"strings"
	"time"

	"timesync/internal/cronexpr"
	"timesync/internal/eventbus"
	logx "timesync/pkg/logx"
)

// SetSchedule validates and installs a new schedule.
//
// Input is trimmed. Re-setting the current text is a no-op. Blank input clears
// the schedule. Invalid input is logged and rejected with every piece of state
// left untouched. A valid schedule is persisted before it is swapped in, but a
// persistence failure is logged and does not roll the change back.
func (s *Service) SetSchedule(raw string) bool {
	raw = strings.TrimSpace(raw)

	s.setMu.Lock()
	defer s.setMu.Unlock()

	s.mu.RLock()
	cur, curExpr, loc := s.raw, s.expr, s.loc
	s.mu.RUnlock()
	// Same text is a no-op unless it is currently unusable and needs a re-parse.
	if raw == cur && (cur == "" || curExpr != nil) {
		return true
	}

	var expr *cronexpr.Expression
	if raw != "" {
		e, err := s.parse(raw, loc)
		if err != nil {
			s.log.Warn("schedule rejected", logx.String("expr", raw), logx.Err(err))
			s.publish(eventbus.ScheduleRejected, ScheduleEvent{Expr: raw, Error: err.Error()})
			return false
		}
		expr = e
	}

	if err := s.store.Save(context.Background(), raw); err != nil {
		s.log.Error("schedule persist failed; keeping it in memory", logx.String("expr", raw), logx.Err(err))
	}

	s.mu.Lock()
	s.raw, s.expr = raw, expr
	s.next = s.nextLocked(s.now())
	next := s.next
	s.mu.Unlock()

	s.log.Info("schedule updated", logx.String("expr", raw), logx.String("next", describe(next, loc)))
	s.publish(eventbus.ScheduleChanged, ScheduleEvent{Expr: raw, Next: next})
	return true
}

// GetScheduleText returns the current schedule text, "" when none is set.
func (s *Service) GetScheduleText() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.raw
}

// NextRun returns the next scheduled run, or false when none is scheduled.
func (s *Service) NextRun() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.next, !s.next.IsZero()
}

// GetNextRunDescription formats the next run as "MM/dd/yyyy HH:mm:ss" in the
// configured zone, or "None".
func (s *Service) GetNextRunDescription() string {
	s.mu.RLock()
	next, loc := s.next, s.loc
	s.mu.RUnlock()
	return describe(next, loc)
}

// Upcoming lists up to n future occurrences of the current schedule.
func (s *Service) Upcoming(n int) []time.Time {
	s.mu.RLock()
	expr := s.expr
	s.mu.RUnlock()
	if expr == nil {
		return nil
	}
	return expr.Upcoming(s.now(), n)
}

// TriggerNow starts a synchronization in the background and reports whether it
// was launched. It returns false when one is already running or the scheduler
// is not started.
func (s *Service) TriggerNow() bool {
	s.mu.RLock()
	if s.stopCh == nil {
		s.mu.RUnlock()
		s.log.Debug("manual trigger ignored; scheduler not running")
		return false
	}
	if !s.guard.TryAcquire() {
		s.mu.RUnlock()
		s.log.Info("manual trigger ignored; synchronization already running")
		s.publish(eventbus.SyncSkipped, RunEvent{Source: SourceManual, Started: s.now()})
		return false
	}
	// Add under the read lock; Stop clears stopCh under the write lock before Wait.
	s.manual.Add(1)
	ctx := s.runCtx
	s.mu.RUnlock()

	go func() {
		defer s.manual.Done()
		s.execute(ctx, SourceManual)
	}()
	return true
}
