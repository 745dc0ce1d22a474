package scheduler

import (
	"context"
	"errors"
	"strings"
	"time"

	"timesync/internal/action"
	"timesync/internal/cronexpr"
	"timesync/internal/eventbus"
	"timesync/internal/storage"
	logx "timesync/pkg/logx"
)

// New builds a stopped scheduler. Call Start to load the persisted schedule
// and begin polling.
func New(cfg Config, store storage.Store, inv action.Invoker, log logx.Logger, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("scheduler: store is required")
	}
	if inv == nil {
		return nil, errors.New("scheduler: invoker is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:   log,
		bus:   eventbus.Nop{},
		store: store,
		inv:   inv,
		now:   time.Now,
		parse: cronexpr.Parse,
		cfg:   cfg.withDefaults(),
		wake:  make(chan struct{}, 1),
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	s.loc = s.loadLocationLocked()
	return s, nil
}

// Start reads the persisted schedule and starts the poller. An unreadable or
// invalid persisted schedule is logged and treated as absent.
func (s *Service) Start(ctx context.Context) error {
	s.setMu.Lock()
	defer s.setMu.Unlock()

	s.mu.RLock()
	running := s.stopCh != nil
	s.mu.RUnlock()
	if running {
		return nil
	}

	raw, err := s.store.Load(ctx)
	if err != nil {
		s.log.Warn("schedule load failed; starting without a schedule", logx.Err(err))
		raw = ""
	}
	raw = strings.TrimSpace(raw)

	s.mu.Lock()
	s.raw, s.expr, s.next = "", nil, time.Time{}
	if raw != "" {
		expr, perr := s.parse(raw, s.loc)
		if perr != nil {
			s.log.Warn("persisted schedule is invalid; ignoring it", logx.String("expr", raw), logx.Err(perr))
		} else {
			s.raw, s.expr = raw, expr
			s.next = expr.Next(s.now())
		}
	}
	s.runCtx = context.WithoutCancel(ctx)
	s.stopCh = make(chan struct{})
	s.pollDone = make(chan struct{})
	stopCh, done := s.stopCh, s.pollDone
	expr, next, interval := s.raw, s.next, s.cfg.PollInterval
	tz := s.loc.String()
	s.mu.Unlock()

	go s.pollLoop(stopCh, done)

	s.log.Info("scheduler started",
		logx.String("expr", expr),
		logx.String("next", describe(next, s.locSnapshot())),
		logx.Duration("poll_interval", interval),
		logx.String("tz", tz),
	)
	return nil
}

// Stop interrupts the poller, waits for any in-flight synchronization to
// finish, and then writes the current schedule one last time. The returned
// error is the error of that final write.
func (s *Service) Stop(ctx context.Context) error {
	s.setMu.Lock()
	defer s.setMu.Unlock()

	start := time.Now()
	s.mu.Lock()
	stopCh, done := s.stopCh, s.pollDone
	s.stopCh, s.pollDone = nil, nil
	s.mu.Unlock()
	if stopCh == nil {
		return nil
	}
	s.log.Info("stop requested")

	close(stopCh)
	<-done
	if s.guard.Running() {
		s.log.Info("waiting for in-flight synchronization")
	}
	s.manual.Wait()

	raw := s.GetScheduleText()
	if err := s.store.Save(ctx, raw); err != nil {
		s.log.Error("final schedule persist failed", logx.String("expr", raw), logx.Err(err))
		return err
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
	return nil
}

// Apply updates poll interval and timezone at runtime. A timezone change
// re-evaluates the current schedule in the new zone.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()

	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	if strings.TrimSpace(old.Timezone) != strings.TrimSpace(cfg.Timezone) {
		s.loc = s.loadLocationLocked()
		if s.raw != "" {
			expr, err := s.parse(s.raw, s.loc)
			if err != nil {
				// The stored text stays as is; only the next run goes absent.
				s.log.Warn("schedule invalid in new timezone; no run scheduled", logx.String("expr", s.raw), logx.Err(err))
				s.expr = nil
			} else {
				s.expr = expr
			}
		}
		s.next = s.nextLocked(s.now())
		s.log.Info("timezone changed", logx.String("tz", s.loc.String()), logx.String("next", describe(s.next, s.loc)))
	}
	s.mu.Unlock()

	if old.PollInterval != cfg.PollInterval {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	if old.HistorySize != cfg.HistorySize {
		s.hmu.Lock()
		s.trimHistoryLocked(cfg.HistorySize)
		s.hmu.Unlock()
	}
}

// Call with s.mu held.
func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Call with s.mu held.
func (s *Service) nextLocked(now time.Time) time.Time {
	if s.expr == nil {
		return time.Time{}
	}
	return s.expr.Next(now)
}

func (s *Service) locSnapshot() *time.Location {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loc
}

func (s *Service) publish(typ string, data any) {
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: data})
}

func describe(next time.Time, loc *time.Location) string {
	if next.IsZero() {
		return NoneDescription
	}
	if loc == nil {
		loc = time.Local
	}
	return next.In(loc).Format(DescriptionLayout)
}
