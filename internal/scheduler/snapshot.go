package scheduler

func (s *Service) Snapshot() Snapshot {
	now := s.now()
	s.mu.RLock()
	snap := Snapshot{
		Expr:         s.raw,
		Timezone:     s.loc.String(),
		PollInterval: s.cfg.PollInterval,
		Next:         s.next,
		HasNext:      !s.next.IsZero(),
	}
	started := s.stopCh != nil
	s.mu.RUnlock()

	snap.Running = s.guard.Running()
	switch {
	case !started:
		snap.State = StateStopped
	case snap.Running:
		snap.State = StateTriggering
	case snap.HasNext && !now.Before(snap.Next):
		snap.State = StateDue
	default:
		snap.State = StateIdle
	}

	s.hmu.Lock()
	if n := len(s.history); n > 0 {
		last := s.history[n-1]
		snap.LastRun = &last
		snap.History = make([]HistoryItem, n)
		// newest first
		for i := range s.history {
			snap.History[i] = s.history[n-1-i]
		}
	}
	s.hmu.Unlock()
	return snap
}

func (s *Service) record(item HistoryItem) {
	s.mu.RLock()
	size := s.cfg.HistorySize
	s.mu.RUnlock()

	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, item)
	s.trimHistoryLocked(size)
}

// Call with s.hmu held.
func (s *Service) trimHistoryLocked(size int) {
	if size <= 0 {
		size = DefaultHistorySize
	}
	if len(s.history) > size {
		s.history = append([]HistoryItem(nil), s.history[len(s.history)-size:]...)
	}
}

// LastRun returns the most recent attempt, if any.
func (s *Service) LastRun() (HistoryItem, bool) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	if len(s.history) == 0 {
		return HistoryItem{}, false
	}
	return s.history[len(s.history)-1], true
}
