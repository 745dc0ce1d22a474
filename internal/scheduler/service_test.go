package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"timesync/internal/cronexpr"
	logx "timesync/pkg/logx"
)

var day = time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)

func at(h, m, s int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second) }

func TestSetScheduleRejectsInvalidAndKeepsState(t *testing.T) {
	t.Parallel()
	clk := newClock(at(1, 59, 0))
	st := &memStore{}
	s := newTestService(t, st, &countingAction{}, clk, logx.Logger{})

	if !s.SetSchedule(" 0 2 * * * ") {
		t.Fatal("valid schedule rejected")
	}
	next, _ := s.NextRun()
	_, saves := st.state()

	for _, bad := range []string{"* * * *", "99 * * * *", "0 0 30 2 *", "every day"} {
		if s.SetSchedule(bad) {
			t.Fatalf("SetSchedule(%q) = true", bad)
		}
		if got := s.GetScheduleText(); got != "0 2 * * *" {
			t.Fatalf("text after %q = %q", bad, got)
		}
		if got, ok := s.NextRun(); !ok || !got.Equal(next) {
			t.Fatalf("next after %q = %v", bad, got)
		}
	}
	if _, n := st.state(); n != saves {
		t.Fatalf("rejected input was persisted: saves %d -> %d", saves, n)
	}
}

func TestSetScheduleIdempotent(t *testing.T) {
	t.Parallel()
	clk := newClock(at(1, 59, 0))
	st := &memStore{}
	s := newTestService(t, st, &countingAction{}, clk, logx.Logger{})

	if !s.SetSchedule("*/5 * * * *") {
		t.Fatal("first set failed")
	}
	first, _ := s.NextRun()
	clk.Set(at(1, 59, 30))
	if !s.SetSchedule("*/5 * * * *") {
		t.Fatal("second set failed")
	}
	second, _ := s.NextRun()
	if !first.Equal(second) {
		t.Fatalf("next changed: %v -> %v", first, second)
	}
	if _, n := st.state(); n != 1 {
		t.Fatalf("saves = %d, want 1", n)
	}
}

func TestSetScheduleBlankClears(t *testing.T) {
	t.Parallel()
	clk := newClock(at(1, 59, 0))
	st := &memStore{}
	s := newTestService(t, st, &countingAction{}, clk, logx.Logger{})

	s.SetSchedule("0 2 * * *")
	if !s.SetSchedule("   ") {
		t.Fatal("blank should be accepted")
	}
	if s.GetScheduleText() != "" {
		t.Fatalf("text = %q", s.GetScheduleText())
	}
	if _, ok := s.NextRun(); ok {
		t.Fatal("next should be absent")
	}
	if got := s.GetNextRunDescription(); got != NoneDescription {
		t.Fatalf("description = %q", got)
	}
	if raw, _ := st.state(); raw != "" {
		t.Fatalf("persisted = %q", raw)
	}
}

func TestDailyScheduleFiresOnceAndAdvances(t *testing.T) {
	t.Parallel()
	clk := newClock(at(1, 59, 0))
	inv := &countingAction{}
	s := newTestService(t, &memStore{}, inv, clk, logx.Logger{})

	s.SetSchedule("0 2 * * *")
	if got := s.GetNextRunDescription(); got != "10/14/2026 02:00:00" {
		t.Fatalf("description = %q", got)
	}
	if s.checkDue() {
		t.Fatal("fired before due")
	}

	clk.Set(at(2, 0, 30))
	if !s.checkDue() {
		t.Fatal("did not fire when due")
	}
	if s.checkDue() {
		t.Fatal("fired twice for one occurrence")
	}
	if inv.n() != 1 {
		t.Fatalf("calls = %d, want 1", inv.n())
	}
	next, _ := s.NextRun()
	if want := day.AddDate(0, 0, 1).Add(2 * time.Hour); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
	if last, ok := s.LastRun(); !ok || !last.OK() || last.Source != SourceSchedule {
		t.Fatalf("last run = %+v", last)
	}
}

func TestMissedTicksFireOnce(t *testing.T) {
	t.Parallel()
	clk := newClock(at(1, 59, 0))
	inv := &countingAction{}
	s := newTestService(t, &memStore{}, inv, clk, logx.Logger{})
	s.SetSchedule("*/5 * * * *")

	// Poller wakes long after several occurrences were missed.
	clk.Set(at(3, 1, 0))
	s.checkDue()
	s.checkDue()
	if inv.n() != 1 {
		t.Fatalf("calls = %d, want 1", inv.n())
	}
	if next, _ := s.NextRun(); !next.Equal(at(3, 5, 0)) {
		t.Fatalf("next = %v, want 03:05", next)
	}
}

func TestActionFailureReleasesGuardAndLogsOnce(t *testing.T) {
	t.Parallel()
	clk := newClock(at(1, 59, 0))
	logs := &logBuffer{}
	inv := &countingAction{err: errSync}
	s := newTestService(t, &memStore{}, inv, clk, logx.NewJSON(logs, "debug"))

	s.SetSchedule("0 2 * * *")
	clk.Set(at(2, 0, 30))
	if !s.checkDue() {
		t.Fatal("did not fire")
	}
	if s.guard.Running() {
		t.Fatal("guard still held after failure")
	}
	if n := logs.count("error", "time synchronization failed"); n != 1 {
		t.Fatalf("failure entries = %d, want 1", n)
	}
	next, _ := s.NextRun()
	if !next.Equal(day.AddDate(0, 0, 1).Add(2 * time.Hour)) {
		t.Fatalf("next not advanced after failure: %v", next)
	}
	last, _ := s.LastRun()
	if last.OK() || last.Error != errSync.Error() {
		t.Fatalf("last run = %+v", last)
	}
}

func TestActionPanicRecovered(t *testing.T) {
	t.Parallel()
	clk := newClock(at(1, 59, 0))
	logs := &logBuffer{}
	inv := funcAction(func(context.Context) error { panic("dbus went away") })
	s := newTestService(t, &memStore{}, inv, clk, logx.NewJSON(logs, "info"))

	s.SetSchedule("0 2 * * *")
	clk.Set(at(2, 0, 30))
	s.checkDue()
	if s.guard.Running() {
		t.Fatal("guard still held after panic")
	}
	if n := logs.count("error", "time synchronization failed"); n != 1 {
		t.Fatalf("failure entries = %d, want 1", n)
	}
	if _, ok := s.NextRun(); !ok {
		t.Fatal("next should be recomputed after panic")
	}
}

type funcAction func(context.Context) error

func (f funcAction) Invoke(ctx context.Context) error { return f(ctx) }

func TestTriggerNowMutualExclusion(t *testing.T) {
	t.Parallel()
	clk := newClock(at(1, 59, 0))
	inv := newBlockingAction()
	s := newTestService(t, &memStore{}, inv, clk, logx.Logger{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(context.Background())

	s.SetSchedule("0 2 * * *")
	if !s.TriggerNow() {
		t.Fatal("first trigger not launched")
	}
	<-inv.started
	if s.TriggerNow() {
		t.Fatal("second trigger launched while first in flight")
	}

	// A due tick during a run is skipped and leaves next untouched.
	clk.Set(at(2, 0, 30))
	before, _ := s.NextRun()
	if s.checkDue() {
		t.Fatal("scheduled tick fired while manual run in flight")
	}
	if after, _ := s.NextRun(); !after.Equal(before) {
		t.Fatalf("next advanced on skipped tick: %v -> %v", before, after)
	}
	if snap := s.Snapshot(); snap.State != StateTriggering || !snap.Running {
		t.Fatalf("snapshot = %+v", snap)
	}

	close(inv.release)
	waitFor(t, "guard release", func() bool { return !s.guard.Running() })
	if !s.TriggerNow() {
		t.Fatal("trigger after completion not launched")
	}
	waitFor(t, "second run", func() bool { total, _ := inv.stats(); return total == 2 })
	if _, maxSeen := inv.stats(); maxSeen != 1 {
		t.Fatalf("max concurrent = %d, want 1", maxSeen)
	}
}

func TestTriggerNowRequiresStart(t *testing.T) {
	t.Parallel()
	clk := newClock(at(1, 59, 0))
	inv := &countingAction{}
	s := newTestService(t, &memStore{}, inv, clk, logx.Logger{})
	if s.TriggerNow() {
		t.Fatal("trigger before Start should be refused")
	}
	_ = s.Start(context.Background())
	_ = s.Stop(context.Background())
	if s.TriggerNow() {
		t.Fatal("trigger after Stop should be refused")
	}
	if inv.n() != 0 {
		t.Fatalf("calls = %d", inv.n())
	}
}

func TestPersistFailureDoesNotRollBack(t *testing.T) {
	t.Parallel()
	clk := newClock(at(1, 59, 0))
	logs := &logBuffer{}
	st := &memStore{saveErr: errors.New("disk full")}
	s := newTestService(t, st, &countingAction{}, clk, logx.NewJSON(logs, "info"))

	if !s.SetSchedule("0 2 * * *") {
		t.Fatal("SetSchedule should succeed despite persist failure")
	}
	if s.GetScheduleText() != "0 2 * * *" {
		t.Fatalf("text = %q", s.GetScheduleText())
	}
	if _, ok := s.NextRun(); !ok {
		t.Fatal("next should be set")
	}
	if n := logs.count("error", "schedule persist failed; keeping it in memory"); n != 1 {
		t.Fatalf("persist failure entries = %d", n)
	}
}

func TestStartLoadsPersistedSchedule(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name     string
		store    *memStore
		wantText string
		wantNext bool
	}{
		{"valid", &memStore{raw: "0 2 * * *"}, "0 2 * * *", true},
		{"padded", &memStore{raw: "\n0 2 * * *\n"}, "0 2 * * *", true},
		{"empty", &memStore{}, "", false},
		{"invalid", &memStore{raw: "61 * * * *"}, "", false},
		{"unreadable", &memStore{raw: "0 2 * * *", loadErr: errors.New("permission denied")}, "", false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			clk := newClock(at(1, 59, 0))
			s := newTestService(t, tc.store, &countingAction{}, clk, logx.Logger{})
			if err := s.Start(context.Background()); err != nil {
				t.Fatalf("Start: %v", err)
			}
			defer s.Stop(context.Background())
			if got := s.GetScheduleText(); got != tc.wantText {
				t.Fatalf("text = %q, want %q", got, tc.wantText)
			}
			next, ok := s.NextRun()
			if ok != tc.wantNext {
				t.Fatalf("has next = %v, want %v", ok, tc.wantNext)
			}
			if ok && !next.Equal(at(2, 0, 0)) {
				t.Fatalf("next = %v", next)
			}
		})
	}
}

func TestStopWaitsForInFlightAndPersists(t *testing.T) {
	t.Parallel()
	clk := newClock(at(1, 59, 0))
	st := &memStore{}
	inv := newBlockingAction()
	s := newTestService(t, st, inv, clk, logx.Logger{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.SetSchedule("0 2 * * *")
	_, savesBefore := st.state()

	if !s.TriggerNow() {
		t.Fatal("trigger not launched")
	}
	<-inv.started

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop(context.Background()) }()
	select {
	case err := <-stopped:
		t.Fatalf("Stop returned before action finished: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(inv.release)
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("Stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	raw, saves := st.state()
	if raw != "0 2 * * *" || saves != savesBefore+1 {
		t.Fatalf("final persist: raw=%q saves=%d (before %d)", raw, saves, savesBefore)
	}
	if snap := s.Snapshot(); snap.State != StateStopped {
		t.Fatalf("state = %s", snap.State)
	}
}

func TestStopReturnsPersistError(t *testing.T) {
	t.Parallel()
	clk := newClock(at(1, 59, 0))
	st := &memStore{}
	s := newTestService(t, st, &countingAction{}, clk, logx.Logger{})
	_ = s.Start(context.Background())
	st.mu.Lock()
	st.saveErr = errors.New("read-only filesystem")
	st.mu.Unlock()
	if err := s.Stop(context.Background()); err == nil {
		t.Fatal("expected final persist error")
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop = %v, want nil", err)
	}
}

func TestStopInterruptsSleep(t *testing.T) {
	t.Parallel()
	clk := newClock(at(1, 59, 0))
	s := newTestService(t, &memStore{}, &countingAction{}, clk, logx.Logger{})
	_ = s.Start(context.Background())

	start := time.Now()
	if err := s.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("Stop waited for the poll interval")
	}
}

func TestPollerFiresWhenDue(t *testing.T) {
	t.Parallel()
	clk := newClock(at(1, 59, 0))
	inv := &countingAction{}
	s, err := New(Config{PollInterval: 10 * time.Millisecond, Timezone: "UTC"},
		&memStore{raw: "0 2 * * *"}, inv, logx.Nop(), WithClock(clk.Now))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(context.Background())

	time.Sleep(30 * time.Millisecond)
	if inv.n() != 0 {
		t.Fatal("fired before due")
	}
	clk.Set(at(2, 0, 30))
	waitFor(t, "scheduled run", func() bool { return inv.n() == 1 })
	time.Sleep(50 * time.Millisecond)
	if inv.n() != 1 {
		t.Fatalf("calls = %d, want 1", inv.n())
	}
}

func TestApplyTimezoneRecomputes(t *testing.T) {
	t.Parallel()
	clk := newClock(at(10, 0, 0))
	s := newTestService(t, &memStore{}, &countingAction{}, clk, logx.Logger{})
	s.SetSchedule("0 12 * * *")
	if got := s.GetNextRunDescription(); got != "10/14/2026 12:00:00" {
		t.Fatalf("UTC description = %q", got)
	}

	// 10:00 UTC is 19:00 in Tokyo, so the next noon there is tomorrow.
	s.Apply(Config{PollInterval: time.Hour, Timezone: "Asia/Tokyo"})
	if got := s.GetNextRunDescription(); got != "10/15/2026 12:00:00" {
		t.Fatalf("Tokyo description = %q", got)
	}
	next, _ := s.NextRun()
	if want := time.Date(2026, 10, 15, 3, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
	if s.Snapshot().Timezone != "Asia/Tokyo" {
		t.Fatalf("timezone = %s", s.Snapshot().Timezone)
	}
}

func TestSnapshotStates(t *testing.T) {
	t.Parallel()
	clk := newClock(at(1, 59, 0))
	s := newTestService(t, &memStore{}, &countingAction{}, clk, logx.Logger{})
	if st := s.Snapshot().State; st != StateStopped {
		t.Fatalf("before start = %s", st)
	}

	// Mark started without a poller so the due state is observable.
	s.mu.Lock()
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	if st := s.Snapshot().State; st != StateIdle {
		t.Fatalf("no schedule = %s", st)
	}
	s.SetSchedule("0 2 * * *")
	if st := s.Snapshot().State; st != StateIdle {
		t.Fatalf("before due = %s", st)
	}
	clk.Set(at(2, 0, 1))
	if st := s.Snapshot().State; st != StateDue {
		t.Fatalf("past due = %s", st)
	}
}

func TestHistoryBounded(t *testing.T) {
	t.Parallel()
	clk := newClock(at(1, 59, 0))
	s, _ := New(Config{HistorySize: 3, Timezone: "UTC"}, &memStore{}, &countingAction{}, logx.Nop(), WithClock(clk.Now))
	s.SetSchedule("* * * * *")
	for i := 0; i < 5; i++ {
		clk.Set(at(2, i, 30))
		s.checkDue()
	}
	snap := s.Snapshot()
	if len(snap.History) != 3 {
		t.Fatalf("history len = %d", len(snap.History))
	}
	if !snap.History[0].Started.Equal(at(2, 4, 30)) {
		t.Fatalf("newest = %v", snap.History[0].Started)
	}
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()
	clk := newClock(at(1, 59, 0))
	inv := &countingAction{}
	s := newTestService(t, &memStore{}, inv, clk, logx.Logger{})
	_ = s.Start(context.Background())

	exprs := []string{"*/5 * * * *", "0 2 * * *", "bogus", ""}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				switch (i + j) % 4 {
				case 0:
					s.SetSchedule(exprs[j%len(exprs)])
				case 1:
					_ = s.GetNextRunDescription()
				case 2:
					_ = s.Snapshot()
				case 3:
					s.TriggerNow()
				}
			}
		}()
	}
	wg.Wait()
	if err := s.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	switch s.GetScheduleText() {
	case "*/5 * * * *", "0 2 * * *", "":
	default:
		t.Fatalf("unexpected final text %q", s.GetScheduleText())
	}
	if s.guard.Running() {
		t.Fatal("guard held after Stop")
	}
}

func TestCheckDueSkipsWhenRunMovedNext(t *testing.T) {
	t.Parallel()
	clk := newClock(at(1, 59, 0))
	inv := &countingAction{}
	s := newTestService(t, &memStore{}, inv, clk, logx.Logger{})
	s.SetSchedule("0 2 * * *")
	clk.Set(at(2, 0, 30))

	// A manual run completes between the due check and the CAS.
	s.hookBeforeClaim = s.recompute
	if s.checkDue() {
		t.Fatal("fired on a stale due time")
	}
	if inv.n() != 0 {
		t.Fatalf("calls = %d, want 0", inv.n())
	}
	if s.guard.Running() {
		t.Fatal("guard left held")
	}
	next, _ := s.NextRun()
	if want := day.AddDate(0, 0, 1).Add(2 * time.Hour); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestPollerSurvivesPanic(t *testing.T) {
	t.Parallel()
	clk := newClock(at(1, 59, 0))
	logs := &logBuffer{}
	inv := &countingAction{}
	s, err := New(Config{PollInterval: 10 * time.Millisecond, Timezone: "UTC"},
		&memStore{raw: "0 2 * * *"}, inv, logx.NewJSON(logs, "info"), WithClock(clk.Now))
	if err != nil {
		t.Fatal(err)
	}
	var calls atomic.Int32
	s.hookBeforeClaim = func() {
		if calls.Add(1) == 1 {
			panic("bus exploded")
		}
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(context.Background())

	clk.Set(at(2, 0, 30))
	waitFor(t, "run after panic", func() bool { return inv.n() == 1 })
	if n := logs.count("error", "panic in scheduler poller"); n != 1 {
		t.Fatalf("panic entries = %d, want 1", n)
	}
}

func TestApplyReparseFailureKeepsText(t *testing.T) {
	t.Parallel()
	clk := newClock(at(10, 0, 0))
	st := &memStore{}
	s := newTestService(t, st, &countingAction{}, clk, logx.Logger{})
	s.SetSchedule("0 12 * * *")

	s.parse = func(string, *time.Location) (*cronexpr.Expression, error) {
		return nil, cronexpr.ErrInvalidFormat
	}
	s.Apply(Config{PollInterval: time.Hour, Timezone: "Asia/Tokyo"})
	if got := s.GetScheduleText(); got != "0 12 * * *" {
		t.Fatalf("text = %q, want it kept", got)
	}
	if _, ok := s.NextRun(); ok {
		t.Fatal("next should be absent after a failed re-parse")
	}
	if raw, _ := st.state(); raw != s.GetScheduleText() {
		t.Fatalf("stored %q disagrees with memory %q", raw, s.GetScheduleText())
	}

	// Re-setting the same text re-parses once the parser accepts it.
	s.parse = cronexpr.Parse
	if !s.SetSchedule("0 12 * * *") {
		t.Fatal("SetSchedule rejected")
	}
	if got := s.GetNextRunDescription(); got != "10/15/2026 12:00:00" {
		t.Fatalf("description = %q", got)
	}
}
