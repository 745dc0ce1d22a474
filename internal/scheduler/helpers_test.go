package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"timesync/internal/action"
	"timesync/internal/storage"
	logx "timesync/pkg/logx"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type memStore struct {
	mu      sync.Mutex
	raw     string
	saves   int
	loadErr error
	saveErr error
}

func (m *memStore) Load(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.raw, m.loadErr
}

func (m *memStore) Save(_ context.Context, raw string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.raw = raw
	return nil
}

func (m *memStore) AppendRun(context.Context, storage.RunRecord) error { return nil }

func (m *memStore) RecentRuns(context.Context, int) ([]storage.RunRecord, error) { return nil, nil }

func (m *memStore) Close() error { return nil }

func (m *memStore) state() (string, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.raw, m.saves
}

type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// count returns how many entries have the given level and message.
func (b *logBuffer) count(level, msg string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, line := range strings.Split(b.buf.String(), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			continue
		}
		if m["level"] == level && m["message"] == msg {
			n++
		}
	}
	return n
}

// blockingAction blocks every invocation until release is closed.
type blockingAction struct {
	started chan struct{}
	release chan struct{}

	mu      sync.Mutex
	active  int
	maxSeen int
	total   int
}

func newBlockingAction() *blockingAction {
	return &blockingAction{started: make(chan struct{}, 16), release: make(chan struct{})}
}

func (b *blockingAction) Invoke(ctx context.Context) error {
	b.mu.Lock()
	b.active++
	b.total++
	if b.active > b.maxSeen {
		b.maxSeen = b.active
	}
	b.mu.Unlock()
	b.started <- struct{}{}
	<-b.release
	b.mu.Lock()
	b.active--
	b.mu.Unlock()
	return ctx.Err()
}

func (b *blockingAction) stats() (total, maxSeen int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total, b.maxSeen
}

type countingAction struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingAction) Invoke(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.err
}

func (c *countingAction) n() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newTestService(t *testing.T, st storage.Store, inv action.Invoker, clk *fakeClock, log logx.Logger) *Service {
	t.Helper()
	if log.IsZero() {
		log = logx.Nop()
	}
	s, err := New(Config{PollInterval: time.Hour, Timezone: "UTC"}, st, inv, log, WithClock(clk.Now))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

var errSync = errors.New("unit restart failed")
