package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "timesync/pkg/logx"
)

const (
	scheduleFile = "schedule"
	runsFile     = "runs.jsonl"
)

// fileStore keeps its state in a private directory.
//
// Files:
//   - <dir>/schedule    (raw cron text, replaced atomically)
//   - <dir>/runs.jsonl  (append-only JSON Lines)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	dir          string
	schedulePath string
	runsPath     string
	runs         *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	runsPath := filepath.Join(dir, runsFile)
	rf, err := os.OpenFile(runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	// Leftover from a crash between write and rename; the real record is intact.
	_ = os.Remove(filepath.Join(dir, scheduleFile+".tmp"))

	return &fileStore{
		log:          log,
		dir:          dir,
		schedulePath: filepath.Join(dir, scheduleFile),
		runsPath:     runsPath,
		runs:         rf,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs == nil {
		return nil
	}
	err := s.runs.Close()
	s.runs = nil
	return err
}

func (s *fileStore) Load(ctx context.Context) (string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.schedulePath)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read schedule: %w", err)
	}
	return string(b), nil
}

func (s *fileStore) Save(ctx context.Context, raw string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs == nil {
		return ErrClosed
	}

	tmp := s.schedulePath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	if _, err := f.WriteString(raw); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("save schedule: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("save schedule: fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("save schedule: %w", err)
	}
	if err := os.Rename(tmp, s.schedulePath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("save schedule: rename: %w", err)
	}
	// Persist the rename itself. Not every platform supports fsync on a directory.
	if d, err := os.Open(s.dir); err == nil {
		if err := d.Sync(); err != nil {
			s.log.Debug("directory fsync failed", logx.String("dir", s.dir), logx.Err(err))
		}
		_ = d.Close()
	}
	return nil
}

func (s *fileStore) AppendRun(ctx context.Context, r RunRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.runs).Encode(r)
}

func (s *fileStore) RecentRuns(ctx context.Context, n int) ([]RunRecord, error) {
	_ = ctx
	if n <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.runsPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Keep a sliding window of the last n records.
	window := make([]RunRecord, 0, n)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r RunRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if len(window) == n {
			copy(window, window[1:])
			window = window[:n-1]
		}
		window = append(window, r)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	out := make([]RunRecord, 0, len(window))
	for i := len(window) - 1; i >= 0; i-- {
		out = append(out, window[i])
	}
	return out, nil
}
