package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "timesync/pkg/logx"
)

func driverConfigs(t *testing.T) map[string]func() Config {
	dir := t.TempDir()
	return map[string]func() Config{
		"file":   func() Config { return Config{Driver: "file", Path: filepath.Join(dir, "file")} },
		"sqlite": func() Config { return Config{Driver: "sqlite", Path: filepath.Join(dir, "db", "timesync.db")} },
	}
}

func mustOpen(t *testing.T, cfg Config) Store {
	t.Helper()
	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", cfg.Driver, err)
	}
	return st
}

func TestScheduleRoundTripAcrossRestart(t *testing.T) {
	ctx := context.Background()
	for name, mk := range driverConfigs(t) {
		mk := mk
		t.Run(name, func(t *testing.T) {
			cfg := mk()
			st := mustOpen(t, cfg)
			got, err := st.Load(ctx)
			if err != nil || got != "" {
				t.Fatalf("fresh Load = %q, %v; want empty, nil", got, err)
			}
			if err := st.Save(ctx, "0 2 * * *"); err != nil {
				t.Fatalf("Save: %v", err)
			}
			if err := st.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			st = mustOpen(t, cfg)
			if got, err := st.Load(ctx); err != nil || got != "0 2 * * *" {
				t.Fatalf("Load after restart = %q, %v", got, err)
			}
			if err := st.Save(ctx, ""); err != nil {
				t.Fatalf("Save empty: %v", err)
			}
			_ = st.Close()

			st = mustOpen(t, cfg)
			defer st.Close()
			if got, err := st.Load(ctx); err != nil || got != "" {
				t.Fatalf("Load after empty save = %q, %v", got, err)
			}
		})
	}
}

func TestRecentRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	for name, mk := range driverConfigs(t) {
		mk := mk
		t.Run(name, func(t *testing.T) {
			st := mustOpen(t, mk())
			defer st.Close()
			base := time.Date(2026, 10, 14, 2, 0, 0, 0, time.UTC)
			for i := 0; i < 5; i++ {
				r := RunRecord{Started: base.Add(time.Duration(i) * time.Hour), TookMS: int64(i), Source: "schedule", OK: i%2 == 0}
				if !r.OK {
					r.Error = "boom"
				}
				if err := st.AppendRun(ctx, r); err != nil {
					t.Fatalf("AppendRun: %v", err)
				}
			}
			runs, err := st.RecentRuns(ctx, 3)
			if err != nil {
				t.Fatalf("RecentRuns: %v", err)
			}
			if len(runs) != 3 {
				t.Fatalf("len = %d, want 3", len(runs))
			}
			if runs[0].TookMS != 4 || runs[2].TookMS != 2 {
				t.Fatalf("unexpected order: %+v", runs)
			}
			if runs[1].OK || runs[1].Error != "boom" {
				t.Fatalf("failed run not preserved: %+v", runs[1])
			}
			if !runs[0].Started.Equal(base.Add(4 * time.Hour)) {
				t.Fatalf("started = %v", runs[0].Started)
			}
		})
	}
}

func TestFileSaveLeavesNoTempAndIsPrivate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	st := mustOpen(t, Config{Driver: "file", Path: dir})
	defer st.Close()
	if err := st.Save(context.Background(), "*/5 * * * *"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "schedule.tmp")); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
	fi, err := os.Stat(filepath.Join(dir, "schedule"))
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %v, want 0600", fi.Mode().Perm())
	}
	b, _ := os.ReadFile(filepath.Join(dir, "schedule"))
	if string(b) != "*/5 * * * *" {
		t.Fatalf("payload = %q", b)
	}
}

func TestFileStaleTempIgnored(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "schedule"), []byte("0 2 * * *"), 0o600); err != nil {
		t.Fatal(err)
	}
	// Simulates a crash after the temp write but before the rename.
	if err := os.WriteFile(filepath.Join(dir, "schedule.tmp"), []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	st := mustOpen(t, Config{Driver: "file", Path: dir})
	defer st.Close()
	if got, err := st.Load(context.Background()); err != nil || got != "0 2 * * *" {
		t.Fatalf("Load = %q, %v", got, err)
	}
}

func TestFileSaveAfterClose(t *testing.T) {
	st := mustOpen(t, Config{Driver: "file", Path: t.TempDir()})
	_ = st.Close()
	if err := st.Save(context.Background(), "x"); err != ErrClosed {
		t.Fatalf("Save after close = %v, want ErrClosed", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "etcd", Path: t.TempDir()}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing path")
	}
}
