package logx

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/rs/zerolog"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level   string
	Console bool
	// Journal sends entries to journald when its socket is reachable.
	Journal bool
	File    FileConfig
}

// FileConfig controls the rotated JSON file sink.
type FileConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 7
	DefaultFilePath   = "./timesyncd.log"
)

// Service owns the sinks and swaps them on Apply.
type Service struct {
	mu   sync.Mutex
	cfg  Config
	file *lj.Logger

	root atomic.Pointer[zerolog.Logger]

	stdout io.Writer
}

// New applies cfg and returns the service plus a live root logger.
func New(cfg Config) (*Service, Logger) {
	setGlobals()
	s := &Service{stdout: os.Stdout}
	s.Apply(cfg)
	return s, Logger{src: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// Config returns the last applied config.
func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Apply rebuilds the sinks. The rotated file is kept open when its settings
// did not change.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var writers []io.Writer
	if cfg.Journal && journal.Enabled() {
		writers = append(writers, newJournalWriter())
	}
	if cfg.File.Enabled {
		fc := s.fileSink(cfg.File)
		writers = append(writers, zerolog.SyncWriter(fc))
	} else if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	// Never go silent: console is the fallback sink.
	if cfg.Console || len(writers) == 0 {
		writers = append(writers, s.consoleWriter())
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
	s.cfg = cfg
}

func (s *Service) fileSink(fc FileConfig) *lj.Logger {
	path := strings.TrimSpace(fc.Path)
	if path == "" {
		path = DefaultFilePath
	}
	want := lj.Logger{
		Filename:   path,
		MaxSize:    orDefault(fc.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: orDefault(fc.MaxBackups, DefaultMaxBackups),
		MaxAge:     orDefault(fc.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   fc.Compress,
	}
	if cur := s.file; cur != nil {
		if cur.Filename == want.Filename && cur.MaxSize == want.MaxSize && cur.MaxBackups == want.MaxBackups &&
			cur.MaxAge == want.MaxAge && cur.Compress == want.Compress {
			return cur
		}
		_ = cur.Close()
	}
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	s.file = &want
	return s.file
}

func (s *Service) consoleWriter() io.Writer {
	cw := zerolog.ConsoleWriter{Out: s.stdout, TimeFormat: timeFormat}
	cw.FormatCaller = func(i any) string {
		c, _ := i.(string)
		return c
	}
	// journald stamps stdout lines itself
	if ok, _ := journal.StdoutIsJournalStream(); ok {
		cw.NoColor = true
		cw.PartsExclude = []string{zerolog.TimestampFieldName}
	}
	return cw
}

// Close closes the file sink. lumberjack reopens it on a later write.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
