package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"timesync/internal/scheduler"
	"timesync/internal/storage"
	logx "timesync/pkg/logx"
)

const (
	DefaultAddr              = "127.0.0.1:8099"
	DefaultTriggerRatePerMin = 6
)

// Scheduler is the subset of the scheduler the API drives.
type Scheduler interface {
	SetSchedule(raw string) bool
	GetScheduleText() string
	GetNextRunDescription() string
	TriggerNow() bool
	Upcoming(n int) []time.Time
	Snapshot() scheduler.Snapshot
}

// RunLister reads persisted run history.
type RunLister interface {
	RecentRuns(ctx context.Context, n int) ([]storage.RunRecord, error)
}

type Config struct {
	Addr              string
	TriggerRatePerMin int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	Pprof             bool
}

type Option func(*Server)

func WithRuns(r RunLister) Option { return func(s *Server) { s.runs = r } }

func WithMetrics(h http.Handler) Option { return func(s *Server) { s.metrics = h } }

type Server struct {
	cfg     Config
	log     logx.Logger
	sched   Scheduler
	runs    RunLister
	metrics http.Handler
	trigger *rate.Limiter

	mu sync.Mutex
	ln net.Listener
}

func New(cfg Config, sched Scheduler, log logx.Logger, opts ...Option) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.TriggerRatePerMin <= 0 {
		cfg.TriggerRatePerMin = DefaultTriggerRatePerMin
	}
	s := &Server{
		cfg:     cfg,
		log:     log,
		sched:   sched,
		trigger: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.TriggerRatePerMin)), 1),
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s
}

// Handler returns the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("POST /api/schedule", s.handleSetSchedule)
	mux.HandleFunc("POST /api/trigger", s.handleTrigger)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeText(w, http.StatusOK, "ok")
	})
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	if s.cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", hpprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	}
	return s.middleware(mux)
}

// Addr is the bound listener address, "" when not serving.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Serve listens on the configured address and serves until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.Addr)
	if !isLoopbackAddr(addr) {
		s.log.Warn("http api bound to a non-loopback address without authentication", logx.String("addr", addr))
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       time.Minute,
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.ln = nil
		s.mu.Unlock()
	}()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(cctx)
	}()

	s.log.Info("http api started", logx.String("addr", ln.Addr().String()), logx.Bool("pprof", s.cfg.Pprof))
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		<-stopped
		s.log.Info("http api stopped")
		return nil
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("http server exited unexpectedly")
	}
	return err
}

func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.log.Error("http handler panicked",
					logx.String("path", r.URL.Path),
					logx.Any("panic", rec),
					logx.Stack(logx.StackTrace(3, 32)),
				)
				writeText(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
