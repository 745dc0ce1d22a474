package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"timesync/internal/action"
	"timesync/internal/config"
	"timesync/internal/eventbus"
	"timesync/internal/metrics"
	rtsup "timesync/internal/runtime/supervisor"
	"timesync/internal/scheduler"
	"timesync/internal/storage"
	"timesync/internal/transport/httpapi"
	logx "timesync/pkg/logx"
)

type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	sched   *scheduler.Service
	metrics *metrics.Collector
	reg     *prometheus.Registry
	http    *httpapi.Server
}

// NewApp loads the config and builds every component without starting any.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a, err := build(cfg, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	a.cfgm = cfgm
	a.logs = logSvc
	a.log = appLog
	return a, nil
}

func build(cfg *config.Config, log logx.Logger) (*App, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	ac, err := mapActionConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	inv, err := action.New(ac, log.With(logx.String("comp", "action")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	bus := eventbus.New()
	sched, err := scheduler.New(schedCfg, store, inv, log.With(logx.String("comp", "scheduler")), scheduler.WithBus(bus))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mc := metrics.New(sched)
	if err := mc.Register(reg); err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &App{
		log:     log,
		bus:     bus,
		store:   store,
		sched:   sched,
		metrics: mc,
		reg:     reg,
	}
	if cfg.HTTP.Enabled {
		hc, err := mapHTTPConfig(cfg)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		a.http = httpapi.New(hc, sched, log.With(logx.String("comp", "http")),
			httpapi.WithRuns(store),
			httpapi.WithMetrics(metrics.Handler(reg)),
		)
	}
	return a, nil
}

func (a *App) Scheduler() *scheduler.Service { return a.sched }

// HTTPAddr is the bound API address, "" when disabled or not yet listening.
func (a *App) HTTPAddr() string {
	if a.http == nil {
		return ""
	}
	return a.http.Addr()
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// Subscribe before the scheduler starts so no event is missed.
	runs, unsubRuns := a.bus.Subscribe(64)
	mets, unsubMets := a.bus.Subscribe(64)
	status, unsubStatus := a.bus.Subscribe(8)

	if err := a.sched.Start(a.sup.Context()); err != nil {
		unsubRuns()
		unsubMets()
		unsubStatus()
		return err
	}

	rec := &runRecorder{store: a.store, log: a.log.With(logx.String("comp", "history"))}
	a.sup.Go("history.record", func(c context.Context) error {
		defer unsubRuns()
		return rec.Run(c, runs)
	})
	a.sup.Go("metrics.observe", func(c context.Context) error {
		defer unsubMets()
		return a.metrics.Run(c, mets)
	})
	a.sup.Go("systemd.status", func(c context.Context) error {
		defer unsubStatus()
		return a.statusLoop(c, status)
	})
	if a.http != nil {
		a.sup.GoRestart("http.serve", a.http.Serve, 500*time.Millisecond, 10*time.Second)
	}
	if a.cfgm != nil {
		sub := a.cfgm.Subscribe(4)
		a.sup.Go("config.reload", func(c context.Context) error {
			defer a.cfgm.Unsubscribe(sub)
			return a.reloadLoop(c, sub)
		})
		a.sup.GoRestart("config.watch", a.cfgm.Watch, time.Second, 30*time.Second)
	}

	a.sdNotify(daemon.SdNotifyReady)
	a.sdNotify(a.statusLine())
	a.log.Info("app started",
		logx.String("schedule", a.sched.GetScheduleText()),
		logx.String("next", a.sched.GetNextRunDescription()),
	)
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) error {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case newCfg, ok := <-sub:
			if !ok {
				return nil
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig applies the hot-reloadable sections: logging and scheduler.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config sections changed that only apply after restart", logx.String("sections", strings.Join(restart, ",")))
	}

	if a.logs != nil {
		a.logs.Apply(mapLogConfig(newCfg))
	}
	sc, err := mapSchedulerConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(sc)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}

// Stop drains the scheduler first so the final attempt is recorded, then
// stops the background goroutines and closes storage.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sdNotify(daemon.SdNotifyStopping)

	var errs []error
	step := func(name string, fn func() error) {
		start := time.Now()
		if err := fn(); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("scheduler", func() error { return a.sched.Stop(ctx) })
	step("supervisor", func() error {
		err := a.sup.Stop(ctx)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return err
		}
		// goroutine failures were logged when they happened
		return nil
	})
	step("storage", a.store.Close)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}
