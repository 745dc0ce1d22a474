package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"timesync/internal/eventbus"
	"timesync/internal/scheduler"
)

const namespace = "timesync"

// Source is the read side of the scheduler sampled at scrape time.
type Source interface {
	NextRun() (time.Time, bool)
	Snapshot() scheduler.Snapshot
}

// Collector turns scheduler events into Prometheus series.
type Collector struct {
	triggers        *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	scheduleUpdates *prometheus.CounterVec
	nextRun         prometheus.GaugeFunc
	running         prometheus.GaugeFunc
}

func New(src Source) *Collector {
	return &Collector{
		triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "triggers_total",
			Help:      "Synchronization attempts by source and result (ok, error, skipped).",
		}, []string{"source", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Time spent in the synchronization action.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"source"}),
		scheduleUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "schedule",
			Name:      "updates_total",
			Help:      "Schedule changes by result (accepted, rejected).",
		}, []string{"result"}),
		nextRun: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "schedule",
			Name:      "next_run_timestamp_seconds",
			Help:      "Unix time of the next scheduled synchronization, 0 when none.",
		}, func() float64 {
			next, ok := src.NextRun()
			if !ok {
				return 0
			}
			return float64(next.Unix())
		}),
		running: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "running",
			Help:      "1 while a synchronization is in flight.",
		}, func() float64 {
			if src.Snapshot().Running {
				return 1
			}
			return 0
		}),
	}
}

// Register registers all collectors. Already registered collectors are kept.
func (c *Collector) Register(r prometheus.Registerer) error {
	for _, col := range []prometheus.Collector{c.triggers, c.duration, c.scheduleUpdates, c.nextRun, c.running} {
		if err := r.Register(col); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Observe applies one event.
func (c *Collector) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.SyncFinished, eventbus.SyncFailed:
		ev, _ := e.Data.(scheduler.RunEvent)
		result := "ok"
		if e.Type == eventbus.SyncFailed {
			result = "error"
		}
		c.triggers.WithLabelValues(sourceLabel(ev.Source), result).Inc()
		c.duration.WithLabelValues(sourceLabel(ev.Source)).Observe(ev.Duration.Seconds())
	case eventbus.SyncSkipped:
		ev, _ := e.Data.(scheduler.RunEvent)
		c.triggers.WithLabelValues(sourceLabel(ev.Source), "skipped").Inc()
	case eventbus.ScheduleChanged:
		c.scheduleUpdates.WithLabelValues("accepted").Inc()
	case eventbus.ScheduleRejected:
		c.scheduleUpdates.WithLabelValues("rejected").Inc()
	}
}

// Run consumes events until ctx is done or ch is closed.
func (c *Collector) Run(ctx context.Context, ch <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			c.Observe(e)
		}
	}
}

// Handler serves g in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func sourceLabel(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
