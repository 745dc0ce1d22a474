package scheduler

import (
	"context"
	"sync"
	"time"

	"timesync/internal/action"
	"timesync/internal/cronexpr"
	"timesync/internal/eventbus"
	"timesync/internal/storage"
	logx "timesync/pkg/logx"
)

const (
	DefaultPollInterval = 5 * time.Minute
	DefaultHistorySize  = 50

	// DescriptionLayout is the month/day/year 24h layout used by GetNextRunDescription.
	DescriptionLayout = "01/02/2006 15:04:05"
	// NoneDescription is reported when no next run is scheduled.
	NoneDescription = "None"
)

// Trigger sources.
const (
	SourceSchedule = "schedule"
	SourceManual   = "manual"
)

// Config controls the scheduler service.
type Config struct {
	PollInterval time.Duration
	Timezone     string // IANA TZ, e.g. "Europe/Berlin"; empty means local
	HistorySize  int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	return c
}

type State string

const (
	StateStopped    State = "stopped"
	StateIdle       State = "idle"
	StateDue        State = "due"
	StateTriggering State = "triggering"
)

type HistoryItem struct {
	Source   string        `json:"source"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

func (h HistoryItem) OK() bool { return h.Error == "" }

// RunEvent is the payload of sync.* events.
type RunEvent struct {
	Source   string
	Started  time.Time
	Duration time.Duration
	Error    string
}

// ScheduleEvent is the payload of schedule.* events.
type ScheduleEvent struct {
	Expr  string
	Next  time.Time
	Error string
}

type Snapshot struct {
	State        State         `json:"state"`
	Expr         string        `json:"expr"`
	Timezone     string        `json:"timezone"`
	PollInterval time.Duration `json:"poll_interval"`
	Next         time.Time     `json:"next,omitempty"`
	HasNext      bool          `json:"has_next"`
	Running      bool          `json:"running"`
	LastRun      *HistoryItem  `json:"last_run,omitempty"`
	History      []HistoryItem `json:"history,omitempty"`
}

type Option func(*Service)

// WithClock replaces time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithBus(b eventbus.Bus) Option {
	return func(s *Service) {
		if b != nil {
			s.bus = b
		}
	}
}

type Service struct {
	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store
	inv   action.Invoker
	now   func() time.Time
	parse func(raw string, loc *time.Location) (*cronexpr.Expression, error)

	// hookBeforeClaim runs between the due check and the guard CAS. Tests only.
	hookBeforeClaim func()

	// setMu serializes SetSchedule, Start and Stop so persistence order matches state order.
	setMu sync.Mutex

	mu       sync.RWMutex
	cfg      Config
	loc      *time.Location
	raw      string
	expr     *cronexpr.Expression
	next     time.Time
	runCtx   context.Context
	stopCh   chan struct{}
	pollDone chan struct{}
	wake     chan struct{}

	guard Guard
	// manual tracks TriggerNow goroutines so Stop can wait for them.
	manual sync.WaitGroup

	hmu     sync.Mutex
	history []HistoryItem
}
