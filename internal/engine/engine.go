package engine

import (
	"sync"
	"time"

	"codeberg.org/mutker/fogctl/internal/alert"
	"codeberg.org/mutker/fogctl/internal/control"
	"codeberg.org/mutker/fogctl/internal/environment"
	"codeberg.org/mutker/fogctl/internal/errors"
	"codeberg.org/mutker/fogctl/internal/fan"
	"codeberg.org/mutker/fogctl/internal/logger"
	"codeberg.org/mutker/fogctl/internal/metrics"
	"codeberg.org/mutker/fogctl/internal/mode"
	"codeberg.org/mutker/fogctl/internal/store"
	"codeberg.org/mutker/fogctl/internal/telemetry"
	"codeberg.org/mutker/fogctl/internal/trend"
	"k8s.io/utils/clock"
)

// Engine owns all mutable control state. Every mutation runs under one
// exclusive lock; readers take copies under the shared lock.
type Engine struct {
	mu sync.RWMutex

	clock   clock.PassiveClock
	log     logger.Logger
	store   store.Store
	notify  alert.Notifier
	metrics *metrics.Recorder

	validator  *telemetry.Validator
	devices    *telemetry.Registry
	fans       *fan.Table
	controller *control.Controller
	arbiter    *mode.Arbiter
	trends     *trend.Accumulator
	evaluator  *alert.Evaluator
	profiles   *environment.Registry
	actuators  *environment.Controller

	gpus        map[int]GPUStatus
	environment *telemetry.EnvironmentalReading
	roomTemp    *float64
	gpuAlerts   map[string][]alert.Alert
	envAlerts   []alert.Alert
	trendAlerts []alert.Alert
	active      map[string]alert.Severity
	pending     map[string][]FanCommand
	actions     []Action
	actionLimit int
	lastCycle   time.Time
}

type Option func(*Engine)

func WithClock(clk clock.PassiveClock) Option {
	return func(e *Engine) {
		if clk != nil {
			e.clock = clk
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithStore(s store.Store) Option {
	return func(e *Engine) {
		if s != nil {
			e.store = s
		}
	}
}

func WithNotifier(n alert.Notifier) Option {
	return func(e *Engine) {
		e.notify = n
	}
}

func WithMetrics(r *metrics.Recorder) Option {
	return func(e *Engine) {
		e.metrics = r
	}
}

// WithProfiles replaces the profile registry built from the environment
// configuration.
func WithProfiles(r *environment.Registry) Option {
	return func(e *Engine) {
		if r != nil {
			e.profiles = r
		}
	}
}

func New(cfg Config, opts ...Option) (*Engine, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	e := &Engine{
		clock:       clock.RealClock{},
		log:         logger.Nop(),
		store:       store.NewNoop(),
		gpus:        make(map[int]GPUStatus),
		gpuAlerts:   make(map[string][]alert.Alert),
		active:      make(map[string]alert.Severity),
		pending:     make(map[string][]FanCommand),
		actionLimit: cfg.ActionLogSize,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.profiles == nil {
		profiles, err := environment.NewRegistryFromConfig(cfg.Environment)
		if err != nil {
			return nil, err
		}
		e.profiles = profiles
	}

	now := e.clock.Now()
	e.validator = telemetry.NewValidator(cfg.Telemetry)
	e.devices = telemetry.NewRegistry(cfg.Telemetry, e.clock)
	e.fans = fan.NewTable(cfg.Fan, now)
	e.controller = control.New(cfg.Control)
	e.arbiter = mode.New(e.clock, cfg.Control.ManualFallback)
	e.trends = trend.New(cfg.Trend, e.clock)
	e.evaluator = alert.NewEvaluator(cfg.Alert)
	e.actuators = environment.NewController(cfg.Environment)

	for _, st := range e.fans.Snapshot() {
		e.metrics.Fan(st.ID, st.CurrentPWM, st.CurrentRPM)
	}
	e.metrics.Mode(false)

	return e, nil
}
