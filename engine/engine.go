// Package engine wires configured sensors to the state store and drives
// their lifecycle: build at Initialize, subscribe and run the initial
// recompute pass once the host signals startup, tear down at Stop.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"

	"github.com/c360/sensorkit/component"
	"github.com/c360/sensorkit/config"
	"github.com/c360/sensorkit/errors"
	"github.com/c360/sensorkit/expression"
	"github.com/c360/sensorkit/metric"
	"github.com/c360/sensorkit/natsclient"
	"github.com/c360/sensorkit/sensor"
	"github.com/c360/sensorkit/statestore"
)

// ControlSubject receives forced-recompute requests over NATS. The message
// payload names one sensor; an empty payload recomputes all of them.
const ControlSubject = "sensors.control.recompute"

// Engine owns all sensors and their store subscriptions
type Engine struct {
	cfg      *config.Config
	store    statestore.Store
	pub      sensor.Publisher
	client   *natsclient.Client // optional, enables the control subject
	registry *metric.MetricsRegistry
	clock    clockwork.Clock
	logger   *slog.Logger

	mu         sync.Mutex
	state      component.State
	sensors    map[string]*sensor.Sensor
	subs       []statestore.Subscription
	controlSub *nats.Subscription

	startOnce sync.Once
	started   chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures optional Engine collaborators
type Option func(*Engine)

// WithClock injects the clock shared by all sensor debounce timers
func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithLogger injects the engine's logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetricsRegistry enables sensor metrics; nil leaves them disabled
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(e *Engine) { e.registry = registry }
}

// WithControlClient enables the NATS forced-recompute control subject
func WithControlClient(client *natsclient.Client) Option {
	return func(e *Engine) { e.client = client }
}

// NewEngine creates an engine over a loaded config, a state store and a
// snapshot publisher
func NewEngine(cfg *config.Config, store statestore.Store, pub sensor.Publisher, opts ...Option) *Engine {
	e := &Engine{
		cfg:     cfg,
		store:   store,
		pub:     pub,
		clock:   clockwork.NewRealClock(),
		logger:  slog.Default().With("component", "engine"),
		state:   component.StateCreated,
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Initialize compiles every configured sensor. No subscriptions are
// installed and nothing is evaluated yet.
func (e *Engine) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != component.StateCreated {
		return errors.WrapInvalid(errors.ErrAlreadyStarted,
			"Engine", "Initialize", fmt.Sprintf("initialize in state %s", e.state))
	}

	if len(e.cfg.Sensors) == 0 {
		e.state = component.StateFailed
		return errors.WrapInvalid(errors.ErrNoSensors,
			"Engine", "Initialize", "build sensors")
	}

	exprEngine := expression.NewEngine()
	metrics := sensor.NewMetrics(e.registry)

	sensors := make(map[string]*sensor.Sensor, len(e.cfg.Sensors))
	for name, sensorCfg := range e.cfg.Sensors {
		def, err := buildDefinition(name, sensorCfg, exprEngine)
		if err != nil {
			e.state = component.StateFailed
			return err
		}

		s, err := sensor.New(def, e.store, e.pub,
			sensor.WithClock(e.clock),
			sensor.WithMetrics(metrics),
			sensor.WithLogger(e.logger.With("sensor", name)),
		)
		if err != nil {
			e.state = component.StateFailed
			return err
		}
		sensors[name] = s
	}

	e.sensors = sensors
	e.state = component.StateInitialized
	e.logger.Info("Sensors initialized", "count", len(sensors))
	return nil
}

// Start launches the engine. Subscriptions and the initial recompute pass
// are deferred until NotifySystemStarted to avoid evaluating against a
// store that has not populated its initial values.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != component.StateInitialized {
		return errors.WrapInvalid(errors.ErrNotStarted,
			"Engine", "Start", fmt.Sprintf("start in state %s", e.state))
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.state = component.StateStarted

	go e.run(runCtx)
	return nil
}

// NotifySystemStarted opens the one-shot startup gate. Safe to call more
// than once; only the first call has any effect.
func (e *Engine) NotifySystemStarted() {
	e.startOnce.Do(func() {
		close(e.started)
	})
}

// run waits for the startup gate, then wires subscriptions and performs the
// initial recompute pass
func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	select {
	case <-ctx.Done():
		return
	case <-e.started:
	}

	e.mu.Lock()
	for name, s := range e.sensors {
		refs := s.Dependencies()
		if refs.Unbounded {
			// No reactive updates; forced recomputation only.
			continue
		}
		if len(refs.Keys) == 0 {
			continue
		}

		target := s
		sub, err := e.store.Subscribe(ctx, refs.Keys, func(_ statestore.Change) {
			target.Recheck(ctx)
		})
		if err != nil {
			e.logger.Error("Dependency subscription failed",
				"sensor", name, "error", err)
			continue
		}
		e.subs = append(e.subs, sub)
	}

	if e.client != nil {
		sub, err := e.client.Subscribe(ControlSubject, func(msg *nats.Msg) {
			name := string(msg.Data)
			if err := e.ForceRecompute(ctx, name); err != nil {
				e.logger.Warn("Forced recompute rejected",
					"sensor", name, "error", err)
			}
		})
		if err != nil {
			e.logger.Error("Control subscription failed", "error", err)
		} else {
			e.controlSub = sub
		}
	}
	e.mu.Unlock()

	// Initial pass runs for every sensor regardless of dependency mode.
	for _, s := range e.sensors {
		s.Recheck(ctx)
	}

	e.logger.Info("Engine running", "sensors", len(e.sensors))
	<-ctx.Done()
}

// ForceRecompute runs one recompute-then-debounce cycle on demand. An empty
// name recomputes every sensor.
func (e *Engine) ForceRecompute(ctx context.Context, name string) error {
	e.mu.Lock()
	if e.state != component.StateStarted {
		e.mu.Unlock()
		return errors.WrapInvalid(errors.ErrNotStarted,
			"Engine", "ForceRecompute", "engine not started")
	}

	var targets []*sensor.Sensor
	if name == "" {
		targets = make([]*sensor.Sensor, 0, len(e.sensors))
		for _, s := range e.sensors {
			targets = append(targets, s)
		}
	} else {
		s, ok := e.sensors[name]
		if !ok {
			e.mu.Unlock()
			return errors.WrapInvalid(errors.ErrInvalidConfig,
				"Engine", "ForceRecompute", fmt.Sprintf("unknown sensor %q", name))
		}
		targets = []*sensor.Sensor{s}
	}
	e.mu.Unlock()

	for _, s := range targets {
		s.Recheck(ctx)
	}
	return nil
}

// Snapshot returns the current committed state of one sensor
func (e *Engine) Snapshot(name string) (sensor.Snapshot, error) {
	e.mu.Lock()
	s, ok := e.sensors[name]
	e.mu.Unlock()

	if !ok {
		return sensor.Snapshot{}, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Engine", "Snapshot", fmt.Sprintf("unknown sensor %q", name))
	}
	return s.Snapshot(), nil
}

// Stop tears down subscriptions and waits for the run loop to exit
func (e *Engine) Stop(timeout time.Duration) error {
	e.mu.Lock()
	if e.state != component.StateStarted {
		e.mu.Unlock()
		return nil
	}
	e.state = component.StateStopped

	for _, sub := range e.subs {
		if err := sub.Unsubscribe(); err != nil {
			e.logger.Warn("Unsubscribe failed during shutdown", "error", err)
		}
	}
	e.subs = nil

	if e.controlSub != nil {
		if err := e.controlSub.Unsubscribe(); err != nil {
			e.logger.Warn("Control unsubscribe failed during shutdown", "error", err)
		}
		e.controlSub = nil
	}

	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	select {
	case <-e.done:
		return nil
	case <-time.After(timeout):
		return errors.WrapHard(errors.ErrShuttingDown,
			"Engine", "Stop", "wait for run loop")
	}
}

// Health reports the engine's current state
func (e *Engine) Health() component.Health {
	e.mu.Lock()
	defer e.mu.Unlock()

	return component.Health{
		Name:    "engine",
		State:   e.state,
		Status:  e.state.String(),
		Healthy: e.state == component.StateStarted,
		Details: map[string]any{
			"sensors":       len(e.sensors),
			"subscriptions": len(e.subs),
		},
	}
}

var _ component.LifecycleComponent = (*Engine)(nil)

// buildDefinition compiles one sensor config into a Definition
func buildDefinition(name string, cfg config.SensorConfig, exprEngine *expression.Engine) (*sensor.Definition, error) {
	def := &sensor.Definition{
		Name:                 name,
		FriendlyName:         cfg.FriendlyName,
		DeviceClass:          cfg.DeviceClass,
		ExplicitDependencies: cfg.DependsOn,
		DelayOn:              cfg.DelayOnDuration(),
		DelayOff:             cfg.DelayOffDuration(),
	}
	if def.FriendlyName == "" {
		def.FriendlyName = name
	}

	compile := func(label, source string) (expression.Expr, error) {
		program, err := exprEngine.Compile(label, source)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Engine", "Initialize",
				fmt.Sprintf("compile %s expression for sensor %s", label, name))
		}
		return program, nil
	}

	var err error
	if def.Value, err = compile("value", cfg.Value); err != nil {
		return nil, err
	}
	if cfg.Icon != "" {
		if def.Icon, err = compile("icon", cfg.Icon); err != nil {
			return nil, err
		}
	}
	if cfg.Picture != "" {
		if def.Picture, err = compile("entity picture", cfg.Picture); err != nil {
			return nil, err
		}
	}
	if cfg.Availability != "" {
		if def.Availability, err = compile("availability", cfg.Availability); err != nil {
			return nil, err
		}
	}
	if len(cfg.Attributes) > 0 {
		def.Attributes = make(map[string]expression.Expr, len(cfg.Attributes))
		for attrName, source := range cfg.Attributes {
			if def.Attributes[attrName], err = compile(attrName, source); err != nil {
				return nil, err
			}
		}
	}

	return def, nil
}
