package sensor

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/c360/sensorkit/errors"
	"github.com/c360/sensorkit/expression"
	"github.com/c360/sensorkit/statestore"
)

// Sensor is one derived boolean sensor instance. All recompute and commit
// decisions are serialized by the sensor's mutex, so concurrent change
// notifications, timer fires and forced recomputes never interleave.
type Sensor struct {
	def    *Definition
	deps   expression.References
	store  statestore.Store
	pub    Publisher
	clock  clockwork.Clock
	logger *slog.Logger
	m      *Metrics

	mu            sync.Mutex
	committed     State
	attributes    map[string]string
	icon          string
	picture       string
	available     bool
	pending       clockwork.Timer
	pendingTarget State
	generation    uint64
}

// Option configures optional Sensor collaborators
type Option func(*Sensor)

// WithClock injects the clock used for debounce timers
func WithClock(clock clockwork.Clock) Option {
	return func(s *Sensor) { s.clock = clock }
}

// WithLogger injects the sensor's logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sensor) { s.logger = logger }
}

// WithMetrics injects the shared sensor metrics; nil disables recording
func WithMetrics(m *Metrics) Option {
	return func(s *Sensor) { s.m = m }
}

// New builds a sensor from a validated definition. Dependency resolution
// happens here, once; it is never repeated for the lifetime of the sensor.
func New(def *Definition, store statestore.Store, pub Publisher, opts ...Option) (*Sensor, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	s := &Sensor{
		def:       def,
		store:     store,
		pub:       pub,
		clock:     clockwork.NewRealClock(),
		logger:    slog.Default().With("component", "sensor", "sensor", def.Name),
		available: true,
		committed: StateUnknown,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.deps = ResolveDependencies(def, s.logger)
	return s, nil
}

// Name returns the sensor's identifier
func (s *Sensor) Name() string {
	return s.def.Name
}

// Dependencies returns the resolved subscription key set
func (s *Sensor) Dependencies() expression.References {
	return s.deps
}

// Snapshot returns a copy of the current committed state
func (s *Sensor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Recheck runs one recompute-then-debounce cycle. This is the single entry
// point for change notifications, the startup pass and forced recomputation.
func (s *Sensor) Recheck(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidate := s.render(ctx)
	s.applyCandidate(ctx, candidate)
}

// render evaluates every expression against current state and returns the
// candidate value. Mutates attributes, icon, picture and available as side
// effects. Callers hold s.mu.
func (s *Sensor) render(ctx context.Context) State {
	scope := &storeScope{ctx: ctx, store: s.store, logger: s.logger}
	if s.m != nil {
		s.m.recomputes.WithLabelValues(s.def.Name).Inc()
	}

	// Value first. A failure here never aborts the rest of the pass.
	candidate := StateUnknown
	result, err := s.def.Value.Evaluate(ctx, scope)
	if err != nil {
		s.logEvalError("value", err)
	} else {
		candidate = stateFor(strings.EqualFold(result, "true"))
	}

	// Attributes evaluate independently; a failed entry is omitted and the
	// map is replaced wholesale with whatever succeeded this pass.
	if len(s.def.Attributes) > 0 {
		next := make(map[string]string, len(s.def.Attributes))
		for name, attrExpr := range s.def.Attributes {
			rendered, err := attrExpr.Evaluate(ctx, scope)
			if err != nil {
				s.logger.Error("Attribute evaluation failed",
					"attribute", name, "error", err)
				if s.m != nil {
					s.m.evalErrors.WithLabelValues(s.def.Name, name, errors.Classify(err).String()).Inc()
				}
				continue
			}
			next[name] = rendered
		}
		s.attributes = next
	}

	// Icon, picture and availability form an ordered chain: the first
	// failure stops the chain and later fields keep their prior values.
	chain := []struct {
		label  string
		expr   expression.Expr
		assign func(string)
	}{
		{"icon", s.def.Icon, func(v string) { s.icon = v }},
		{"entity picture", s.def.Picture, func(v string) { s.picture = v }},
		{"availability", s.def.Availability, func(v string) { s.available = strings.EqualFold(v, "true") }},
	}
	for _, step := range chain {
		if step.expr == nil {
			continue
		}
		rendered, err := step.expr.Evaluate(ctx, scope)
		if err != nil {
			s.logEvalError(step.label, err)
			break
		}
		step.assign(rendered)
	}

	return candidate
}

// applyCandidate runs the debounce decision for one candidate value.
// Callers hold s.mu.
func (s *Sensor) applyCandidate(ctx context.Context, candidate State) {
	if candidate == StateUnknown {
		// Indeterminate pass: prior committed state and any pending
		// timer are preserved untouched.
		return
	}

	if candidate == s.committed {
		// Back at the committed value. A pending flip is abandoned;
		// committing the same value again would not publish anyway.
		s.cancelPending()
		return
	}

	delay := s.def.delayFor(candidate)
	if delay <= 0 {
		s.cancelPending()
		s.commit(ctx, candidate)
		return
	}

	s.schedule(candidate, delay)
}

// schedule (re)starts the single debounce timer, replacing any pending one
// even when the target is unchanged. Callers hold s.mu.
func (s *Sensor) schedule(target State, delay time.Duration) {
	s.cancelPending()

	s.generation++
	generation := s.generation
	s.pendingTarget = target
	s.pending = s.clock.AfterFunc(delay, func() {
		s.onTimerFire(generation, target)
	})
	if s.m != nil {
		s.m.pendingTimers.WithLabelValues(s.def.Name).Set(1)
	}

	s.logger.Debug("Debounce timer started",
		"target", target.String(), "delay", delay.String())
}

// cancelPending stops the outstanding timer if any. Bumping the generation
// invalidates a fire already racing for the lock. Callers hold s.mu.
func (s *Sensor) cancelPending() {
	if s.pending == nil {
		return
	}
	s.pending.Stop()
	s.pending = nil
	s.pendingTarget = StateUnknown
	s.generation++
	if s.m != nil {
		s.m.pendingTimers.WithLabelValues(s.def.Name).Set(0)
	}
}

// onTimerFire handles a debounce deadline: a guard re-render confirms the
// value still holds at fire time, otherwise the flip is abandoned with no
// rescheduling.
func (s *Sensor) onTimerFire(generation uint64, target State) {
	ctx := context.Background()

	s.mu.Lock()
	defer s.mu.Unlock()

	if generation != s.generation {
		return // superseded while waiting for the lock
	}
	s.pending = nil
	s.pendingTarget = StateUnknown
	if s.m != nil {
		s.m.pendingTimers.WithLabelValues(s.def.Name).Set(0)
	}

	candidate := s.render(ctx)
	if candidate != target {
		s.logger.Debug("Debounce guard failed, transition abandoned",
			"target", target.String(), "current", candidate.String())
		return
	}
	s.commit(ctx, target)
}

// commit makes a new value externally visible and publishes one atomic
// snapshot. Callers hold s.mu.
func (s *Sensor) commit(ctx context.Context, value State) {
	s.committed = value
	snapshot := s.snapshotLocked()

	if s.m != nil {
		s.m.commits.WithLabelValues(s.def.Name, value.String()).Inc()
		s.m.state.WithLabelValues(s.def.Name).Set(stateGaugeValue(value))
	}

	if s.pub != nil {
		if err := s.pub.Publish(ctx, snapshot); err != nil {
			s.logger.Error("Snapshot publish failed", "error", err)
		}
	}

	s.logger.Info("Sensor value committed", "value", value.String())
}

// snapshotLocked copies current state into a Snapshot. Callers hold s.mu.
func (s *Sensor) snapshotLocked() Snapshot {
	var attrs map[string]string
	if s.attributes != nil {
		attrs = make(map[string]string, len(s.attributes))
		for name, value := range s.attributes {
			attrs[name] = value
		}
	}

	return Snapshot{
		Name:         s.def.Name,
		Value:        s.committed,
		ValueLabel:   s.committed.String(),
		Attributes:   attrs,
		Icon:         s.icon,
		Picture:      s.picture,
		Available:    s.available,
		FriendlyName: s.def.FriendlyName,
		DeviceClass:  s.def.DeviceClass,
	}
}

// logEvalError applies the two-tier policy: undefined references are
// expected transiently during startup and log at warning, everything else
// logs at error.
func (s *Sensor) logEvalError(label string, err error) {
	if errors.IsSoft(err) {
		s.logger.Warn("Referenced value not yet defined",
			"expression", label, "error", err)
	} else {
		s.logger.Error("Expression evaluation failed",
			"expression", label, "error", err)
	}
	if s.m != nil {
		s.m.evalErrors.WithLabelValues(s.def.Name, label, errors.Classify(err).String()).Inc()
	}
}

// stateGaugeValue maps a State onto the exported gauge encoding
func stateGaugeValue(value State) float64 {
	switch value {
	case StateOn:
		return 1
	case StateOff:
		return 0
	default:
		return -1
	}
}

// storeScope adapts a statestore.Store to the expression Scope contract.
// Store errors degrade to a miss so evaluation surfaces them as undefined
// references rather than panicking mid-expression.
type storeScope struct {
	ctx    context.Context
	store  statestore.Store
	logger *slog.Logger
}

func (sc *storeScope) Lookup(key string) (any, bool) {
	value, ok, err := sc.store.Get(sc.ctx, key)
	if err != nil {
		sc.logger.Error("State store read failed", "key", key, "error", err)
		return nil, false
	}
	return value, ok
}

func (sc *storeScope) All() map[string]any {
	all, err := sc.store.All(sc.ctx)
	if err != nil {
		sc.logger.Error("State store snapshot failed", "error", err)
		return map[string]any{}
	}
	return all
}

var _ expression.Scope = (*storeScope)(nil)
