package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorkit/component"
	"github.com/c360/sensorkit/config"
	"github.com/c360/sensorkit/errors"
	"github.com/c360/sensorkit/sensor"
	"github.com/c360/sensorkit/statestore"
)

// capturePublisher records published snapshots per sensor
type capturePublisher struct {
	mu     sync.Mutex
	byName map[string][]sensor.Snapshot
}

func newCapturePublisher() *capturePublisher {
	return &capturePublisher{byName: make(map[string][]sensor.Snapshot)}
}

func (p *capturePublisher) Publish(_ context.Context, snapshot sensor.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byName[snapshot.Name] = append(p.byName[snapshot.Name], snapshot)
	return nil
}

func (p *capturePublisher) count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byName[name])
}

func (p *capturePublisher) last(name string) sensor.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	snapshots := p.byName[name]
	return snapshots[len(snapshots)-1]
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Store.Backend = config.StoreBackendMemory
	cfg.Sensors = map[string]config.SensorConfig{
		"door_open": {
			DeviceClass: "door",
			Value:       `state("sensor.door") == "open"`,
			Attributes: map[string]string{
				"battery": `state("sensor.door_battery")`,
			},
		},
		"any_active": {
			Value: `len(states) > 0`,
		},
	}
	return cfg
}

func startedEngine(t *testing.T, cfg *config.Config, store statestore.Store,
	pub sensor.Publisher) *Engine {
	t.Helper()

	e := NewEngine(cfg, store, pub, WithLogger(quietLogger()))
	require.NoError(t, e.Initialize())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, e.Start(ctx))
	t.Cleanup(func() { _ = e.Stop(time.Second) })

	return e
}

func TestEngine_InitializeRequiresSensors(t *testing.T) {
	cfg := testConfig()
	cfg.Sensors = nil

	e := NewEngine(cfg, statestore.NewMemoryStore(), newCapturePublisher(),
		WithLogger(quietLogger()))
	err := e.Initialize()
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestEngine_InitializeRejectsBadExpression(t *testing.T) {
	cfg := testConfig()
	cfg.Sensors["broken"] = config.SensorConfig{Value: `state("a" ==`}

	e := NewEngine(cfg, statestore.NewMemoryStore(), newCapturePublisher(),
		WithLogger(quietLogger()))
	err := e.Initialize()
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestEngine_NothingRunsBeforeSystemStarted(t *testing.T) {
	store := statestore.NewMemoryStore()
	store.Set("sensor.door", "open")
	pub := newCapturePublisher()

	startedEngine(t, testConfig(), store, pub)

	store.Set("sensor.door", "closed")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, pub.count("door_open"))
	assert.Equal(t, 0, pub.count("any_active"))
}

func TestEngine_InitialPassRunsAfterSystemStarted(t *testing.T) {
	store := statestore.NewMemoryStore()
	store.Set("sensor.door", "closed")
	store.Set("sensor.door_battery", 90)
	pub := newCapturePublisher()

	e := startedEngine(t, testConfig(), store, pub)
	e.NotifySystemStarted()

	require.Eventually(t, func() bool {
		return pub.count("door_open") == 1 && pub.count("any_active") == 1
	}, time.Second, time.Millisecond)

	assert.Equal(t, sensor.StateOff, pub.last("door_open").Value)
	assert.Equal(t, map[string]string{"battery": "90"}, pub.last("door_open").Attributes)
	assert.Equal(t, sensor.StateOn, pub.last("any_active").Value)
}

func TestEngine_ChangeNotificationTriggersRecompute(t *testing.T) {
	store := statestore.NewMemoryStore()
	store.Set("sensor.door", "closed")
	pub := newCapturePublisher()

	e := startedEngine(t, testConfig(), store, pub)
	e.NotifySystemStarted()
	require.Eventually(t, func() bool { return pub.count("door_open") == 1 },
		time.Second, time.Millisecond)

	store.Set("sensor.door", "open")
	require.Eventually(t, func() bool { return pub.count("door_open") == 2 },
		time.Second, time.Millisecond)
	assert.Equal(t, sensor.StateOn, pub.last("door_open").Value)
}

func TestEngine_UnboundedSensorUpdatesOnlyOnForce(t *testing.T) {
	store := statestore.NewMemoryStore()
	store.Set("sensor.door", "closed")
	pub := newCapturePublisher()

	e := startedEngine(t, testConfig(), store, pub)
	e.NotifySystemStarted()
	require.Eventually(t, func() bool { return pub.count("any_active") == 1 },
		time.Second, time.Millisecond)
	require.Equal(t, sensor.StateOn, pub.last("any_active").Value)

	// Emptying the store flips the expression, but the unbounded sensor
	// has no subscription so nothing happens reactively.
	store.Delete("sensor.door")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, pub.count("any_active"))

	require.NoError(t, e.ForceRecompute(context.Background(), "any_active"))
	require.Eventually(t, func() bool { return pub.count("any_active") == 2 },
		time.Second, time.Millisecond)
	assert.Equal(t, sensor.StateOff, pub.last("any_active").Value)
}

func TestEngine_ForceRecomputeUnknownSensor(t *testing.T) {
	store := statestore.NewMemoryStore()
	pub := newCapturePublisher()

	e := startedEngine(t, testConfig(), store, pub)
	e.NotifySystemStarted()

	err := e.ForceRecompute(context.Background(), "no_such_sensor")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestEngine_LifecycleStates(t *testing.T) {
	store := statestore.NewMemoryStore()
	pub := newCapturePublisher()

	e := NewEngine(testConfig(), store, pub, WithLogger(quietLogger()))
	assert.Equal(t, component.StateCreated, e.Health().State)

	require.NoError(t, e.Initialize())
	assert.Equal(t, component.StateInitialized, e.Health().State)

	// Start before Initialize is rejected on a fresh engine.
	other := NewEngine(testConfig(), store, pub, WithLogger(quietLogger()))
	assert.Error(t, other.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	assert.True(t, e.Health().Healthy)

	e.NotifySystemStarted()
	e.NotifySystemStarted() // second signal is a no-op

	require.NoError(t, e.Stop(time.Second))
	assert.Equal(t, component.StateStopped, e.Health().State)
	assert.False(t, e.Health().Healthy)

	// Recompute after stop is rejected.
	assert.Error(t, e.ForceRecompute(context.Background(), ""))
}

func TestEngine_FriendlyNameDefaultsToKey(t *testing.T) {
	store := statestore.NewMemoryStore()
	store.Set("sensor.door", "open")
	pub := newCapturePublisher()

	e := startedEngine(t, testConfig(), store, pub)
	e.NotifySystemStarted()
	require.Eventually(t, func() bool { return pub.count("door_open") == 1 },
		time.Second, time.Millisecond)

	snapshot, err := e.Snapshot("door_open")
	require.NoError(t, err)
	assert.Equal(t, "door_open", snapshot.FriendlyName)
	assert.Equal(t, "door", snapshot.DeviceClass)
}
