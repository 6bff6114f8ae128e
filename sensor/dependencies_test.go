package sensor

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorkit/expression"
)

// recordingHandler captures log records for assertions
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) countLevel(level slog.Level) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	count := 0
	for _, r := range h.records {
		if r.Level == level {
			count++
		}
	}
	return count
}

func mustCompile(t *testing.T, name, source string) expression.Expr {
	t.Helper()
	program, err := expression.NewEngine().Compile(name, source)
	require.NoError(t, err)
	return program
}

func TestResolveDependencies_UnionAcrossExpressions(t *testing.T) {
	def := &Definition{
		Name:  "door_open",
		Value: mustCompile(t, "value", `state("sensor.door") == "open"`),
		Icon:  mustCompile(t, "icon", `is_state("sensor.door", "open") ? "mdi:door-open" : "mdi:door"`),
		Attributes: map[string]expression.Expr{
			"battery": mustCompile(t, "battery", `state("sensor.door_battery")`),
		},
	}

	refs := ResolveDependencies(def, slog.New(&recordingHandler{}))
	require.False(t, refs.Unbounded)
	assert.Equal(t, []string{"sensor.door", "sensor.door_battery"}, refs.Keys)
}

func TestResolveDependencies_UnboundedWarnsOnce(t *testing.T) {
	handler := &recordingHandler{}
	def := &Definition{
		Name:    "anything_on",
		Value:   mustCompile(t, "value", `len(states) > 0`),
		Picture: mustCompile(t, "picture", `state("ui.pic")`),
	}

	refs := ResolveDependencies(def, slog.New(handler))
	assert.True(t, refs.Unbounded)
	assert.Equal(t, 1, handler.countLevel(slog.LevelWarn))
}

func TestResolveDependencies_ExplicitBypassesExtraction(t *testing.T) {
	handler := &recordingHandler{}
	def := &Definition{
		Name:                 "anything_on",
		Value:                mustCompile(t, "value", `len(states) > 0`),
		ExplicitDependencies: []string{"sensor.b", "sensor.a"},
	}

	refs := ResolveDependencies(def, slog.New(handler))
	require.False(t, refs.Unbounded)
	assert.Equal(t, []string{"sensor.a", "sensor.b"}, refs.Keys)
	assert.Equal(t, 0, handler.countLevel(slog.LevelWarn))
}
