// Package component defines the lifecycle contract shared by long-running
// parts of the system.
package component

import (
	"context"
	"time"
)

// State represents the current lifecycle state of a component
type State int

const (
	// StateCreated indicates the component was created but not initialized
	StateCreated State = iota
	// StateInitialized indicates the component was initialized but not started
	StateInitialized
	// StateStarted indicates the component is running
	StateStarted
	// StateStopped indicates the component was stopped
	StateStopped
	// StateFailed indicates the component failed during a lifecycle operation
	StateFailed
)

// String returns a string representation of the component state
func (cs State) String() string {
	switch cs {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// LifecycleComponent defines components that support full lifecycle
// management:
//   - Initialize() error                 // setup/create only, no context
//   - Start(ctx context.Context) error   // start with context passed through
//   - Stop(timeout time.Duration) error  // graceful shutdown with timeout
type LifecycleComponent interface {
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// Health is a point-in-time health report for a component
type Health struct {
	Name    string         `json:"name"`
	State   State          `json:"-"`
	Status  string         `json:"status"`
	Healthy bool           `json:"healthy"`
	Details map[string]any `json:"details,omitempty"`
}
