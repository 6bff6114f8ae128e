// Package sensorkit is a derived boolean sensor engine. Each configured
// sensor evaluates user-authored expressions against a live upstream state
// store, recomputes whenever an observed value changes, debounces value
// flips through optional delay-on/delay-off windows, and publishes committed
// snapshots atomically.
//
// The main packages:
//
//   - sensor: sensor core (dependency resolution, recomputation, debounce)
//   - expression: expression compilation, evaluation, reference extraction
//   - statestore: upstream state store contract plus memory and NATS KV stores
//   - engine: sensor lifecycle, subscriptions, startup gate, publishing
//   - config: JSON configuration with env overrides
//
// See cmd/sensorkit for the runnable service.
package sensorkit
