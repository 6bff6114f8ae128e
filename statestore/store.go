// Package statestore defines the upstream state store boundary for derived
// sensors and provides two implementations: an in-memory store for embedded
// use and tests, and a store backed by a NATS JetStream key-value bucket.
package statestore

import "context"

// Change describes one upstream value transition
type Change struct {
	Key string
	Old any
	New any
}

// ChangeHandler is invoked for each change to a subscribed key. Handlers run
// on the delivery goroutine; consumers that need serialization must provide
// their own.
type ChangeHandler func(change Change)

// Subscription is a handle to an active change subscription
type Subscription interface {
	Unsubscribe() error
}

// Store provides read access to upstream values and change notifications for
// a fixed key set. Dependency subscriptions are installed once at startup and
// never change for the lifetime of a sensor.
type Store interface {
	// Get returns the current value for a key, with ok=false when the key
	// has no current value.
	Get(ctx context.Context, key string) (value any, ok bool, err error)

	// All returns a snapshot of every key's current value.
	All(ctx context.Context) (map[string]any, error)

	// Subscribe registers a handler for changes to exactly the given keys.
	Subscribe(ctx context.Context, keys []string, handler ChangeHandler) (Subscription, error)
}
