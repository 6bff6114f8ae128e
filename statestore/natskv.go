package statestore

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/sensorkit/errors"
)

// KVStore is a Store backed by a NATS JetStream key-value bucket. Values are
// stored JSON-encoded; entries that fail to decode are surfaced as raw
// strings rather than dropped.
type KVStore struct {
	bucket jetstream.KeyValue
	logger *slog.Logger
}

// NewKVStore creates a Store over an existing KV bucket
func NewKVStore(bucket jetstream.KeyValue) *KVStore {
	return &KVStore{
		bucket: bucket,
		logger: slog.Default().With("component", "kv-state-store"),
	}
}

// Get returns the current value for a key
func (s *KVStore) Get(ctx context.Context, key string) (any, bool, error) {
	entry, err := s.bucket.Get(ctx, key)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "KVStore", "Get", "read key")
	}
	return decodeValue(entry.Value()), true, nil
}

// All returns a snapshot of every key's current value
func (s *KVStore) All(ctx context.Context) (map[string]any, error) {
	lister, err := s.bucket.ListKeys(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "KVStore", "All", "list keys")
	}

	snapshot := make(map[string]any)
	for key := range lister.Keys() {
		entry, err := s.bucket.Get(ctx, key)
		if err != nil {
			if stderrors.Is(err, jetstream.ErrKeyNotFound) {
				continue // deleted between list and get
			}
			return nil, errors.Wrap(err, "KVStore", "All", "read key")
		}
		snapshot[key] = decodeValue(entry.Value())
	}
	return snapshot, nil
}

// Subscribe starts one KV watcher per key. Old values come from the watcher's
// initial replay, so the first delivered change for a key carries the value
// that was current when the subscription was installed.
func (s *KVStore) Subscribe(ctx context.Context, keys []string, handler ChangeHandler) (Subscription, error) {
	sub := &kvSubscription{}

	for _, key := range keys {
		watcher, err := s.bucket.Watch(ctx, key)
		if err != nil {
			_ = sub.Unsubscribe()
			return nil, errors.Wrap(errors.ErrSubscriptionFailed, "KVStore", "Subscribe", "watch "+key)
		}
		sub.watchers = append(sub.watchers, watcher)

		go s.deliver(ctx, watcher, handler)
	}

	return sub, nil
}

// deliver pumps one watcher's updates into the handler. The initial replay
// primes last-known values without invoking the handler.
func (s *KVStore) deliver(ctx context.Context, watcher jetstream.KeyWatcher, handler ChangeHandler) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic in KV change delivery", "error", r)
		}
	}()

	lastKnown := make(map[string]any)
	initialDone := false

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				return
			}
			if entry == nil {
				// Initial replay complete; subsequent entries are live changes.
				initialDone = true
				continue
			}

			key := entry.Key()
			var value any
			if entry.Operation() != jetstream.KeyValueDelete {
				value = decodeValue(entry.Value())
			}

			if !initialDone {
				lastKnown[key] = value
				continue
			}

			handler(Change{Key: key, Old: lastKnown[key], New: value})
			lastKnown[key] = value
		}
	}
}

type kvSubscription struct {
	mu       sync.Mutex
	watchers []jetstream.KeyWatcher
}

// Unsubscribe stops all watchers for this subscription
func (sub *kvSubscription) Unsubscribe() error {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	var firstErr error
	for _, watcher := range sub.watchers {
		if err := watcher.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	sub.watchers = nil
	return firstErr
}

// decodeValue unmarshals a stored JSON value, falling back to the raw bytes
// as a string for entries written by other producers
func decodeValue(data []byte) any {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return string(data)
	}
	return value
}
