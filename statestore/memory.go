package statestore

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store. Change notifications are delivered
// synchronously on the goroutine that calls Set or Delete.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]any
	subs   map[int]*memorySubscription
	nextID int
}

type memorySubscription struct {
	store   *MemoryStore
	id      int
	keys    map[string]struct{}
	handler ChangeHandler
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]any),
		subs:   make(map[int]*memorySubscription),
	}
}

// Get returns the current value for a key
func (s *MemoryStore) Get(_ context.Context, key string) (any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.values[key]
	return value, ok, nil
}

// All returns a copy of every current value
func (s *MemoryStore) All(_ context.Context) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make(map[string]any, len(s.values))
	for key, value := range s.values {
		snapshot[key] = value
	}
	return snapshot, nil
}

// Subscribe registers a handler for changes to the given keys
func (s *MemoryStore) Subscribe(_ context.Context, keys []string, handler ChangeHandler) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keySet := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		keySet[key] = struct{}{}
	}

	sub := &memorySubscription{
		store:   s,
		id:      s.nextID,
		keys:    keySet,
		handler: handler,
	}
	s.subs[s.nextID] = sub
	s.nextID++

	return sub, nil
}

// Unsubscribe removes the subscription
func (sub *memorySubscription) Unsubscribe() error {
	sub.store.mu.Lock()
	defer sub.store.mu.Unlock()

	delete(sub.store.subs, sub.id)
	return nil
}

// Set stores a value and notifies matching subscribers with the old and new
// values.
func (s *MemoryStore) Set(key string, value any) {
	s.mu.Lock()
	old := s.values[key]
	s.values[key] = value
	handlers := s.matching(key)
	s.mu.Unlock()

	for _, handler := range handlers {
		handler(Change{Key: key, Old: old, New: value})
	}
}

// Delete removes a key and notifies matching subscribers with a nil new value
func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	old, existed := s.values[key]
	delete(s.values, key)
	handlers := s.matching(key)
	s.mu.Unlock()

	if !existed {
		return
	}
	for _, handler := range handlers {
		handler(Change{Key: key, Old: old, New: nil})
	}
}

// matching collects handlers subscribed to a key; callers hold the lock
func (s *MemoryStore) matching(key string) []ChangeHandler {
	var handlers []ChangeHandler
	for _, sub := range s.subs {
		if _, ok := sub.keys[key]; ok {
			handlers = append(handlers, sub.handler)
		}
	}
	return handlers
}
