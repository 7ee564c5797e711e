// Package store provides a generic in-memory store with optional expiry,
// used to cache catalog listings and per-client rate limiters.
package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"github.com/fourtheye/imgserve/pkg/clock"
)

// ErrNotFound is returned when a key is absent or its item has expired.
var ErrNotFound = errors.New("store: item not found")

type entry[T any] struct {
	item    T
	expires time.Time
}

// Memory is an in-memory store for items of the given type.
type Memory[T any] struct {
	// contains filtered or unexported fields
	mu        sync.RWMutex
	data      map[string]entry[T]
	lastSweep time.Time

	// TTL is the time to live for items stored in the store.
	// Zero keeps items until they are deleted.
	TTL time.Duration

	// Clock is the clock used to determine the current time.
	Clock clock.Face

	// Logger is the logger used to log messages.
	Logger *slog.Logger
}

// NewMemory returns a new memory store for the given type.
func NewMemory[T any](ttl time.Duration) *Memory[T] {
	var t T
	return &Memory[T]{
		data:   make(map[string]entry[T]),
		TTL:    ttl,
		Clock:  clock.System{},
		Logger: slog.Default().WithGroup(fmt.Sprintf("store/memory/%T", t)),
	}
}

func (s *Memory[T]) expired(e entry[T]) bool {
	return !e.expires.IsZero() && !s.Clock.Now().Before(e.expires)
}

// Get returns the item with the given key.
func (s *Memory[T]) Get(key string) (*T, error) {
	s.mu.RLock()
	e, ok := s.data[key]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}

	if s.expired(e) {
		s.mu.Lock()
		// Re-check under the write lock, a concurrent Set may have refreshed it.
		if cur, ok := s.data[key]; ok && s.expired(cur) {
			delete(s.data, key)
			s.Logger.Debug("expired item", slog.String("key", key))
		}
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}

	return &e.item, nil
}

// Set sets the item with the given key.
func (s *Memory[T]) Set(key string, item T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := entry[T]{item: item}
	if s.TTL > 0 {
		now := s.Clock.Now()
		e.expires = now.Add(s.TTL)

		// Keys that are never read again would otherwise stay forever.
		if now.Sub(s.lastSweep) >= s.TTL {
			s.sweep(now)
		}
	}
	s.data[key] = e

	return nil
}

// Delete deletes the item with the given key.
func (s *Memory[T]) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)

	return nil
}

// Sweep deletes every expired item and returns how many were removed.
//
// Set calls it at most once per TTL, so callers only need it when they
// want expired items gone without storing anything new.
func (s *Memory[T]) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sweep(s.Clock.Now())
}

// sweep must be called with s.mu held for writing.
func (s *Memory[T]) sweep(now time.Time) int {
	s.lastSweep = now

	n := 0
	for key, e := range s.data {
		if !e.expires.IsZero() && !now.Before(e.expires) {
			delete(s.data, key)
			n++
		}
	}

	if n > 0 {
		s.Logger.Debug("swept expired items", slog.Int("count", n), slog.Int("remaining", len(s.data)))
	}

	return n
}

// Len returns the number of stored entries, expired or not.
func (s *Memory[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Close closes the store.
func (s *Memory[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make(map[string]entry[T])

	return nil
}
