package clock

import (
	"sync"
	"time"
)

// Face is the interface for a clock that can be used to get the current time.
//
// Cache expiry and rate limiter bookkeeping read time through a Face so
// tests can move time forward without sleeping.
type Face interface {
	// Now returns the current time.
	Now() time.Time
}

// System is the system clock.
type System struct{}

// Now returns the current time.
func (System) Now() time.Time {
	return time.Now()
}

// Mock is a manually driven clock, safe for concurrent use.
type Mock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMock returns a mock clock frozen at the given time.
func NewMock(now time.Time) *Mock {
	return &Mock{now: now}
}

// Now returns the current mock time.
func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set sets the current time.
func (m *Mock) Set(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Advance moves the clock forward by d.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}
