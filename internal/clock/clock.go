package clock

import (
	"sync"
	"time"
)

// #region provider
// Provider supplies timestamps for WAL entries, epoch checks, and violation reports.
type Provider interface {
	Now() time.Time
}

// System reads the wall clock in UTC.
type System struct{}

// Now returns the current UTC time.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// #endregion provider

// #region test-clocks
// Fixed always returns T.
type Fixed struct {
	T time.Time
}

// Now returns the fixed instant.
func (f Fixed) Now() time.Time {
	return f.T
}

// Step returns Start on the first call and advances by Delta on every call after.
type Step struct {
	mu    sync.Mutex
	next  time.Time
	delta time.Duration
}

// NewStep creates a stepping clock.
func NewStep(start time.Time, delta time.Duration) *Step {
	return &Step{next: start, delta: delta}
}

// Now returns the current step and advances.
func (s *Step) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.next
	s.next = s.next.Add(s.delta)
	return t
}

// #endregion test-clocks
