package testutil

import (
	"sync"
	"time"
)

// ManualSource is a clock.Source that only moves when told to.
//
// Tests advance it explicitly so that every timeline reading is known in
// advance. The first reading is a fixed epoch, not the host time.
//
// Thread-safety: all methods are safe for concurrent use.
type ManualSource struct {
	mu  sync.Mutex
	now time.Time
}

// Epoch is the initial instant of every ManualSource.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// NewManualSource creates a source reading Epoch.
func NewManualSource() *ManualSource {
	return &ManualSource{now: Epoch}
}

// Now returns the current manual instant.
func (s *ManualSource) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Advance moves the source forward by d.
func (s *ManualSource) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(d)
}

// Set jumps to t.
func (s *ManualSource) Set(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = t
}
