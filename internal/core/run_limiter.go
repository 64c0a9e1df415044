package core

// run_limiter.go caps how many import runs execute at once across all
// import types. Slots are taken without waiting: an operator starting a
// run while the system is full gets ErrTooManyRuns immediately and can try
// again, rather than holding a request open.

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxConcurrentRuns is the default limit for parallel runs.
const DefaultMaxConcurrentRuns = 4

// RunLimiter is a counting semaphore over running imports.
type RunLimiter struct {
	slots chan struct{}

	mu     sync.Mutex
	active int
	idle   chan struct{} // closed while no run holds a slot
}

// NewRunLimiter allows at most maxConcurrent simultaneous runs.
func NewRunLimiter(maxConcurrent int) *RunLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentRuns
	}
	idle := make(chan struct{})
	close(idle)
	return &RunLimiter{
		slots: make(chan struct{}, maxConcurrent),
		idle:  idle,
	}
}

// TryAcquire takes a slot if one is free. Every successful call must be
// paired with Release.
func (l *RunLimiter) TryAcquire() bool {
	select {
	case l.slots <- struct{}{}:
	default:
		return false
	}

	l.mu.Lock()
	if l.active == 0 {
		l.idle = make(chan struct{})
	}
	l.active++
	l.mu.Unlock()
	return true
}

// Release returns a slot taken by TryAcquire.
func (l *RunLimiter) Release() {
	l.mu.Lock()
	l.active--
	if l.active == 0 {
		close(l.idle)
	}
	l.mu.Unlock()

	<-l.slots
}

// ActiveCount returns the number of running imports.
func (l *RunLimiter) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// MaxConcurrent returns the configured limit.
func (l *RunLimiter) MaxConcurrent() int {
	return cap(l.slots)
}

// Available returns the number of free slots.
func (l *RunLimiter) Available() int {
	return cap(l.slots) - len(l.slots)
}

// WaitForDrain blocks until no run holds a slot or ctx ends.
func (l *RunLimiter) WaitForDrain(ctx context.Context) error {
	l.mu.Lock()
	idle := l.idle
	l.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunLimiterStatus is a snapshot of the limiter for monitoring.
type RunLimiterStatus struct {
	Active        int       `json:"active"`
	Available     int       `json:"available"`
	MaxConcurrent int       `json:"max_concurrent"`
	At            time.Time `json:"at"`
}

// Status returns the current limiter state.
func (l *RunLimiter) Status() RunLimiterStatus {
	return RunLimiterStatus{
		Active:        l.ActiveCount(),
		Available:     l.Available(),
		MaxConcurrent: cap(l.slots),
		At:            time.Now().UTC(),
	}
}
