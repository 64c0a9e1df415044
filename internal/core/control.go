package core

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCancelled is returned from suspension points once a run is cancelled.
var ErrCancelled = errors.New("import cancelled")

// Control delivers pause, resume and cancel signals to a running import.
//
// Signals are observed only at the driver's suspension points: before each
// row, during retry backoff and at chunk yields. An upsert already on the
// wire is never interrupted. Cancel wins over pause.
type Control struct {
	mu      sync.Mutex
	paused  bool
	resumed chan struct{} // closed while not paused

	cancelOnce sync.Once
	cancelled  chan struct{}
}

// NewControl returns a control in the running (not paused) state.
func NewControl() *Control {
	resumed := make(chan struct{})
	close(resumed)
	return &Control{
		resumed:   resumed,
		cancelled: make(chan struct{}),
	}
}

// Pause asks the driver to stop before the next row.
func (c *Control) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return
	}
	c.paused = true
	c.resumed = make(chan struct{})
}

// Resume lets a paused driver continue from the same index.
func (c *Control) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return
	}
	c.paused = false
	close(c.resumed)
}

// Cancel stops the run at the next suspension point. Safe to call more
// than once.
func (c *Control) Cancel() {
	c.cancelOnce.Do(func() { close(c.cancelled) })
}

// Paused reports whether a pause is in effect.
func (c *Control) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Cancelled reports whether cancellation was requested.
func (c *Control) Cancelled() bool {
	select {
	case <-c.cancelled:
		return true
	default:
		return false
	}
}

// Done is closed when cancellation is requested.
func (c *Control) Done() <-chan struct{} {
	return c.cancelled
}

func (c *Control) resumeSignal() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumed
}

// WaitWhilePaused blocks while the run is paused. It returns ErrCancelled
// if the run is cancelled, or the context error if ctx ends first.
// onPause runs once if the call actually has to wait.
func (c *Control) WaitWhilePaused(ctx context.Context, onPause func()) error {
	if err := c.check(ctx); err != nil {
		return err
	}

	resumed := c.resumeSignal()
	select {
	case <-resumed:
		return nil
	default:
	}

	if onPause != nil {
		onPause()
	}

	for {
		select {
		case <-c.cancelled:
			return ErrCancelled
		case <-ctx.Done():
			return ctx.Err()
		case <-resumed:
			// A pause may have been re-applied between the close and now.
			resumed = c.resumeSignal()
			select {
			case <-resumed:
				return c.check(ctx)
			default:
			}
		}
	}
}

// Sleep waits for d unless the run is cancelled or ctx ends.
func (c *Control) Sleep(ctx context.Context, d time.Duration) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-c.cancelled:
		return ErrCancelled
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Control) check(ctx context.Context) error {
	if c.Cancelled() {
		return ErrCancelled
	}
	return ctx.Err()
}
