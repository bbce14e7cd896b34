// Package debounce delays an action until input has been quiet for a while.
package debounce

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Timer runs at most one pending action. Re-arming replaces the pending
// action and restarts the delay.
type Timer struct {
	clock clockwork.Clock

	mu      sync.Mutex
	timer   clockwork.Timer
	pending func()
	gen     uint64
}

// New creates a Timer on clock. A nil clock uses the real clock.
func New(clock clockwork.Clock) *Timer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Timer{clock: clock}
}

// Arm schedules fn to run after delay, superseding any pending action.
func (t *Timer) Arm(delay time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.gen++
	gen := t.gen
	t.pending = fn
	t.timer = t.clock.AfterFunc(delay, func() { t.fire(gen) })
}

func (t *Timer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || t.pending == nil {
		// cancelled or superseded after the clock fired
		t.mu.Unlock()
		return
	}
	fn := t.pending
	t.pending = nil
	t.timer = nil
	t.mu.Unlock()

	fn()
}

// Cancel drops the pending action. It reports whether one was pending.
func (t *Timer) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	wasPending := t.pending != nil
	t.stopLocked()
	t.gen++
	return wasPending
}

// Flush runs the pending action now on the caller's goroutine.
// It reports whether an action ran.
func (t *Timer) Flush() bool {
	t.mu.Lock()
	fn := t.pending
	t.stopLocked()
	t.gen++
	t.mu.Unlock()

	if fn == nil {
		return false
	}
	fn()
	return true
}

// Pending reports whether an action is scheduled.
func (t *Timer) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending != nil
}

func (t *Timer) stopLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.pending = nil
}
