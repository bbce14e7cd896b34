package debounce

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

const waitFor = time.Second

func TestTimer_FiresAfterDelay(t *testing.T) {
	clock := clockwork.NewFakeClock()
	timer := New(clock)

	var calls atomic.Int32
	timer.Arm(500*time.Millisecond, func() { calls.Add(1) })
	assert.True(t, timer.Pending())

	clock.Advance(499 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())

	clock.Advance(time.Millisecond)
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, time.Millisecond)
	assert.False(t, timer.Pending())
}

func TestTimer_RearmRestartsDelay(t *testing.T) {
	clock := clockwork.NewFakeClock()
	timer := New(clock)

	var first, second atomic.Int32
	timer.Arm(500*time.Millisecond, func() { first.Add(1) })
	clock.Advance(400 * time.Millisecond)
	timer.Arm(500*time.Millisecond, func() { second.Add(1) })

	clock.Advance(400 * time.Millisecond)
	assert.True(t, timer.Pending())

	clock.Advance(100 * time.Millisecond)
	assert.Eventually(t, func() bool { return second.Load() == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
}

func TestTimer_Cancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	timer := New(clock)

	var calls atomic.Int32
	timer.Arm(time.Second, func() { calls.Add(1) })

	assert.True(t, timer.Cancel())
	assert.False(t, timer.Cancel())

	clock.Advance(2 * time.Second)
	assert.Never(t, func() bool { return calls.Load() != 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestTimer_Flush(t *testing.T) {
	timer := New(clockwork.NewFakeClock())

	var calls int
	assert.False(t, timer.Flush())

	timer.Arm(time.Hour, func() { calls++ })
	assert.True(t, timer.Flush())
	assert.Equal(t, 1, calls)
	assert.False(t, timer.Pending())
}

func TestTimer_NilClockUsesRealClock(t *testing.T) {
	timer := New(nil)

	done := make(chan struct{})
	timer.Arm(time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("timer did not fire")
	}
}
