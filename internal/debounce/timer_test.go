package debounce

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestTimer_LastScheduleWins(t *testing.T) {
	defer goleak.VerifyNone(t)

	var fired atomic.Int32
	var last atomic.Value
	timer := New()

	for _, v := range []string{"a", "ab", "abc"} {
		v := v
		timer.Schedule(func() {
			fired.Add(1)
			last.Store(v)
		}, 20*time.Millisecond)
	}

	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
	assert.Equal(t, "abc", last.Load())
}

func TestTimer_Cancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	var fired atomic.Bool
	timer := New()

	assert.False(t, timer.Cancel(), "nothing pending yet")

	timer.Schedule(func() { fired.Store(true) }, 20*time.Millisecond)
	assert.True(t, timer.Cancel())
	assert.False(t, timer.Cancel())

	time.Sleep(50 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestManual_AdvanceFiresDueTimersInOrder(t *testing.T) {
	clock := NewManual()
	f := clock.Factory()
	a, b := f(), f()

	var order []string
	a.Schedule(func() { order = append(order, "a") }, 300*time.Millisecond)
	b.Schedule(func() { order = append(order, "b") }, 100*time.Millisecond)
	assert.Equal(t, 2, clock.Pending())

	assert.Equal(t, 0, clock.Advance(50*time.Millisecond))
	assert.Equal(t, 1, clock.Advance(50*time.Millisecond))
	assert.Equal(t, 1, clock.Advance(time.Second))
	assert.Equal(t, []string{"b", "a"}, order)
	assert.Equal(t, 0, clock.Pending())
}

func TestManual_RescheduleDiscardsPending(t *testing.T) {
	clock := NewManual()
	timer := clock.Factory()()

	calls := 0
	timer.Schedule(func() { calls += 10 }, 300*time.Millisecond)
	clock.Advance(200 * time.Millisecond)
	timer.Schedule(func() { calls++ }, 300*time.Millisecond)

	clock.Advance(200 * time.Millisecond)
	assert.Equal(t, 0, calls)
	clock.Advance(100 * time.Millisecond)
	assert.Equal(t, 1, calls)
}
