package debounce

import (
	"sort"
	"sync"
	"time"
)

// Manual is a virtual clock whose timers only fire when Advance is called.
// Callbacks run synchronously on the caller's goroutine, in deadline order.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

// NewManual creates a manual clock starting at an arbitrary fixed instant.
func NewManual() *Manual {
	return &Manual{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Factory returns a Factory producing timers bound to this clock.
func (m *Manual) Factory() Factory {
	return func() Timer {
		t := &manualTimer{clock: m}
		m.mu.Lock()
		m.timers = append(m.timers, t)
		m.mu.Unlock()
		return t
	}
}

// Now returns the current virtual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward and fires every timer that became due.
// It returns the number of callbacks run.
func (m *Manual) Advance(d time.Duration) int {
	m.mu.Lock()
	m.now = m.now.Add(d)
	type due struct {
		at time.Time
		fn func()
	}
	var ready []due
	for _, t := range m.timers {
		if t.fn != nil && !t.deadline.After(m.now) {
			ready = append(ready, due{at: t.deadline, fn: t.fn})
			t.fn = nil
		}
	}
	m.mu.Unlock()

	sort.SliceStable(ready, func(i, j int) bool { return ready[i].at.Before(ready[j].at) })
	for _, r := range ready {
		r.fn()
	}
	return len(ready)
}

// Pending reports how many timers are armed.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if t.fn != nil {
			n++
		}
	}
	return n
}

type manualTimer struct {
	clock    *Manual
	fn       func()
	deadline time.Time
}

func (t *manualTimer) Schedule(fn func(), delay time.Duration) {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.fn = fn
	t.deadline = t.clock.now.Add(delay)
}

func (t *manualTimer) Cancel() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	pending := t.fn != nil
	t.fn = nil
	return pending
}
