// Package debounce provides a cancellable timer that can be re-armed, used to
// coalesce bursts of input into a single delayed action.
package debounce

import (
	"sync"
	"time"
)

// Timer is a single re-armable timer. Scheduling discards any pending run.
type Timer interface {
	// Schedule arms the timer to run fn after delay. A pending run is discarded.
	Schedule(fn func(), delay time.Duration)
	// Cancel discards a pending run and reports whether one was pending.
	Cancel() bool
}

// Factory creates timers. Engines take a Factory so tests can swap in a Manual clock.
type Factory func() Timer

// New returns a Timer backed by time.AfterFunc.
func New() Timer {
	return &afterFuncTimer{}
}

type afterFuncTimer struct {
	mu  sync.Mutex
	t   *time.Timer
	gen uint64
}

func (a *afterFuncTimer) Schedule(fn func(), delay time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.t != nil {
		a.t.Stop()
	}
	a.gen++
	gen := a.gen
	a.t = time.AfterFunc(delay, func() {
		a.mu.Lock()
		// Stop can lose the race against an expiring timer; the generation
		// check keeps a superseded callback from running.
		if gen != a.gen {
			a.mu.Unlock()
			return
		}
		a.t = nil
		a.mu.Unlock()
		fn()
	})
}

func (a *afterFuncTimer) Cancel() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.t == nil {
		return false
	}
	a.gen++
	a.t.Stop()
	a.t = nil
	return true
}
