package coordinator

import (
	"log/slog"
	"sync"
	"time"
)

// stallTimer is a single-shot cancellable timer. Cancel is unconditional
// and idempotent: cancelling an already-fired or already-cancelled timer
// is a no-op. The fire callback runs on the timer goroutine with broad
// panic recovery so a bug in a transition can never crash the process or
// leak the timer.
type stallTimer struct {
	mu        sync.Mutex
	t         *time.Timer
	cancelled bool
	fired     bool
}

// newStallTimer arms a timer that invokes fn after d unless cancelled.
// fn receives the timer handle so callers can verify it is still the
// live timer for the session before acting on the fire.
func newStallTimer(d time.Duration, fn func(*stallTimer)) *stallTimer {
	st := &stallTimer{}
	st.t = time.AfterFunc(d, func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("stall timer callback panicked", "panic", r)
			}
		}()

		st.mu.Lock()
		if st.cancelled {
			st.mu.Unlock()
			return
		}
		st.fired = true
		st.mu.Unlock()

		fn(st)
	})
	return st
}

// Cancel stops the timer if it has not fired yet. Safe to call any
// number of times, from any transition path.
func (st *stallTimer) Cancel() {
	if st == nil {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.cancelled || st.fired {
		return
	}
	st.cancelled = true
	st.t.Stop()
}
