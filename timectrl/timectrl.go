// Package timectrl drives simulated time for the coverage engine.
package timectrl

import (
	"context"
	"slices"
	"sync"
	"time"
)

// SimClock gives read access to simulation time. The coverage engine reads
// "now" through it so tests and hosts can drive time explicitly.
type SimClock interface {
	Now() time.Time
}

// Mode selects how host ticks are paced.
type Mode int

const (
	// RealTime paces host ticks with a wall-clock ticker of period Tick.
	RealTime Mode = iota
	// Accelerated fires host ticks back to back.
	Accelerated
)

func (m Mode) String() string {
	if m == Accelerated {
		return "accelerated"
	}
	return "realtime"
}

// TimeController owns the simulation clock and calls its listeners once
// per host tick, after the clock has moved.
type TimeController struct {
	mu sync.RWMutex

	StartTime time.Time
	Tick      time.Duration
	Mode      Mode
	// Scale multiplies Tick to give the simulated time per host tick, so a
	// real-time run can go faster than the wall clock. Values <= 0 mean 1.
	Scale float64

	now       time.Time
	ticks     int
	listeners []func(time.Time)
}

// NewTimeController returns a controller whose clock reads start.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime: start,
		Tick:      tick,
		Mode:      mode,
		Scale:     1,
		now:       start,
	}
}

// Now implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.now
}

// Ticks returns how many host ticks Run has delivered.
func (tc *TimeController) Ticks() int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.ticks
}

// SetTime jumps the clock to t without notifying listeners.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	tc.now = t
	tc.mu.Unlock()
}

// Advance moves the clock by d without notifying listeners and returns the
// new time. A negative d moves it backwards.
func (tc *TimeController) Advance(d time.Duration) time.Time {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.now = tc.now.Add(d)
	return tc.now
}

// AddListener registers fn for every later tick.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	if fn == nil {
		return
	}
	tc.mu.Lock()
	tc.listeners = append(tc.listeners, fn)
	tc.mu.Unlock()
}

func (tc *TimeController) step() time.Duration {
	if tc.Scale <= 0 {
		return tc.Tick
	}
	return time.Duration(float64(tc.Tick) * tc.Scale)
}

// Run resets the clock to StartTime and ticks in a new goroutine until
// duration of simulated time has passed or ctx is done. A non-positive
// duration runs until ctx is done. The returned channel is closed when the
// goroutine exits; a tick in progress always completes.
func (tc *TimeController) Run(ctx context.Context, duration time.Duration) <-chan struct{} {
	tc.mu.Lock()
	tc.now = tc.StartTime
	tc.ticks = 0
	step := tc.step()
	tc.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)

		var wall <-chan time.Time
		if tc.Mode == RealTime {
			ticker := time.NewTicker(tc.Tick)
			defer ticker.Stop()
			wall = ticker.C
		}

		for elapsed := time.Duration(0); duration <= 0 || elapsed < duration; elapsed += step {
			if wall != nil {
				select {
				case <-ctx.Done():
					return
				case <-wall:
				}
			} else if ctx.Err() != nil {
				return
			}

			tc.mu.Lock()
			tc.now = tc.now.Add(step)
			tc.ticks++
			now := tc.now
			listeners := slices.Clone(tc.listeners)
			tc.mu.Unlock()

			for _, fn := range listeners {
				fn(now)
			}
		}
	}()
	return done
}
