package timectrl

import (
	"sync"
	"time"
)

// SimClock is an interface for accessing simulation time. Conditions in
// the control engine depend on this abstraction rather than a concrete
// clock type, enabling testability.
type SimClock interface {
	// Now returns elapsed simulation time in whole seconds since the
	// start of the run.
	Now() int64
	// ClockTime returns the wall-clock-style time of day in seconds
	// since midnight, derived from the run's start time plus Now().
	ClockTime() int64
	// Day returns the calendar day index since the start of the run,
	// beginning at 0.
	Day() int
}

const secondsPerDay = 86400

// StepClock drives simulation time for a synchronous step loop. Unlike
// a ticker-based controller it only moves when the loop calls Advance,
// so the loop can shrink a step after a pre-solve backtrack
// recommendation and then advance by the reduced amount.
type StepClock struct {
	mu sync.RWMutex

	// StartTime anchors time-of-day arithmetic. Only its clock time
	// matters; the date merely defines day 0.
	StartTime time.Time

	elapsed    int64 // seconds since StartTime
	startOfDay int64 // seconds since midnight at StartTime

	listeners []func(int64)
}

// NewStepClock constructs a clock anchored at start.
func NewStepClock(start time.Time) *StepClock {
	midnight := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	return &StepClock{
		StartTime:  start,
		startOfDay: int64(start.Sub(midnight) / time.Second),
	}
}

// Now returns elapsed simulation seconds. Implements SimClock.
func (c *StepClock) Now() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.elapsed
}

// ClockTime returns seconds since midnight of the current simulation
// day. Implements SimClock.
func (c *StepClock) ClockTime() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return (c.startOfDay + c.elapsed) % secondsPerDay
}

// Day returns the calendar day index since the run started. Implements
// SimClock.
func (c *StepClock) Day() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int((c.startOfDay + c.elapsed) / secondsPerDay)
}

// AddListener registers a callback invoked with the new elapsed time on
// every Advance.
func (c *StepClock) AddListener(fn func(int64)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Rewind pulls simulation time back by seconds without notifying
// listeners. The step loop uses it to land on a crossing instant after
// a trial advance overshot it; the rewound span is re-covered by the
// shrunken step, so listeners only ever see committed times.
func (c *StepClock) Rewind(seconds int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seconds > 0 {
		c.elapsed -= seconds
		if c.elapsed < 0 {
			c.elapsed = 0
		}
	}
	return c.elapsed
}

// Advance moves simulation time forward by seconds and notifies
// listeners. Non-positive advances are ignored; landing earlier is the
// loop's job (shrink the step, then Advance).
func (c *StepClock) Advance(seconds int64) int64 {
	if seconds <= 0 {
		return c.Now()
	}

	c.mu.Lock()
	c.elapsed += seconds
	now := c.elapsed
	listeners := make([]func(int64), len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(now)
	}
	return now
}
