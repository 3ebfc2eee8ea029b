package dispatch

import (
	"sort"
	"sync"
	"time"
)

// Clock abstracts time for the owner loop, so that timer-driven behavior
// (commit debouncing, archival sweeps) can be driven by tests.
type Clock interface {
	Now() time.Time
	// AfterFunc invokes |fn| on an arbitrary goroutine after |d| elapses.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a pending AfterFunc invocation.
type Timer interface {
	// Stop prevents the Timer from firing. It returns false if the Timer
	// already fired or was stopped.
	Stop() bool
}

// SystemClock is a Clock of the wall time.
type SystemClock struct{}

// Now returns time.Now.
func (SystemClock) Now() time.Time { return time.Now() }

// AfterFunc delegates to time.AfterFunc.
func (SystemClock) AfterFunc(d time.Duration, fn func()) Timer { return time.AfterFunc(d, fn) }

// ManualClock is a Clock which advances only when told to. Timers fire
// synchronously from within Advance, in order of their deadlines.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	clock *ManualClock
	at    time.Time
	seq   int
	fn    func()
	done  bool
}

// NewManualClock returns a ManualClock reading |start|.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current manual time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc registers |fn| to fire once the clock reaches Now() + |d|.
func (c *ManualClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	var t = &manualTimer{clock: c, at: c.now.Add(d), seq: c.seq, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward by |d|, firing each timer which comes due.
// Timers registered by a firing timer also fire, if they come due before
// the new time.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	var target = c.now.Add(d)

	for {
		var next = c.popDue(target)
		if next == nil {
			break
		}
		c.now = next.at
		c.mu.Unlock()
		next.fn()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

// Pending returns the number of timers which have not fired or been stopped.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// popDue removes and returns the earliest timer due at or before |target|.
// c.mu must be held.
func (c *ManualClock) popDue(target time.Time) *manualTimer {
	if len(c.timers) == 0 {
		return nil
	}
	sort.SliceStable(c.timers, func(i, j int) bool {
		if c.timers[i].at.Equal(c.timers[j].at) {
			return c.timers[i].seq < c.timers[j].seq
		}
		return c.timers[i].at.Before(c.timers[j].at)
	})
	var t = c.timers[0]
	if t.at.After(target) {
		return nil
	}
	c.timers = c.timers[1:]
	t.done = true
	return t
}

func (t *manualTimer) Stop() bool {
	var c = t.clock
	c.mu.Lock()
	defer c.mu.Unlock()

	if t.done {
		return false
	}
	t.done = true
	for i := range c.timers {
		if c.timers[i] == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			break
		}
	}
	return true
}
