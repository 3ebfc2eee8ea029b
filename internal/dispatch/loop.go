// Package dispatch provides the owner context of a history backend: a FIFO
// loop which exclusively runs all work touching backend state, delayed and
// cancelable tasks, and the request objects through which other contexts
// receive results.
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// Poster accepts tasks for execution on some context.
type Poster interface {
	Post(fn func())
}

// Immediate is a Poster which runs tasks inline, on the posting goroutine.
type Immediate struct{}

// Post invokes |fn|.
func (Immediate) Post(fn func()) { fn() }

// Loop is a single-goroutine FIFO task runner. Tasks run in the order they
// were posted; delayed tasks join the FIFO when their timer fires.
type Loop struct {
	clock Clock

	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
	stopCh  chan struct{}
}

// NewLoop returns a Loop using |clock| for delayed tasks.
func NewLoop(clock Clock) *Loop {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Loop{
		clock:  clock,
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
}

// Clock returns the Clock of the Loop.
func (l *Loop) Clock() Clock { return l.clock }

// Post enqueues |fn|. Tasks posted after Stop are dropped.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		log.Debug("dropping task posted to stopped loop")
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// PostDelayed enqueues |fn| after |d| elapses. The returned Handle revokes
// the task: once canceled, |fn| will not run even if its timer already
// fired and the task is queued.
func (l *Loop) PostDelayed(d time.Duration, fn func()) *Handle {
	var h = new(Handle)
	h.timer = l.clock.AfterFunc(d, func() {
		l.Post(func() {
			if !h.canceled.Load() {
				fn()
			}
		})
	})
	return h
}

// Run executes tasks until Stop is called or |ctx| is done.
func (l *Loop) Run(ctx context.Context) {
	for {
		var fn, ok = l.next(ctx)
		if !ok {
			return
		}
		fn()
	}
}

// RunPending executes queued tasks on the calling goroutine until the queue
// is empty, and returns the number run. It must not race with Run.
func (l *Loop) RunPending() int {
	var n int
	for {
		l.mu.Lock()
		if len(l.queue) == 0 || l.stopped {
			l.mu.Unlock()
			return n
		}
		var fn = l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		fn()
		n++
	}
}

// Flush blocks until every task posted before it has run. It must be called
// from outside the Loop while Run is active.
func (l *Loop) Flush() {
	var done = make(chan struct{})
	l.Post(func() { close(done) })

	select {
	case <-done:
	case <-l.stopCh:
	}
}

// Stop causes Run to return. Queued tasks are discarded.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.stopped {
		l.stopped = true
		close(l.stopCh)
	}
	l.queue = nil
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Stopped returns whether Stop was called.
func (l *Loop) Stopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

func (l *Loop) next(ctx context.Context) (func(), bool) {
	for {
		l.mu.Lock()
		if l.stopped {
			l.mu.Unlock()
			return nil, false
		}
		if len(l.queue) != 0 {
			var fn = l.queue[0]
			l.queue = l.queue[1:]
			l.mu.Unlock()
			return fn, true
		}
		l.mu.Unlock()

		select {
		case <-l.wake:
		case <-ctx.Done():
			return nil, false
		}
	}
}

// Handle revokes a delayed task.
type Handle struct {
	timer    Timer
	canceled atomic.Bool
}

// Cancel the task. It's safe to Cancel a nil or already-run Handle.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.canceled.Store(true)
	if h.timer != nil {
		h.timer.Stop()
	}
}

// Canceled returns whether Cancel was called.
func (h *Handle) Canceled() bool { return h != nil && h.canceled.Load() }
