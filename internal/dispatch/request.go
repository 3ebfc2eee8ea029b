package dispatch

import (
	"sync"
	"sync/atomic"
)

// Cancelable is implemented by requests.
type Cancelable interface {
	Cancel()
	Canceled() bool
}

// Request carries a result of type T from the owner context back to the
// context which issued it. A canceled Request never invokes its callback.
type Request[T any] struct {
	origin   Poster
	callback func(T)
	canceled atomic.Bool
}

// NewRequest returns a Request whose |callback| runs on |origin|.
func NewRequest[T any](origin Poster, callback func(T)) *Request[T] {
	if origin == nil {
		origin = Immediate{}
	}
	return &Request[T]{origin: origin, callback: callback}
}

// Cancel the Request. The callback will not run, even if a result is
// already in flight to the origin context.
func (r *Request[T]) Cancel() { r.canceled.Store(true) }

// Canceled returns whether the Request was canceled.
func (r *Request[T]) Canceled() bool { return r.canceled.Load() }

// ForwardResult posts |v| to the callback on the origin context.
func (r *Request[T]) ForwardResult(v T) {
	if r.Canceled() {
		return
	}
	r.origin.Post(func() {
		if !r.Canceled() && r.callback != nil {
			r.callback(v)
		}
	})
}

// Consumer tracks the outstanding requests of one client, so that all of
// them may be canceled together (eg, when the client goes away).
type Consumer struct {
	mu       sync.Mutex
	requests []Cancelable
}

// Track adds |r| to the Consumer.
func (c *Consumer) Track(r Cancelable) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Opportunistically drop canceled requests.
	var live = c.requests[:0]
	for _, p := range c.requests {
		if !p.Canceled() {
			live = append(live, p)
		}
	}
	c.requests = append(live, r)
}

// Outstanding returns the number of tracked, uncanceled requests.
func (c *Consumer) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int
	for _, p := range c.requests {
		if !p.Canceled() {
			n++
		}
	}
	return n
}

// CancelAll cancels every tracked request.
func (c *Consumer) CancelAll() {
	c.mu.Lock()
	var requests = c.requests
	c.requests = nil
	c.mu.Unlock()

	for _, p := range requests {
		p.Cancel()
	}
}
