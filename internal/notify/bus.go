// Package notify delivers history broadcasts to observers.
package notify

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/runnerr0/chronicle/internal/dispatch"
	"github.com/runnerr0/chronicle/internal/history"
)

// Broadcaster is the contract a history backend requires of its
// notification collaborator. Broadcast is fire-and-forget.
type Broadcaster interface {
	Broadcast(history.Notification)
}

// Observer receives notifications.
type Observer func(history.Notification)

// Bus fans notifications out to registered observers. Delivery happens on
// the Bus's Poster, so notifications from one backend reach each observer
// in the order they were broadcast.
type Bus struct {
	poster dispatch.Poster

	mu        sync.RWMutex
	observers []registration
	nextID    int
}

type registration struct {
	id    int
	types map[history.NotificationType]bool // Empty means all.
	fn    Observer
}

// NewBus returns a Bus which delivers via |poster|. A nil poster delivers
// inline.
func NewBus(poster dispatch.Poster) *Bus {
	if poster == nil {
		poster = dispatch.Immediate{}
	}
	return &Bus{poster: poster}
}

// Register |fn| for notifications of |types| (or, all types if none are
// given). The returned func unregisters it.
func (b *Bus) Register(fn Observer, types ...history.NotificationType) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	var reg = registration{id: b.nextID, fn: fn, types: make(map[history.NotificationType]bool)}
	for _, t := range types {
		reg.types[t] = true
	}
	b.observers = append(b.observers, reg)

	return func() { b.unregister(reg.id) }
}

// Broadcast |n| to matching observers.
func (b *Bus) Broadcast(n history.Notification) {
	b.poster.Post(func() {
		b.mu.RLock()
		var matched []Observer
		for _, reg := range b.observers {
			if len(reg.types) == 0 || reg.types[n.Type] {
				matched = append(matched, reg.fn)
			}
		}
		b.mu.RUnlock()

		log.WithFields(log.Fields{
			"type":      n.Type,
			"observers": len(matched),
		}).Debug("broadcasting history notification")

		for _, fn := range matched {
			fn(n)
		}
	})
}

func (b *Bus) unregister(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.observers {
		if b.observers[i].id == id {
			b.observers = append(b.observers[:i], b.observers[i+1:]...)
			return
		}
	}
}

// Recorder is a Broadcaster which retains notifications, for tests and
// for callers which report what a command changed.
type Recorder struct {
	mu   sync.Mutex
	sent []history.Notification
}

// Broadcast appends |n|.
func (r *Recorder) Broadcast(n history.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

// Notifications returns a copy of the recorded notifications.
func (r *Recorder) Notifications() []history.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]history.Notification(nil), r.sent...)
}

// OfType returns the recorded notifications of type |t|.
func (r *Recorder) OfType(t history.NotificationType) []history.Notification {
	var out []history.Notification
	for _, n := range r.Notifications() {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

// Reset discards recorded notifications.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}
