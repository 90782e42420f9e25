// Package channel keeps a live connection to the orchestration service and
// republishes its messages as classified events to local subscribers. The
// connection itself is a Transport: a WebSocket push channel or a polling
// loop that synthesizes the same messages from REST snapshots.
package channel

import (
	"sync"
	"sync/atomic"

	"github.com/zsprackett/agent-dashboard/internal/events"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "disconnected"
	}
}

// Handler receives events. Handlers run on the connection's reader
// goroutine and must not block for long.
type Handler func(events.Event)

// Subscription is the handle returned by On. Passing it to Off removes
// exactly this registration.
type Subscription struct {
	eventType events.EventType
	handler   Handler
	removed   atomic.Bool
}

// EventType returns the event type the subscription listens for.
func (s *Subscription) EventType() events.EventType {
	return s.eventType
}

// Channel is the surface views depend on, independent of transport.
type Channel interface {
	Connect()
	Disconnect()
	On(t events.EventType, h Handler) *Subscription
	Off(sub *Subscription)
	Send(v any)
	State() State
}

// registry holds subscribers per event type. Lists are replaced, never
// mutated in place, so emit can iterate a snapshot without holding the lock.
type registry struct {
	mu   sync.RWMutex
	subs map[events.EventType][]*Subscription
}

func newRegistry() *registry {
	return &registry{subs: make(map[events.EventType][]*Subscription)}
}

func (r *registry) add(t events.EventType, h Handler) *Subscription {
	sub := &Subscription{eventType: t, handler: h}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.subs[t]
	next := make([]*Subscription, len(cur), len(cur)+1)
	copy(next, cur)
	r.subs[t] = append(next, sub)
	return sub
}

func (r *registry) remove(sub *Subscription) {
	sub.removed.Store(true)
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.subs[sub.eventType]
	next := make([]*Subscription, 0, len(cur))
	for _, s := range cur {
		if s != sub {
			next = append(next, s)
		}
	}
	if len(next) == 0 {
		delete(r.subs, sub.eventType)
		return
	}
	r.subs[sub.eventType] = next
}

func (r *registry) snapshot(t events.EventType) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.subs[t]
}

func (r *registry) count(t events.EventType) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[t])
}
