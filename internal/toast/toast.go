// Package toast holds short-lived user notifications shown at the bottom of
// the dashboard.
package toast

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Severity string

const (
	Info    Severity = "info"
	Success Severity = "success"
	Warning Severity = "warning"
	Error   Severity = "error"
)

const (
	DefaultDuration = 4000 * time.Millisecond
	// grace covers the dismiss animation before a toast is dropped.
	grace = 300 * time.Millisecond
)

type Toast struct {
	ID        string
	Message   string
	Severity  Severity
	CreatedAt time.Time
	Duration  time.Duration
}

// Queue is safe for concurrent use. Each toast expires on its own timer.
type Queue struct {
	mu       sync.Mutex
	toasts   []Toast
	timers   map[string]*time.Timer
	onChange func()
}

func New() *Queue {
	return &Queue{timers: make(map[string]*time.Timer)}
}

// OnChange sets a callback invoked, without the queue lock held, after
// every add or removal.
func (q *Queue) OnChange(fn func()) {
	q.mu.Lock()
	q.onChange = fn
	q.mu.Unlock()
}

// Add enqueues a toast and returns its id. A non-positive duration uses
// DefaultDuration.
func (q *Queue) Add(message string, severity Severity, duration time.Duration) string {
	if duration <= 0 {
		duration = DefaultDuration
	}
	if severity == "" {
		severity = Info
	}
	t := Toast{
		ID:        uuid.NewString(),
		Message:   message,
		Severity:  severity,
		CreatedAt: time.Now(),
		Duration:  duration,
	}

	q.mu.Lock()
	q.toasts = append(q.toasts, t)
	q.timers[t.ID] = time.AfterFunc(duration+grace, func() { q.expire(t.ID) })
	fn := q.onChange
	q.mu.Unlock()

	if fn != nil {
		fn()
	}
	return t.ID
}

func (q *Queue) Info(message string) string    { return q.Add(message, Info, 0) }
func (q *Queue) Success(message string) string { return q.Add(message, Success, 0) }
func (q *Queue) Warning(message string) string { return q.Add(message, Warning, 0) }
func (q *Queue) Error(message string) string   { return q.Add(message, Error, 0) }

// Remove drops a toast immediately. Unknown ids are ignored.
func (q *Queue) Remove(id string) {
	q.mu.Lock()
	if t, ok := q.timers[id]; ok {
		t.Stop()
	}
	removed := q.removeLocked(id)
	fn := q.onChange
	q.mu.Unlock()

	if removed && fn != nil {
		fn()
	}
}

// expire runs from a toast's timer. It is a no-op when the toast was
// already removed.
func (q *Queue) expire(id string) {
	q.mu.Lock()
	removed := q.removeLocked(id)
	fn := q.onChange
	q.mu.Unlock()

	if removed && fn != nil {
		fn()
	}
}

func (q *Queue) removeLocked(id string) bool {
	delete(q.timers, id)
	for i, t := range q.toasts {
		if t.ID == id {
			q.toasts = append(q.toasts[:i:i], q.toasts[i+1:]...)
			return true
		}
	}
	return false
}

// List returns the active toasts in insertion order.
func (q *Queue) List() []Toast {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Toast(nil), q.toasts...)
}

// Len reports the number of active toasts.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.toasts)
}

// Clear removes every toast and stops their timers.
func (q *Queue) Clear() {
	q.mu.Lock()
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	had := len(q.toasts) > 0
	q.toasts = nil
	fn := q.onChange
	q.mu.Unlock()

	if had && fn != nil {
		fn()
	}
}
