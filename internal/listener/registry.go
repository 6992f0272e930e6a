package listener

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/rickgao/repairlink/internal/model"
)

// Event names.
const (
	EventNotification  = "notification"  // a classified inbound notification
	EventConnection    = "connection"    // a connection state transition
	EventNotifications = "notifications" // the notification log was mutated
)

// ConnectionChange describes a connection state transition.
type ConnectionChange struct {
	State     string `json:"state"`
	Reason    string `json:"reason,omitempty"`
	Transport string `json:"transport,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
}

// Event is delivered to every listener. Only the fields relevant to Name are set.
type Event struct {
	Name         string              `json:"event"`
	Envelope     *model.Envelope     `json:"envelope,omitempty"`
	Notification *model.Notification `json:"notification,omitempty"`
	Connection   *ConnectionChange   `json:"connection,omitempty"`
	UnreadCount  int                 `json:"unread_count"`
}

// Func receives events.
type Func func(Event)

type entry struct {
	id uint64
	fn Func
}

// Registry holds the registered listeners. Safe for concurrent use.
type Registry struct {
	logger *slog.Logger

	mu      sync.RWMutex
	nextID  uint64
	entries []entry
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Add registers fn and returns a func that removes it. The returned func is
// idempotent. Add panics if fn is nil.
func (r *Registry) Add(fn Func) (unsubscribe func()) {
	if fn == nil {
		panic("listener: nil listener func")
	}

	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.entries = append(r.entries, entry{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(id) })
	}
}

func (r *Registry) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.id == id {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered listeners.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Emit delivers ev to every listener in registration order and returns the
// number of listeners that panicked. Listeners run outside the registry lock,
// so they may add or remove listeners.
func (r *Registry) Emit(ev Event) (failed int) {
	r.mu.RLock()
	snapshot := make([]entry, len(r.entries))
	copy(snapshot, r.entries)
	r.mu.RUnlock()

	for _, e := range snapshot {
		if err := call(e.fn, ev); err != nil {
			failed++
			r.logger.Error("listener failed",
				"event", ev.Name,
				"listener_id", e.id,
				"error", err,
			)
		}
	}
	return failed
}

// call invokes fn and converts a panic into an error.
func call(fn Func, ev Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	fn(ev)
	return nil
}
