package notification

import (
	"sync"

	"github.com/rickgao/repairlink/internal/model"
)

// DefaultCapacity is the number of notifications kept in memory.
const DefaultCapacity = 50

// Store is the bounded notification log with read/unread bookkeeping.
// All methods are safe for concurrent use.
type Store struct {
	mu  sync.RWMutex
	log *Ring[model.Notification]
}

// NewStore creates a store. capacity <= 0 selects DefaultCapacity.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{log: NewRing[model.Notification](capacity)}
}

// Add records n as the newest entry. It reports whether the oldest entry was evicted.
func (s *Store) Add(n model.Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, evicted := s.log.Push(n)
	return evicted
}

// Notifications returns a newest-first snapshot of the log.
func (s *Store) Notifications() []model.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.log.Slice()
}

// Get returns the entry with the given id.
func (s *Store) Get(id string) (model.Notification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found model.Notification
	var ok bool
	s.log.Each(func(n *model.Notification) bool {
		if n.ID == id {
			found, ok = *n, true
			return false
		}
		return true
	})
	return found, ok
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.log.Len()
}

// Cap returns the log capacity.
func (s *Store) Cap() int {
	return s.log.Cap()
}

// UnreadCount returns the number of entries with Read == false.
func (s *Store) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	unread := 0
	s.log.Each(func(n *model.Notification) bool {
		if !n.Read {
			unread++
		}
		return true
	})
	return unread
}

// MarkAsRead marks the entry with the given id as read.
// It returns false when no entry matches.
func (s *Store) MarkAsRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	s.log.Each(func(n *model.Notification) bool {
		if n.ID == id {
			n.Read = true
			found = true
			return false
		}
		return true
	})
	return found
}

// MarkAllAsRead marks every entry as read and returns how many changed.
func (s *Store) MarkAllAsRead() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	s.log.Each(func(n *model.Notification) bool {
		if !n.Read {
			n.Read = true
			changed++
		}
		return true
	})
	return changed
}

// Clear empties the log.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Reset()
}
