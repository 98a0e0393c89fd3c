package storage

import "sync"

// EventLocks serializes writers for the same event while letting
// different events proceed in parallel.
type EventLocks struct {
	mu    sync.Mutex
	locks map[string]*eventLock
}

type eventLock struct {
	mu   sync.Mutex
	refs int
}

// NewEventLocks creates an empty lock table
func NewEventLocks() *EventLocks {
	return &EventLocks{locks: make(map[string]*eventLock)}
}

// Lock blocks until the caller holds the lock for eventID and returns the unlock func
func (l *EventLocks) Lock(eventID string) func() {
	l.mu.Lock()
	lk, ok := l.locks[eventID]
	if !ok {
		lk = &eventLock{}
		l.locks[eventID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.mu.Lock()

	return func() {
		lk.mu.Unlock()

		l.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.locks, eventID)
		}
		l.mu.Unlock()
	}
}
