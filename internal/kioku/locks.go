package kioku

import "sync"

// DeckLocks hands out one mutex per deck so that manifest read-modify-write
// cycles from editing and from sync never interleave on the same deck.
type DeckLocks struct {
	mu    sync.Mutex
	locks map[DeckKey]*sync.Mutex
}

// NewDeckLocks creates an empty lock registry.
func NewDeckLocks() *DeckLocks {
	return &DeckLocks{locks: make(map[DeckKey]*sync.Mutex)}
}

// Lock acquires the mutex of key and returns its unlock function.
func (l *DeckLocks) Lock(key DeckKey) func() {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
