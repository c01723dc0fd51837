package reconcile

import (
	"sync"

	"example.com/progression/internal/calendar"
)

type lockKey struct {
	accountID string
	date      calendar.Date
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// keyedMutex serialises work per (account, date) inside one process. Entries
// are dropped once no goroutine holds or waits on them.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[lockKey]*lockEntry
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[lockKey]*lockEntry)}
}

func (k *keyedMutex) lock(key lockKey) func() {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &lockEntry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
