package dispatch

import "sync"

// recordLocks serialises status updates per record id. Unrelated ids never
// contend, and entries are dropped once nobody holds or waits for them.
type recordLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newRecordLocks() *recordLocks {
	return &recordLocks{entries: map[string]*lockEntry{}}
}

func (l *recordLocks) lock(id string) func() {
	l.mu.Lock()
	entry := l.entries[id]
	if entry == nil {
		entry = &lockEntry{}
		l.entries[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, id)
		}
		l.mu.Unlock()
	}
}

func (l *recordLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
