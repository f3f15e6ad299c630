package presence

import "sync"

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// keyGuard serializes work per socket id.
// It uses reference counting to garbage collect unused locks, so a process that
// sees millions of short-lived connections does not accumulate mutexes.
type keyGuard struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

func newKeyGuard() *keyGuard {
	return &keyGuard{locks: make(map[string]*lockEntry)}
}

// acquire gets or creates a lock entry and increments its reference count.
func (g *keyGuard) acquire(key string) *lockEntry {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, exists := g.locks[key]
	if !exists {
		entry = &lockEntry{}
		g.locks[key] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (g *keyGuard) release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, exists := g.locks[key]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(g.locks, key)
	}
}

// with runs fn while holding the lock for key. Different keys never block each other.
func (g *keyGuard) with(key string, fn func()) {
	entry := g.acquire(key)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		g.release(key)
	}()
	fn()
}

func (g *keyGuard) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.locks)
}
