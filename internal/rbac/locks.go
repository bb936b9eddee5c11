package rbac

import "sync"

// keyMutex hands out one mutex per key so check-then-commit sequences for
// the same user or session serialize while distinct subjects proceed in
// parallel. Entries are not reclaimed; the population is bounded by live
// users and sessions.
type keyMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyMutex() *keyMutex {
	return &keyMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyMutex) lock(key string) *sync.Mutex {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m
}
