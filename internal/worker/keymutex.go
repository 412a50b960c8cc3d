package worker

import "sync"

// KeyMutex serializes goroutines per key. Updates to one incident take
// its key's lock while unrelated incidents proceed in parallel.
type KeyMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewKeyMutex() *KeyMutex {
	return &KeyMutex{locks: make(map[string]*keyLock)}
}

func (km *KeyMutex) Lock(key string) {
	km.mu.Lock()
	l, ok := km.locks[key]
	if !ok {
		l = &keyLock{}
		km.locks[key] = l
	}
	l.refs++
	km.mu.Unlock()

	l.mu.Lock()
}

// Unlock releases key's lock. The entry is dropped once no goroutine
// holds or waits for it, keeping the map bounded by live keys.
func (km *KeyMutex) Unlock(key string) {
	km.mu.Lock()
	l, ok := km.locks[key]
	if !ok {
		km.mu.Unlock()
		panic("worker: unlock of unlocked key " + key)
	}
	l.refs--
	if l.refs == 0 {
		delete(km.locks, key)
	}
	km.mu.Unlock()

	l.mu.Unlock()
}

// LockPair acquires both keys in lexical order so two goroutines
// locking the same pair in opposite directions cannot deadlock.
func (km *KeyMutex) LockPair(a, b string) {
	if a == b {
		km.Lock(a)
		return
	}
	if b < a {
		a, b = b, a
	}
	km.Lock(a)
	km.Lock(b)
}

func (km *KeyMutex) UnlockPair(a, b string) {
	if a == b {
		km.Unlock(a)
		return
	}
	if b < a {
		a, b = b, a
	}
	km.Unlock(b)
	km.Unlock(a)
}
