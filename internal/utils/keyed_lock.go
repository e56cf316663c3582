package utils

import "sync"

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// KeyedLock hands out one mutex per key. An entry lives only while someone holds
// or waits for it, so the map never grows beyond the keys currently in use.
type KeyedLock struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

// NewKeyedLock creates an empty lock set
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{entries: make(map[string]*keyedEntry)}
}

// Lock acquires the mutex for key and returns its unlock func. The returned func
// must be called exactly once.
func (k *KeyedLock) Lock(key string) func() {
	k.mu.Lock()
	entry, exists := k.entries[key]
	if !exists {
		entry = &keyedEntry{}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Unlock()

			k.mu.Lock()
			entry.refs--
			if entry.refs == 0 {
				delete(k.entries, key)
			}
			k.mu.Unlock()
		})
	}
}

// Len number of keys currently held or waited on
func (k *KeyedLock) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
