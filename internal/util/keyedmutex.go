package util

import (
	"sync"
	"time"
)

// KeyedMutex provides one exclusive critical section per string key with a
// bounded wait. The audit ledger uses it per node id, the moderation engine
// per message and membership row. Lock slots are created lazily and never
// discarded; the key space (node ids, active rows) is small and recurring.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewKeyedMutex returns an empty keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{slots: make(map[string]chan struct{})}
}

func (m *KeyedMutex) slot(key string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		m.slots[key] = ch
	}
	return ch
}

// Lock acquires the critical section for key, waiting at most maxWait.
// It reports whether the lock was acquired.
func (m *KeyedMutex) Lock(key string, maxWait time.Duration) bool {
	ch := m.slot(key)
	select {
	case ch <- struct{}{}:
		return true
	default:
	}
	timer := time.NewTimer(maxWait)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

// Unlock releases the critical section for key. Unlocking a key that is
// not held is a programming error and panics.
func (m *KeyedMutex) Unlock(key string) {
	ch := m.slot(key)
	select {
	case <-ch:
	default:
		panic("util: unlock of unheld key " + key)
	}
}
