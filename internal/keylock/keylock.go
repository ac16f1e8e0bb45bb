// Package keylock serializes work per key while letting distinct keys proceed
// concurrently. Entries are reference counted and dropped when the last holder
// or waiter leaves, so the map only holds keys that are in use.
package keylock

import (
	"context"
	"sync"
)

type entry struct {
	sem  chan struct{}
	refs int
}

// Map is a set of named mutexes. The zero value is ready to use.
type Map struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Lock blocks until key is free or ctx is done. Waiters are served in no
// particular order. The returned function releases the lock and must be
// called exactly once.
func (m *Map) Lock(ctx context.Context, key string) (func(), error) {
	e := m.acquire(key)
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		m.release(key, e)
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			m.release(key, e)
		})
	}, nil
}

// TryLock acquires key only if it is free.
func (m *Map) TryLock(key string) (func(), bool) {
	e := m.acquire(key)
	select {
	case e.sem <- struct{}{}:
	default:
		m.release(key, e)
		return nil, false
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			m.release(key, e)
		})
	}, true
}

// Len reports how many keys are currently held or awaited.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Map) acquire(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = make(map[string]*entry)
	}
	e, ok := m.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		m.entries[key] = e
	}
	e.refs++
	return e
}

func (m *Map) release(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
}
