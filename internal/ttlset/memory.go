package ttlset

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	insertedAt time.Time
	expiresAt  time.Time // zero: no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Memory is an in-process Set. Expired keys are dropped lazily on access
// and in bulk every gcEvery inserts. Safe for concurrent use.
type Memory struct {
	// Now is the clock; nil means time.Now. Tests override it.
	Now func() time.Time

	mu      sync.Mutex
	entries map[string]entry
	inserts uint64
}

const gcEvery = 1000

// NewMemory returns an empty in-memory set.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry)}
}

func (m *Memory) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// InsertIfAbsent implements Set.
func (m *Memory) InsertIfAbsent(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = make(map[string]entry)
	}

	m.inserts++
	if m.inserts >= gcEvery {
		for k, e := range m.entries {
			if e.expired(now) {
				delete(m.entries, k)
			}
		}
		m.inserts = 0
	}

	if e, ok := m.entries[key]; ok && !e.expired(now) {
		return false, nil
	}
	e := entry{insertedAt: now}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	m.entries[key] = e
	return true, nil
}

// Contains implements Set.
func (m *Memory) Contains(_ context.Context, key string) (bool, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	if e.expired(now) {
		delete(m.entries, key)
		return false, nil
	}
	return true, nil
}

// Delete implements Set.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// PurgeOlderThan implements Set. Expired entries are dropped as well.
func (m *Memory) PurgeOlderThan(_ context.Context, maxAge time.Duration) (int, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.entries {
		if e.expired(now) || now.Sub(e.insertedAt) > maxAge {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
