package storage

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	resp      StoredResponse
	expiresAt time.Time
}

// MemoryCache is the replay cache used when no Redis host is configured.
// Entries live only as long as the process.
type MemoryCache struct {
	mu        sync.Mutex
	ttl       time.Duration
	entries   map[string]memoryEntry
	nextSweep time.Time
	now       func() time.Time
}

// NewMemoryCache creates an in-process replay cache
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Lookup returns the response stored for key, if any
func (m *MemoryCache) Lookup(ctx context.Context, key string) (*StoredResponse, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if m.now().After(entry.expiresAt) {
		delete(m.entries, key)
		return nil, false, nil
	}
	resp := entry.resp
	return &resp, true, nil
}

// Store records resp for key unless a live response is already stored
func (m *MemoryCache) Store(ctx context.Context, key string, resp *StoredResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweep(now)

	if entry, ok := m.entries[key]; ok && !now.After(entry.expiresAt) {
		return nil
	}
	m.entries[key] = memoryEntry{resp: *resp, expiresAt: now.Add(m.ttl)}
	return nil
}

// sweep drops expired entries at most once per TTL; the caller holds mu
func (m *MemoryCache) sweep(now time.Time) {
	if now.Before(m.nextSweep) {
		return
	}
	for key, entry := range m.entries {
		if now.After(entry.expiresAt) {
			delete(m.entries, key)
		}
	}
	m.nextSweep = now.Add(m.ttl)
}
