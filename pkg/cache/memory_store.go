package cache

import (
	"context"
	"sync"
	"time"

	"github.com/dealerdesk/kb-engine/pkg/models"
)

// MemoryStore is an in-process store for tests and cache-less deployments.
// Expired entries are purged lazily when a Get lands on them.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	namespace string
	value     []byte
	createdAt time.Time
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
	}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, namespace, input string) ([]byte, bool, error) {
	key := Key(namespace, input)

	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		// Re-check under the write lock; Set may have replaced the entry
		if current, ok := s.entries[key]; ok && time.Now().After(current.expiresAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, false, nil
	}

	return entry.value, true, nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, namespace, input string, value []byte, ttl time.Duration) error {
	now := time.Now()

	s.mu.Lock()
	s.entries[Key(namespace, input)] = &memoryEntry{
		namespace: namespace,
		value:     value,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
	s.mu.Unlock()
	return nil
}

// DeleteExpired implements Store.
func (s *MemoryStore) DeleteExpired(ctx context.Context) (int64, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := int64(len(s.entries))
	s.entries = make(map[string]*memoryEntry)
	return removed, nil
}

// Stats implements Store.
func (s *MemoryStore) Stats(ctx context.Context) (*models.CacheStats, error) {
	now := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &models.CacheStats{
		Backend:     "memory",
		ByNamespace: make(map[string]int),
	}
	for _, entry := range s.entries {
		stats.TotalEntries++
		stats.ByNamespace[entry.namespace]++
		if now.After(entry.expiresAt) {
			stats.Expired++
		}

		switch age := now.Sub(entry.createdAt); {
		case age < time.Hour:
			stats.AgeBuckets.UnderHour++
		case age < 6*time.Hour:
			stats.AgeBuckets.OneToSix++
		case age < 24*time.Hour:
			stats.AgeBuckets.SixToDay++
		default:
			stats.AgeBuckets.OverDay++
		}
	}

	return stats, nil
}

// Ensure MemoryStore implements Store at compile time.
var _ Store = (*MemoryStore)(nil)
