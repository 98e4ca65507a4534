package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Backend with per-entry TTL and LRU eviction.
// Expired entries are dropped on read and by a background sweep.
type MemoryStore struct {
	// entries maps cache keys to stored values
	entries map[string]*memoryEntry

	// maxEntries is the maximum number of entries (0 = unlimited)
	maxEntries int

	// onEvict is called after an LRU eviction
	onEvict func()

	mu sync.RWMutex

	stopCh    chan struct{}
	closeOnce sync.Once
	now       func() time.Time
}

type memoryEntry struct {
	value          []byte
	expiresAt      time.Time
	lastAccessedAt time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithEvictionHook registers fn to be called on every LRU eviction.
func WithEvictionHook(fn func()) MemoryOption {
	return func(s *MemoryStore) { s.onEvict = fn }
}

// WithCleanupInterval starts a background sweep of expired entries. Without
// it expired entries are only removed on access or by Cleanup.
func WithCleanupInterval(interval time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if interval > 0 {
			go s.cleanupLoop(interval)
		}
	}
}

// NewMemoryStore creates a store holding at most maxEntries values.
// If maxEntries is 0, the store has unlimited size.
func NewMemoryStore(maxEntries int, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries:    make(map[string]*memoryEntry),
		maxEntries: maxEntries,
		stopCh:     make(chan struct{}),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the value for key and refreshes its access time.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	now := s.now()
	if !now.Before(entry.expiresAt) {
		delete(s.entries, key)
		return nil, false, nil
	}
	entry.lastAccessedAt = now
	return entry.value, true, nil
}

// Set stores value under key. When the store is full and key is new, the
// least recently accessed entry is evicted first.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
		if _, exists := s.entries[key]; !exists {
			s.evictLRU()
		}
	}

	now := s.now()
	stored := make([]byte, len(value))
	copy(stored, value)
	s.entries[key] = &memoryEntry{
		value:          stored,
		expiresAt:      now.Add(ttl),
		lastAccessedAt: now,
	}
	return nil
}

// Delete removes key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// Cleanup removes expired entries.
func (s *MemoryStore) Cleanup(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of entries.
func (s *MemoryStore) Len(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close stops the background sweep.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() { close(s.stopCh) })
	return nil
}

// evictLRU evicts the least recently accessed entry.
// Must be called with write lock held.
func (s *MemoryStore) evictLRU() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range s.entries {
		if oldestKey == "" || entry.lastAccessedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.lastAccessedAt
		}
	}

	if oldestKey != "" {
		delete(s.entries, oldestKey)
		if s.onEvict != nil {
			s.onEvict()
		}
	}
}

func (s *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Cleanup(context.Background(), s.now())
		case <-s.stopCh:
			return
		}
	}
}
