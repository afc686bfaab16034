package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrInvalidGeneration is returned for empty or otherwise unusable generation names.
var ErrInvalidGeneration = errors.New("invalid generation name")

// CacheStore is a generation-keyed key/value store for serialized HTTP responses.
// A generation is a named, versioned set of entries, e.g. "pwa-shop-v2-runtime".
//
// Implementations must be thread-safe!
// Concurrent writes to different keys must not interfere with each other,
// and concurrent writes to the same key are serialized (last write wins).
type CacheStore interface {
	// Generations returns the names of all existing generations, oldest first.
	Generations(ctx context.Context) ([]string, error)
	// Open creates the generation if it does not exist yet.
	Open(ctx context.Context, generation string) error
	// Match returns the entry stored under key in the given generation.
	// The boolean is false if there is no such generation or entry.
	Match(ctx context.Context, generation, key string) (CacheEntry, bool, error)
	// Put upserts the entry into the generation, creating the generation if needed.
	Put(ctx context.Context, generation string, ce CacheEntry) error
	// Keys returns the keys stored in the generation, used to report its size.
	Keys(ctx context.Context, generation string) ([]string, error)
	// Delete removes the generation and all of its entries.
	// It reports whether the generation existed.
	Delete(ctx context.Context, generation string) (bool, error)
	// Close releases the resources held by the store.
	Close() error
}

type CacheEntry struct {
	Key      string
	StoredAt time.Time
	Bytes    []byte
}

func checkGeneration(generation string) error {
	if generation == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidGeneration)
	}
	for _, r := range generation {
		if r == 0 {
			return fmt.Errorf("%w: %q", ErrInvalidGeneration, generation)
		}
	}
	return nil
}

// MemCache keeps generations in memory for the lifetime of the process.
type MemCache struct {
	mutex *sync.RWMutex
	order []string
	db    map[string]map[string]CacheEntry
}

func NewMemCache() *MemCache {
	return &MemCache{
		mutex: &sync.RWMutex{},
		db:    make(map[string]map[string]CacheEntry),
	}
}

func (m *MemCache) Generations(ctx context.Context) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return append([]string(nil), m.order...), nil
}

func (m *MemCache) Open(ctx context.Context, generation string) error {
	if err := checkGeneration(generation); err != nil {
		return err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.openLocked(generation)
	return nil
}

func (m *MemCache) openLocked(generation string) map[string]CacheEntry {
	entries, ok := m.db[generation]
	if !ok {
		entries = make(map[string]CacheEntry)
		m.db[generation] = entries
		m.order = append(m.order, generation)
	}
	return entries
}

func (m *MemCache) Match(ctx context.Context, generation, key string) (CacheEntry, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entry, ok := m.db[generation][key]
	return entry, ok, nil
}

func (m *MemCache) Put(ctx context.Context, generation string, ce CacheEntry) error {
	if err := checkGeneration(generation); err != nil {
		return err
	}
	ce.Bytes = append([]byte(nil), ce.Bytes...)
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.openLocked(generation)[ce.Key] = ce
	return nil
}

func (m *MemCache) Keys(ctx context.Context, generation string) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	keys := make([]string, 0, len(m.db[generation]))
	for key := range m.db[generation] {
		keys = append(keys, key)
	}
	return keys, nil
}

func (m *MemCache) Delete(ctx context.Context, generation string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.db[generation]; !ok {
		return false, nil
	}
	delete(m.db, generation)
	for i, name := range m.order {
		if name == generation {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (m *MemCache) Close() error {
	return nil
}
