// Package cache provides TTL caching behind a small backend interface,
// with in-memory and on-disk implementations.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Cache is the backend contract. Get returns nil for missing or expired
// keys; a zero ttl means no expiry.
type Cache interface {
	Get(key string) any
	Set(key string, value any, ttl time.Duration) error
	Delete(key string) error
	Clear() error
	Exists(key string) bool
}

type memoryEntry struct {
	value     any
	expiresAt time.Time // zero = never
}

// Memory is an in-process cache with per-entry TTL.
type Memory struct {
	mu   sync.RWMutex
	data map[string]memoryEntry

	now func() time.Time
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]memoryEntry), now: time.Now}
}

func (m *Memory) Get(key string) any {
	m.mu.RLock()
	entry, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		m.mu.Lock()
		delete(m.data, key)
		m.mu.Unlock()
		return nil
	}
	return entry.value
}

func (m *Memory) Set(key string, value any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ttl < 0 {
		delete(m.data, key)
		return nil
	}
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.data[key] = entry
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]memoryEntry)
	return nil
}

func (m *Memory) Exists(key string) bool {
	return m.Get(key) != nil
}

// Manager is a convenience facade over any backend.
type Manager struct {
	backend Cache
}

// NewManager wraps a backend.
func NewManager(backend Cache) *Manager {
	return &Manager{backend: backend}
}

// Backend returns the wrapped cache.
func (m *Manager) Backend() Cache { return m.backend }

// GetOrSet returns the cached value on a hit; on a miss it runs factory,
// caches the result, and returns it. A factory error is returned without
// caching anything.
func (m *Manager) GetOrSet(key string, factory func() (any, error), ttl time.Duration) (any, error) {
	if cached := m.backend.Get(key); cached != nil {
		return cached, nil
	}
	value, err := factory()
	if err != nil {
		return nil, err
	}
	if err := m.backend.Set(key, value, ttl); err != nil {
		return nil, err
	}
	return value, nil
}

// Key builds a deterministic cache key from a prefix and arguments.
func Key(prefix string, args ...any) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = fmt.Sprintf("%#v", arg)
	}
	digest := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return prefix + ":" + hex.EncodeToString(digest[:])
}
