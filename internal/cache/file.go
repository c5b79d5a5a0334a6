package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// fileRecord is the on-disk entry shape. ExpiresAt is unix seconds; nil
// means the entry never expires.
type fileRecord struct {
	ExpiresAt *float64 `json:"expires_at"`
	Value     any      `json:"value"`
}

// File is a filesystem cache. Each key lives in its own file named
// cache_<hex-sha256-of-key>.json so keys never collide with path rules.
// Values round-trip through JSON, so callers get back generic JSON types
// (map[string]any, []any, float64, string, bool).
type File struct {
	mu  sync.Mutex
	dir string

	now func() time.Time
}

// NewFile creates a file cache rooted at dir, creating it if needed.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	return &File{dir: dir, now: time.Now}, nil
}

func (f *File) Get(key string) any {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.pathFor(key)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var record fileRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil
	}
	if record.ExpiresAt != nil && float64(f.now().Unix()) >= *record.ExpiresAt {
		_ = os.Remove(path)
		return nil
	}
	return record.Value
}

func (f *File) Set(key string, value any, ttl time.Duration) error {
	if ttl < 0 {
		return f.Delete(key)
	}

	record := fileRecord{Value: value}
	if ttl > 0 {
		expires := float64(f.now().Add(ttl).Unix())
		record.ExpiresAt = &expires
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode cache record: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// write to a temp file then rename so readers never see partial data
	path := f.pathFor(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace cache file: %w", err)
	}
	return nil
}

func (f *File) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.pathFor(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete cache file: %w", err)
	}
	return nil
}

func (f *File) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(f.dir, "cache_*"))
	if err != nil {
		return fmt.Errorf("failed to list cache files: %w", err)
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete cache file: %w", err)
		}
	}
	return nil
}

func (f *File) Exists(key string) bool {
	return f.Get(key) != nil
}

func (f *File) pathFor(key string) string {
	digest := sha256.Sum256([]byte(key))
	return filepath.Join(f.dir, "cache_"+hex.EncodeToString(digest[:])+".json")
}
