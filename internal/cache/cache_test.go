package cache

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestMemoryBasicOps(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	if got := m.Get("missing"); got != nil {
		t.Errorf("Get(missing) = %v", got)
	}

	if err := m.Set("k", "v", 0); err != nil {
		t.Fatal(err)
	}
	if got := m.Get("k"); got != "v" {
		t.Errorf("Get(k) = %v", got)
	}
	if !m.Exists("k") {
		t.Error("Exists(k) = false")
	}

	if err := m.Delete("k"); err != nil {
		t.Fatal(err)
	}
	if m.Exists("k") {
		t.Error("key survived Delete")
	}

	_ = m.Set("a", 1, 0)
	_ = m.Set("b", 2, 0)
	if err := m.Clear(); err != nil {
		t.Fatal(err)
	}
	if m.Exists("a") || m.Exists("b") {
		t.Error("keys survived Clear")
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	current := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }

	_ = m.Set("k", "v", time.Minute)
	if m.Get("k") != "v" {
		t.Fatal("fresh entry missing")
	}

	current = current.Add(time.Minute)
	if got := m.Get("k"); got != nil {
		t.Errorf("expired entry still returned: %v", got)
	}
	if m.Exists("k") {
		t.Error("expired entry still exists")
	}

	// negative ttl removes the key outright
	_ = m.Set("gone", "v", 0)
	_ = m.Set("gone", "v", -time.Second)
	if m.Exists("gone") {
		t.Error("negative ttl should delete the key")
	}
}

func newFileCache(t *testing.T) *File {
	t.Helper()
	f, err := NewFile(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestFileRoundTrip(t *testing.T) {
	t.Parallel()

	f := newFileCache(t)
	value := map[string]any{"symbol": "CB001", "close": 101.5}
	if err := f.Set("bars:CB001", value, 0); err != nil {
		t.Fatal(err)
	}

	got, ok := f.Get("bars:CB001").(map[string]any)
	if !ok {
		t.Fatalf("Get = %v", f.Get("bars:CB001"))
	}
	if got["symbol"] != "CB001" || got["close"] != 101.5 {
		t.Errorf("round-trip mismatch: %v", got)
	}
}

func TestFileNaming(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	f, err := NewFile(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Set("some/key with:odd*chars", 1, 0); err != nil {
		t.Fatal(err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "cache_*.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("files = %v, want one cache file", matches)
	}
	name := filepath.Base(matches[0])
	// cache_ + 64 hex chars + .json
	if len(name) != len("cache_")+64+len(".json") || !strings.HasPrefix(name, "cache_") {
		t.Errorf("unexpected file name %q", name)
	}
}

func TestFileExpiryRemovesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	f, err := NewFile(dir)
	if err != nil {
		t.Fatal(err)
	}
	current := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return current }

	if err := f.Set("k", "v", time.Minute); err != nil {
		t.Fatal(err)
	}

	current = current.Add(2 * time.Minute)
	if got := f.Get("k"); got != nil {
		t.Errorf("expired value returned: %v", got)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "cache_*"))
	if len(matches) != 0 {
		t.Errorf("expired file not removed: %v", matches)
	}
}

func TestFileCorruptRecordIsMiss(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	f, err := NewFile(dir)
	if err != nil {
		t.Fatal(err)
	}
	_ = f.Set("k", "v", 0)

	matches, _ := filepath.Glob(filepath.Join(dir, "cache_*.json"))
	if len(matches) != 1 {
		t.Fatal("expected one cache file")
	}
	if err := os.WriteFile(matches[0], []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := f.Get("k"); got != nil {
		t.Errorf("corrupt record should read as miss, got %v", got)
	}
}

func TestFileClear(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	f, err := NewFile(dir)
	if err != nil {
		t.Fatal(err)
	}
	_ = f.Set("a", 1, 0)
	_ = f.Set("b", 2, 0)
	// unrelated files survive Clear
	other := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(other, []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := f.Clear(); err != nil {
		t.Fatal(err)
	}
	if f.Exists("a") || f.Exists("b") {
		t.Error("entries survived Clear")
	}
	if _, err := os.Stat(other); err != nil {
		t.Error("Clear removed an unrelated file")
	}
}

func TestManagerGetOrSet(t *testing.T) {
	t.Parallel()

	m := NewManager(NewMemory())
	calls := 0
	factory := func() (any, error) {
		calls++
		return "computed", nil
	}

	got, err := m.GetOrSet("k", factory, 0)
	if err != nil || got != "computed" {
		t.Fatalf("GetOrSet = %v, %v", got, err)
	}
	got, err = m.GetOrSet("k", factory, 0)
	if err != nil || got != "computed" {
		t.Fatalf("GetOrSet (hit) = %v, %v", got, err)
	}
	if calls != 1 {
		t.Errorf("factory ran %d times, want 1", calls)
	}
}

func TestManagerGetOrSetFactoryError(t *testing.T) {
	t.Parallel()

	m := NewManager(NewMemory())
	wantErr := errors.New("fetch failed")
	_, err := m.GetOrSet("k", func() (any, error) { return nil, wantErr }, 0)
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v", err)
	}
	if m.Backend().Exists("k") {
		t.Error("failed factory result must not be cached")
	}
}

func TestKeyDeterministic(t *testing.T) {
	t.Parallel()

	a := Key("bars", "CB001", "2024-01-01", "2024-06-30")
	b := Key("bars", "CB001", "2024-01-01", "2024-06-30")
	c := Key("bars", "CB002", "2024-01-01", "2024-06-30")
	if a != b {
		t.Error("same inputs should produce the same key")
	}
	if a == c {
		t.Error("different inputs should produce different keys")
	}
	if !strings.HasPrefix(a, "bars:") {
		t.Errorf("key = %q, want bars: prefix", a)
	}
}
