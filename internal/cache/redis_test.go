package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/doppelganger/personaprep/internal/filter"
	"github.com/doppelganger/personaprep/pkg/config"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(&config.RedisConfig{URL: "redis://" + mr.Addr(), Enabled: true}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestHashKey(t *testing.T) {
	tests := []struct {
		name  string
		parts []string
	}{
		{
			name:  "single part",
			parts: []string{"test"},
		},
		{
			name:  "multiple parts",
			parts: []string{"test", "key", "with", "many", "parts"},
		},
		{
			name:  "empty parts",
			parts: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hashed1 := HashKey(tt.parts...)
			hashed2 := HashKey(tt.parts...)

			// Hash should be consistent
			if hashed1 != hashed2 {
				t.Errorf("HashKey() should be consistent, got %s and %s", hashed1, hashed2)
			}

			// Hash should be 32 characters (MD5 hex)
			if len(hashed1) != 32 {
				t.Errorf("HashKey() should return 32 character hex string, got length %d", len(hashed1))
			}
		})
	}

	if HashKey("ab", "c") == HashKey("a", "bc") {
		t.Error("HashKey() should separate parts")
	}
}

func TestCache_NamespaceKey(t *testing.T) {
	cache := &Cache{}

	tests := []struct {
		name     string
		key      string
		expected string
	}{
		{
			name:     "simple key",
			key:      "test",
			expected: "personaprep:test",
		},
		{
			name:     "key with colon",
			key:      "lang:abc",
			expected: "personaprep:lang:abc",
		},
		{
			name:     "empty key",
			key:      "",
			expected: "personaprep:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := cache.namespaceKey(tt.key)
			if result != tt.expected {
				t.Errorf("namespaceKey() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestCacheDisabled(t *testing.T) {
	c, err := New(&config.RedisConfig{}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c != nil {
		t.Fatal("New() should return nil cache when disabled")
	}
	ctx := context.Background()
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrCacheDisabled) {
		t.Errorf("Get() error = %v, want ErrCacheDisabled", err)
	}
	if err := c.Set(ctx, "k", "v", time.Minute); !errors.Is(err, ErrCacheDisabled) {
		t.Errorf("Set() error = %v, want ErrCacheDisabled", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestCacheGetSet(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	if _, err := c.Get(ctx, "missing"); !errors.Is(err, ErrMiss) {
		t.Errorf("Get(missing) error = %v, want ErrMiss", err)
	}
	if err := c.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if !mr.Exists("personaprep:k") {
		t.Error("key should be stored under the namespace")
	}
	got, err := c.Get(ctx, "k")
	if err != nil || got != "v" {
		t.Errorf("Get(k) = %q, %v, want v", got, err)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Errorf("Get(k) after ttl error = %v, want ErrMiss", err)
	}

	if err := c.Health(ctx); err != nil {
		t.Errorf("Health() error = %v", err)
	}
}

type countingDetector struct {
	lang  string
	err   error
	calls int
}

func (d *countingDetector) Detect(string) (string, error) {
	d.calls++
	return d.lang, d.err
}

func TestCachedDetector(t *testing.T) {
	c, _ := newTestCache(t)
	next := &countingDetector{lang: "en"}
	d := NewCachedDetector(next, c, time.Hour, nil)

	for i := 0; i < 3; i++ {
		lang, err := d.Detect("a sentence worth detecting")
		if err != nil || lang != "en" {
			t.Fatalf("Detect() = %q, %v, want en", lang, err)
		}
	}
	if next.calls != 1 {
		t.Errorf("wrapped detector called %d times, want 1", next.calls)
	}
}

func TestCachedDetectorUndetermined(t *testing.T) {
	c, _ := newTestCache(t)
	next := &countingDetector{err: filter.ErrUndetermined}
	d := NewCachedDetector(next, c, time.Hour, nil)

	for i := 0; i < 2; i++ {
		if _, err := d.Detect("???"); !errors.Is(err, filter.ErrUndetermined) {
			t.Fatalf("Detect() error = %v, want ErrUndetermined", err)
		}
	}
	if next.calls != 1 {
		t.Errorf("wrapped detector called %d times, want 1", next.calls)
	}
}

func TestCachedDetectorRedisDown(t *testing.T) {
	c, mr := newTestCache(t)
	next := &countingDetector{lang: "en"}
	d := NewCachedDetector(next, c, time.Hour, nil)

	mr.Close()
	lang, err := d.Detect("still works without redis")
	if err != nil || lang != "en" {
		t.Errorf("Detect() = %q, %v, want en", lang, err)
	}
}

func TestNewCachedDetectorNilCache(t *testing.T) {
	next := &countingDetector{lang: "en"}
	if d := NewCachedDetector(next, nil, time.Hour, nil); d != filter.LanguageDetector(next) {
		t.Error("nil cache should return the wrapped detector")
	}
}
