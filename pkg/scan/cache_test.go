package scan

import (
	"testing"
	"time"

	"github.com/campushq/asset-server/pkg/s"
)

func TestVerdictCacheDisabled(t *testing.T) {
	cache := NewVerdictCache(0)
	if cache != nil {
		t.Fatal("Expected nil cache when TTL is zero")
	}

	// nil cache is safe to use and remembers nothing
	cache.Put("b", "k", "etag", s.ScanVerdict{Status: s.ScanStatusClean})
	if _, ok := cache.Get("b", "k", "etag"); ok {
		t.Error("Expected no cache hit from a nil cache")
	}
	if cache.Len() != 0 {
		t.Errorf("Expected length 0, got %d", cache.Len())
	}
}

func TestVerdictCacheNeverStoresInfected(t *testing.T) {
	cache := NewVerdictCache(time.Minute)

	cache.Put("b", "k", "etag", s.ScanVerdict{Status: s.ScanStatusInfected, Signature: "Eicar-Test-Signature"})
	if _, ok := cache.Get("b", "k", "etag"); ok {
		t.Error("Infected verdicts must never be cached")
	}

	cache.Put("b", "k", "etag", s.ScanVerdict{Status: s.ScanStatusClean})
	if _, ok := cache.Get("b", "k", "etag"); !ok {
		t.Error("Expected cache hit for clean verdict")
	}
}

func TestVerdictCacheKeyedByETag(t *testing.T) {
	cache := NewVerdictCache(time.Minute)

	cache.Put("b", "k", "etag-1", s.ScanVerdict{Status: s.ScanStatusClean})
	if _, ok := cache.Get("b", "k", "etag-2"); ok {
		t.Error("Expected cache miss for a different etag")
	}
}

func TestVerdictCacheExpiry(t *testing.T) {
	cache := NewVerdictCache(50 * time.Millisecond)

	cache.Put("b", "k", "etag", s.ScanVerdict{Status: s.ScanStatusClean})
	if _, ok := cache.Get("b", "k", "etag"); !ok {
		t.Fatal("Expected cache hit before expiry")
	}

	time.Sleep(100 * time.Millisecond)
	if _, ok := cache.Get("b", "k", "etag"); ok {
		t.Error("Expected cache miss after TTL expiry")
	}
}
