package handler

import (
	"bytes"
	"testing"
	"time"
)

func TestResultCache(t *testing.T) {
	cache := newResultCache(time.Minute)
	now := time.Now()
	key := cacheKey([]byte("%PDF-1.4 content"))

	if _, ok := cache.Get(key, now); ok {
		t.Fatal("expected miss on empty cache")
	}

	cache.Set(key, []byte{0xFF, 0xD8}, "report.jpg", now)

	entry, ok := cache.Get(key, now.Add(30*time.Second))
	if !ok {
		t.Fatal("expected hit before expiry")
	}
	if entry.filename != "report.jpg" || !bytes.Equal(entry.data, []byte{0xFF, 0xD8}) {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	if _, ok := cache.Get(key, now.Add(2*time.Minute)); ok {
		t.Fatal("expected miss after expiry")
	}
	// Expired entries are evicted on access.
	cache.mu.RLock()
	_, stillThere := cache.data[key]
	cache.mu.RUnlock()
	if stillThere {
		t.Fatal("expected expired entry removed")
	}
}

func TestCacheKey_DiffersByContent(t *testing.T) {
	a := cacheKey([]byte("document a"))
	b := cacheKey([]byte("document b"))
	if a == b {
		t.Fatal("expected distinct keys for distinct content")
	}
	if a != cacheKey([]byte("document a")) {
		t.Fatal("expected stable key for identical content")
	}
}
