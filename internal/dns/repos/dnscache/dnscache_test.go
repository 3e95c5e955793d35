package dnscache

import (
	"errors"
	"testing"
	"time"

	"github.com/nanodns/nanodns/internal/dns/domain"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func cachedA(t *testing.T, name, ip string, ttl uint32, now time.Time) domain.ResourceRecord {
	t.Helper()
	rr, err := domain.NewExpiringResourceRecord(name, domain.RRTypeA, domain.RRClassIN, ttl, nil, ip, now)
	if err != nil {
		t.Fatalf("NewExpiringResourceRecord: %v", err)
	}
	return rr
}

func TestInvalidCacheSize(t *testing.T) {
	if _, err := New(-1); err == nil {
		t.Error("expected error for negative cache size, got nil")
	}
}

func TestCache_GetReturnsLiveRecords(t *testing.T) {
	cache, err := New(4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rr := cachedA(t, "example.com", "192.0.2.1", 60, t0)
	if err := cache.Set([]domain.ResourceRecord{rr}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok := cache.Get(rr.CacheKey(), t0.Add(30*time.Second))
	if !ok {
		t.Fatal("expected record to be found")
	}
	if len(got) != 1 || got[0].Text != "192.0.2.1" {
		t.Errorf("unexpected records: %v", got)
	}
}

func TestCache_GetEvictsExpired(t *testing.T) {
	cache, err := New(4)
	if err != nil {
		t.Fatal(err)
	}
	rr := cachedA(t, "expired.example.com", "192.0.2.1", 30, t0)
	if err := cache.Set([]domain.ResourceRecord{rr}); err != nil {
		t.Fatal(err)
	}

	if got, ok := cache.Get(rr.CacheKey(), t0.Add(31*time.Second)); ok {
		t.Errorf("expected expired record to miss, got %v", got)
	}
	if cache.Len() != 0 {
		t.Errorf("expected cache emptied after expired Get, got %d keys", cache.Len())
	}
}

func TestCache_GetFiltersPartiallyExpiredSet(t *testing.T) {
	cache, err := New(4)
	if err != nil {
		t.Fatal(err)
	}
	short := cachedA(t, "mixed.example.com", "192.0.2.1", 30, t0)
	long := cachedA(t, "mixed.example.com", "192.0.2.2", 300, t0)
	if err := cache.Set([]domain.ResourceRecord{short, long}); err != nil {
		t.Fatal(err)
	}

	got, ok := cache.Get(short.CacheKey(), t0.Add(60*time.Second))
	if !ok {
		t.Fatal("expected surviving record to be found")
	}
	if len(got) != 1 || got[0].Text != "192.0.2.2" {
		t.Errorf("expected only the long-lived record, got %v", got)
	}
}

func TestCache_SetRejectsMixedKeys(t *testing.T) {
	cache, err := New(4)
	if err != nil {
		t.Fatal(err)
	}
	err = cache.Set([]domain.ResourceRecord{
		cachedA(t, "a.example.com", "192.0.2.1", 60, t0),
		cachedA(t, "b.example.com", "192.0.2.2", 60, t0),
	})
	if !errors.Is(err, ErrMixedKeys) {
		t.Errorf("expected ErrMixedKeys, got %v", err)
	}
}

func TestCache_SetEmptyIsNoop(t *testing.T) {
	cache, err := New(4)
	if err != nil {
		t.Fatal(err)
	}
	if err := cache.Set(nil); err != nil {
		t.Errorf("Set(nil) returned %v", err)
	}
	if cache.Len() != 0 {
		t.Errorf("expected empty cache, got %d", cache.Len())
	}
}

func TestCache_LRUEviction(t *testing.T) {
	cache, err := New(2)
	if err != nil {
		t.Fatal(err)
	}
	a := cachedA(t, "a.example.com", "192.0.2.1", 600, t0)
	b := cachedA(t, "b.example.com", "192.0.2.2", 600, t0)
	c := cachedA(t, "c.example.com", "192.0.2.3", 600, t0)
	for _, rr := range []domain.ResourceRecord{a, b, c} {
		if err := cache.Set([]domain.ResourceRecord{rr}); err != nil {
			t.Fatal(err)
		}
	}

	if cache.Len() != 2 {
		t.Fatalf("expected 2 keys after eviction, got %d", cache.Len())
	}
	if _, ok := cache.Get(a.CacheKey(), t0); ok {
		t.Error("expected oldest key evicted")
	}
	if _, ok := cache.Get(c.CacheKey(), t0); !ok {
		t.Error("expected newest key present")
	}
}

func TestCache_Delete(t *testing.T) {
	cache, err := New(4)
	if err != nil {
		t.Fatal(err)
	}
	rr := cachedA(t, "gone.example.com", "192.0.2.1", 600, t0)
	if err := cache.Set([]domain.ResourceRecord{rr}); err != nil {
		t.Fatal(err)
	}
	cache.Delete(rr.CacheKey())
	if _, ok := cache.Get(rr.CacheKey(), t0); ok {
		t.Error("expected deleted key to miss")
	}
}
