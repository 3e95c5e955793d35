// Package dnscache caches upstream answers between queries. Entries are
// TTL-bound copies of forwarded responses; expired records fall out lazily
// on access and the LRU bound caps memory.
package dnscache

import (
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nanodns/nanodns/internal/dns/domain"
)

var ErrMixedKeys = errors.New("records with different cache keys in one set")

// Cache is an in-memory TTL-aware LRU of upstream resource records. Each key
// holds the full record set of one (name, type, class) answer.
type Cache struct {
	lru *lru.Cache[string, []domain.ResourceRecord]
}

// New returns a Cache bounded to size keys.
func New(size int) (*Cache, error) {
	backing, err := lru.New[string, []domain.ResourceRecord](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: backing}, nil
}

// Set stores the record set under its shared cache key, replacing any
// previous records for that key. All records must share one key.
func (c *Cache) Set(records []domain.ResourceRecord) error {
	if len(records) == 0 {
		return nil
	}
	key := records[0].CacheKey()
	for _, rr := range records {
		if rr.CacheKey() != key {
			return ErrMixedKeys
		}
	}
	c.lru.Add(key, records)
	return nil
}

// Get returns the unexpired records for the key. Expired records are dropped
// from the stored set; a fully expired set removes the key.
func (c *Cache) Get(key string, now time.Time) ([]domain.ResourceRecord, bool) {
	records, found := c.lru.Get(key)
	if !found {
		return nil, false
	}

	var live []domain.ResourceRecord
	for _, rr := range records {
		if !rr.IsExpired(now) {
			live = append(live, rr)
		}
	}
	if len(live) == 0 {
		c.lru.Remove(key)
		return nil, false
	}
	if len(live) < len(records) {
		c.lru.Add(key, live)
	}
	return live, true
}

// Delete removes the entry for the key.
func (c *Cache) Delete(key string) {
	c.lru.Remove(key)
}

// Len returns the number of keys currently cached.
func (c *Cache) Len() int {
	return c.lru.Len()
}
