// Package bolt persists dynamic record leases across restarts. Entries are
// written on every mutation and reloaded at startup; leases that ended while
// the server was down are dropped on load.
package bolt

import (
	"encoding/json"
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/nanodns/nanodns/internal/dns/domain"
	"github.com/nanodns/nanodns/internal/dns/repos/store"
)

var bucketLeases = []byte("leases")

// leaseRow is the stored shape of one dynamic entry.
type leaseRow struct {
	Name      string    `json:"name"`
	Type      uint16    `json:"type"`
	Class     uint16    `json:"class"`
	Text      string    `json:"text"`
	Data      []byte    `json:"data,omitempty"`
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LeaseStore is a bbolt-backed journal of dynamic registrations.
type LeaseStore struct {
	db *bbolt.DB
}

// Open opens (or creates) the lease database at path.
func Open(path string) (*LeaseStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open lease db: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketLeases)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init lease db: %w", err)
	}
	return &LeaseStore{db: db}, nil
}

// Close closes the database.
func (s *LeaseStore) Close() error { return s.db.Close() }

// Put records or refreshes a lease keyed by the record's cache key.
func (s *LeaseStore) Put(e store.Entry) error {
	row := leaseRow{
		Name:      e.Record.Name,
		Type:      uint16(e.Record.Type),
		Class:     uint16(e.Record.Class),
		Text:      e.Record.Text,
		Data:      e.Record.Data,
		Owner:     e.Owner,
		ExpiresAt: e.ExpiresAt,
	}
	value, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal lease: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketLeases).Put([]byte(e.Record.CacheKey()), value)
	})
}

// Delete removes a lease by record key. Missing keys are not an error.
func (s *LeaseStore) Delete(name string, rrtype domain.RRType, class domain.RRClass) error {
	key := domain.GenerateCacheKey(name, rrtype, class)
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketLeases).Delete([]byte(key))
	})
}

// Load returns all stored leases still alive at the given time and prunes
// the rest from the database.
func (s *LeaseStore) Load(now time.Time) ([]store.Entry, error) {
	var entries []store.Entry
	var expired [][]byte

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketLeases).ForEach(func(k, v []byte) error {
			var row leaseRow
			if err := json.Unmarshal(v, &row); err != nil {
				// unreadable rows are pruned rather than failing startup
				expired = append(expired, append([]byte(nil), k...))
				return nil
			}
			if !row.ExpiresAt.After(now) {
				expired = append(expired, append([]byte(nil), k...))
				return nil
			}
			ttl := uint32(row.ExpiresAt.Sub(now).Seconds())
			rr, err := domain.NewExpiringResourceRecord(
				row.Name, domain.RRType(row.Type), domain.RRClass(row.Class),
				ttl, row.Data, row.Text, now)
			if err != nil {
				expired = append(expired, append([]byte(nil), k...))
				return nil
			}
			entries = append(entries, store.Entry{Record: rr, Owner: row.Owner, ExpiresAt: row.ExpiresAt})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load leases: %w", err)
	}

	if len(expired) > 0 {
		err = s.db.Update(func(tx *bbolt.Tx) error {
			b := tx.Bucket(bucketLeases)
			for _, k := range expired {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("prune leases: %w", err)
		}
	}
	return entries, nil
}

// Count returns the number of stored leases, alive or not.
func (s *LeaseStore) Count() (int, error) {
	n := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketLeases).Stats().KeyN
		return nil
	})
	return n, err
}
