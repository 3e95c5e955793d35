// Package store holds the authoritative record set: static records loaded
// from configuration, grouped by zone apex, plus dynamic entries registered
// through the update protocol. Dynamic entries carry an owner key and an
// expiry lease and shadow static records at lookup time.
//
// The store is owned by a single goroutine (the event loop) and performs no
// internal locking.
package store

import (
	"strings"
	"time"

	"github.com/nanodns/nanodns/internal/dns/common/utils"
	"github.com/nanodns/nanodns/internal/dns/domain"
)

// Origin distinguishes where a stored record came from.
type Origin int

const (
	OriginStatic Origin = iota
	OriginDynamic
)

// Entry is a dynamic registration: the record itself, the owner key of the
// client that created it, and the absolute end of its lease.
type Entry struct {
	Record    domain.ResourceRecord
	Owner     string
	ExpiresAt time.Time
}

// Store is the in-memory record set.
type Store struct {
	zones   map[string]map[string][]domain.ResourceRecord // zone apex -> CacheKey -> records
	dynamic map[string]Entry                              // CacheKey -> entry
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		zones:   make(map[string]map[string][]domain.ResourceRecord),
		dynamic: make(map[string]Entry),
	}
}

// Lookup returns the records answering the question at the given time.
// Dynamic entries take precedence over static records with the same key.
// Expired dynamic entries are invisible but left in place for Sweep.
func (s *Store) Lookup(q domain.Question, now time.Time) ([]domain.ResourceRecord, bool) {
	name := utils.CanonicalDNSName(q.Name)

	if q.Type == domain.RRTypeANY {
		return s.lookupAny(name, q.Class, now)
	}

	key := domain.GenerateCacheKey(name, q.Type, q.Class)
	if e, ok := s.dynamic[key]; ok && !e.Record.IsExpired(now) {
		return []domain.ResourceRecord{e.Record}, true
	}

	zone := utils.GetApexDomain(name)
	if records, ok := s.zones[zone][key]; ok && len(records) > 0 {
		out := make([]domain.ResourceRecord, len(records))
		copy(out, records)
		return out, true
	}
	return nil, false
}

// lookupAny collects every record type registered for the name.
func (s *Store) lookupAny(name string, class domain.RRClass, now time.Time) ([]domain.ResourceRecord, bool) {
	prefix := name + "|"
	classSuffix := "|" + class.String()
	seen := make(map[string]bool)
	var out []domain.ResourceRecord

	for key, e := range s.dynamic {
		if strings.HasPrefix(key, prefix) && strings.HasSuffix(key, classSuffix) && !e.Record.IsExpired(now) {
			out = append(out, e.Record)
			seen[key] = true
		}
	}
	zone := utils.GetApexDomain(name)
	for key, records := range s.zones[zone] {
		if strings.HasPrefix(key, prefix) && strings.HasSuffix(key, classSuffix) && !seen[key] {
			out = append(out, records...)
		}
	}
	return out, len(out) > 0
}

// HasStatic reports whether a static record covers the given key.
func (s *Store) HasStatic(name string, rrtype domain.RRType, class domain.RRClass) bool {
	name = utils.CanonicalDNSName(name)
	key := domain.GenerateCacheKey(name, rrtype, class)
	records, ok := s.zones[utils.GetApexDomain(name)][key]
	return ok && len(records) > 0
}

// UpsertDynamic registers or refreshes a dynamic record. The record must
// carry an expiry lease. Keys covered by static configuration cannot be
// claimed; an existing registration can only be replaced by its owner.
func (s *Store) UpsertDynamic(record domain.ResourceRecord, owner string) error {
	expiresAt, ok := record.ExpiresAt()
	if !ok {
		return domain.ErrFormat
	}
	if s.HasStatic(record.Name, record.Type, record.Class) {
		return domain.ErrStaticConflict
	}
	key := record.CacheKey()
	if existing, found := s.dynamic[key]; found && existing.Owner != owner {
		return domain.ErrOwnership
	}
	s.dynamic[key] = Entry{Record: record, Owner: owner, ExpiresAt: expiresAt}
	return nil
}

// DeleteDynamic removes a dynamic registration. Only the owner that created
// it may remove it; static records are never deletable this way.
func (s *Store) DeleteDynamic(name string, rrtype domain.RRType, class domain.RRClass, owner string) error {
	if s.HasStatic(name, rrtype, class) {
		return domain.ErrStaticConflict
	}
	key := domain.GenerateCacheKey(utils.CanonicalDNSName(name), rrtype, class)
	existing, found := s.dynamic[key]
	if !found {
		return domain.ErrNotFound
	}
	if existing.Owner != owner {
		return domain.ErrOwnership
	}
	delete(s.dynamic, key)
	return nil
}

// Sweep removes dynamic entries whose lease ended at or before now and
// returns them. Static records are never swept.
func (s *Store) Sweep(now time.Time) []Entry {
	var removed []Entry
	for key, e := range s.dynamic {
		if e.Record.IsExpired(now) {
			removed = append(removed, e)
			delete(s.dynamic, key)
		}
	}
	return removed
}

// NextExpiry returns the earliest dynamic lease end, if any entries exist.
func (s *Store) NextExpiry() (time.Time, bool) {
	var next time.Time
	found := false
	for _, e := range s.dynamic {
		if !found || e.ExpiresAt.Before(next) {
			next = e.ExpiresAt
			found = true
		}
	}
	return next, found
}

// ReplaceStatic swaps the entire static set for the given records, grouping
// them by zone apex. Dynamic entries are untouched.
func (s *Store) ReplaceStatic(records []domain.ResourceRecord) {
	zones := make(map[string]map[string][]domain.ResourceRecord)
	for _, rr := range records {
		zone := utils.GetApexDomain(rr.Name)
		if zones[zone] == nil {
			zones[zone] = make(map[string][]domain.ResourceRecord)
		}
		key := rr.CacheKey()
		zones[zone][key] = append(zones[zone][key], rr)
	}
	s.zones = zones
}

// PutZone replaces the static records of a single zone.
func (s *Store) PutZone(zoneRoot string, records []domain.ResourceRecord) {
	zoneRoot = utils.CanonicalDNSName(zoneRoot)
	zoneMap := make(map[string][]domain.ResourceRecord)
	for _, rr := range records {
		zoneMap[rr.CacheKey()] = append(zoneMap[rr.CacheKey()], rr)
	}
	s.zones[zoneRoot] = zoneMap
}

// RemoveZone drops all static records of a zone.
func (s *Store) RemoveZone(zoneRoot string) {
	delete(s.zones, utils.CanonicalDNSName(zoneRoot))
}

// DynamicEntries returns a snapshot of the current dynamic registrations,
// used for lease persistence.
func (s *Store) DynamicEntries() []Entry {
	out := make([]Entry, 0, len(s.dynamic))
	for _, e := range s.dynamic {
		out = append(out, e)
	}
	return out
}

// RestoreDynamic loads previously persisted dynamic entries, skipping any
// whose lease already ended and any key covered by static configuration.
func (s *Store) RestoreDynamic(entries []Entry, now time.Time) int {
	loaded := 0
	for _, e := range entries {
		if e.Record.IsExpired(now) {
			continue
		}
		if s.HasStatic(e.Record.Name, e.Record.Type, e.Record.Class) {
			continue
		}
		s.dynamic[e.Record.CacheKey()] = e
		loaded++
	}
	return loaded
}

// StaticCount returns the number of static records across all zones.
func (s *Store) StaticCount() int {
	n := 0
	for _, zone := range s.zones {
		for _, records := range zone {
			n += len(records)
		}
	}
	return n
}

// DynamicCount returns the number of dynamic registrations, expired or not.
func (s *Store) DynamicCount() int {
	return len(s.dynamic)
}
