package domain

import (
	"fmt"
	"time"

	"github.com/nanodns/nanodns/internal/dns/common/utils"
)

// ResourceRecord represents a single DNS resource record.
// Records are immutable values once constructed. Static records carry a
// fixed TTL and never expire from memory; cached and dynamic records carry
// an absolute expiration so the remaining TTL shrinks as time passes.
type ResourceRecord struct {
	Name      string
	Type      RRType
	Class     RRClass
	ttl       uint32
	expiresAt *time.Time // nil for static records
	Data      []byte     // wire-encoded RDATA
	Text      string     // presentation form of the RDATA
}

// NewStaticResourceRecord constructs a non-expiring ResourceRecord, used for
// entries loaded from static configuration.
func NewStaticResourceRecord(name string, rrtype RRType, class RRClass, ttl uint32, data []byte, text string) (ResourceRecord, error) {
	rr := ResourceRecord{
		Name:      utils.CanonicalDNSName(name),
		Type:      rrtype,
		Class:     class,
		ttl:       ttl,
		expiresAt: nil,
		Data:      data,
		Text:      text,
	}
	if err := rr.Validate(); err != nil {
		return ResourceRecord{}, err
	}
	return rr, nil
}

// NewExpiringResourceRecord constructs a ResourceRecord whose lease ends at
// now+ttl. Used for dynamic registrations and cached upstream answers.
// The caller supplies now so expiry stays under test control.
func NewExpiringResourceRecord(name string, rrtype RRType, class RRClass, ttl uint32, data []byte, text string, now time.Time) (ResourceRecord, error) {
	exp := now.Add(time.Duration(ttl) * time.Second)
	rr := ResourceRecord{
		Name:      utils.CanonicalDNSName(name),
		Type:      rrtype,
		Class:     class,
		ttl:       ttl,
		expiresAt: &exp,
		Data:      data,
		Text:      text,
	}
	if err := rr.Validate(); err != nil {
		return ResourceRecord{}, err
	}
	return rr, nil
}

// Validate checks whether the ResourceRecord fields are valid.
func (rr ResourceRecord) Validate() error {
	if rr.Name == "" {
		return fmt.Errorf("record name must not be empty")
	}
	if rr.Type == 0 || rr.Type == RRTypeANY || rr.Type == RRTypeOPT {
		return fmt.Errorf("invalid RRType: %d", rr.Type)
	}
	// Types without an rdata codec are carried opaquely (RFC 3597) and
	// need the wire bytes.
	if !rr.Type.IsValid() && len(rr.Data) == 0 {
		return fmt.Errorf("unknown RRType %d requires wire data", rr.Type)
	}
	if !rr.Class.IsValid() {
		return fmt.Errorf("invalid RRClass: %d", rr.Class)
	}
	if rr.Text == "" && len(rr.Data) == 0 {
		return fmt.Errorf("either Text or Data must be set")
	}
	return nil
}

// TTL returns the effective TTL in seconds at the given time.
// Static records report their configured TTL; expiring records report the
// remaining lease, clamped at zero.
func (rr ResourceRecord) TTL(now time.Time) uint32 {
	if rr.expiresAt == nil {
		return rr.ttl
	}
	remaining := rr.expiresAt.Sub(now).Seconds()
	if remaining <= 0 {
		return 0
	}
	return uint32(remaining)
}

// ExpiresAt returns the absolute expiry time and whether the record expires.
func (rr ResourceRecord) ExpiresAt() (time.Time, bool) {
	if rr.expiresAt == nil {
		return time.Time{}, false
	}
	return *rr.expiresAt, true
}

// IsExpired returns true if the record's lease has ended at the given time.
func (rr ResourceRecord) IsExpired(now time.Time) bool {
	if rr.expiresAt == nil {
		return false
	}
	return !now.Before(*rr.expiresAt)
}

// IsStatic returns true if the record has no expiration time set.
func (rr ResourceRecord) IsStatic() bool {
	return rr.expiresAt == nil
}

// CacheKey returns a cache key string derived from the record's name, type, and class.
func (rr ResourceRecord) CacheKey() string {
	return GenerateCacheKey(rr.Name, rr.Type, rr.Class)
}

// GenerateCacheKey returns a string key derived from name, type, and class.
func GenerateCacheKey(name string, t RRType, c RRClass) string {
	return fmt.Sprintf("%s|%s|%s", utils.CanonicalDNSName(name), t, c)
}
