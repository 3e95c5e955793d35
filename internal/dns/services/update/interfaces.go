package update

import (
	"github.com/nanodns/nanodns/internal/dns/domain"
	"github.com/nanodns/nanodns/internal/dns/repos/store"
)

// RecordStore is the mutable record set updates act on.
type RecordStore interface {
	UpsertDynamic(record domain.ResourceRecord, owner string) error
	DeleteDynamic(name string, rrtype domain.RRType, class domain.RRClass, owner string) error
}

// LeaseJournal persists accepted mutations so dynamic entries survive a
// restart. Implementations may be nil-safe no-ops.
type LeaseJournal interface {
	Put(entry store.Entry) error
	Delete(name string, rrtype domain.RRType, class domain.RRClass) error
}
