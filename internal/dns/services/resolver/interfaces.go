package resolver

import (
	"net"
	"time"

	"github.com/nanodns/nanodns/internal/dns/domain"
)

// RecordSource answers questions from locally held records.
type RecordSource interface {
	Lookup(q domain.Question, now time.Time) ([]domain.ResourceRecord, bool)
}

// Cache holds upstream answers between queries.
type Cache interface {
	Get(key string, now time.Time) ([]domain.ResourceRecord, bool)
	Set(records []domain.ResourceRecord) error
}

// PacketSender transmits one datagram to an address. The resolver never
// blocks on it; implementations write to an already-open socket.
type PacketSender interface {
	Send(data []byte, addr net.Addr) error
}
