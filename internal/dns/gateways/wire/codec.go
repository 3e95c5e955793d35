package wire

import (
	"time"

	"github.com/nanodns/nanodns/internal/dns/domain"
)

// MaxDatagramSize is the safe payload size for a plain DNS UDP datagram.
// Responses that would exceed it are truncated and flagged TC.
const MaxDatagramSize = 512

// Codec translates between domain.Message and the RFC 1035 wire format.
// Decode treats its input as attacker-controlled: any structural defect is
// reported as an error wrapping domain.ErrFormat, never a panic. now anchors
// the TTL of decoded records and the remaining TTL of encoded ones.
type Codec interface {
	Encode(msg domain.Message, now time.Time) ([]byte, error)
	Decode(data []byte, now time.Time) (domain.Message, error)
}
