// Package update implements the dynamic record update protocol: a single
// text datagram per request, authenticated with a keyed digest over the
// request fields and answered with a single text datagram.
package update

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/nanodns/nanodns/internal/dns/domain"
)

// Magic is the protocol identifier and version. It doubles as the dispatch
// prefix that tells update datagrams apart from DNS queries on the shared
// socket: a DNS message never starts with these bytes, since they would put
// an answer count in the flags field and opcode 13 in the header.
const Magic = "ndns1"

// requestFields is the token count of a request datagram:
// magic keyid op timestamp host type value ttl digest
const requestFields = 9

// IsRequest reports whether the datagram is an update request rather than a
// DNS message.
func IsRequest(data []byte) bool {
	return bytes.HasPrefix(data, []byte(Magic+" "))
}

// ParseRequest decodes a request datagram. Field values are taken verbatim;
// canonicalization happens when the request is applied.
func ParseRequest(data []byte, clientAddr net.Addr) (domain.UpdateRequest, error) {
	fields := strings.Fields(string(data))
	if len(fields) != requestFields {
		return domain.UpdateRequest{}, fmt.Errorf("%w: expected %d fields, got %d", domain.ErrFormat, requestFields, len(fields))
	}
	if fields[0] != Magic {
		return domain.UpdateRequest{}, fmt.Errorf("%w: unknown protocol %q", domain.ErrFormat, fields[0])
	}

	ts, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return domain.UpdateRequest{}, fmt.Errorf("%w: bad timestamp %q", domain.ErrFormat, fields[3])
	}
	rrType := domain.RRTypeFromString(strings.ToUpper(fields[5]))
	if !rrType.IsValid() {
		return domain.UpdateRequest{}, fmt.Errorf("%w: unknown record type %q", domain.ErrFormat, fields[5])
	}
	ttl, err := strconv.ParseUint(fields[7], 10, 32)
	if err != nil {
		return domain.UpdateRequest{}, fmt.Errorf("%w: bad ttl %q", domain.ErrFormat, fields[7])
	}

	req := domain.UpdateRequest{
		KeyID:      fields[1],
		Op:         fields[2],
		Timestamp:  ts,
		Host:       fields[4],
		Type:       rrType,
		Value:      fields[6],
		TTL:        uint32(ttl),
		Digest:     strings.ToLower(fields[8]),
		ClientAddr: clientAddr,
	}
	if err := req.Validate(); err != nil {
		return domain.UpdateRequest{}, fmt.Errorf("%w: %v", domain.ErrFormat, err)
	}
	return req, nil
}

// digestInput builds the canonical byte string the digest covers. Both ends
// derive it from normalized fields, so the covered content and order are a
// fixed part of the protocol version.
func digestInput(r domain.UpdateRequest) string {
	return fmt.Sprintf("%s|%s|%s|%d|%s|%s|%s|%d",
		Magic, r.KeyID, r.Op, r.Timestamp, r.Host, r.Type, r.Value, r.TTL)
}

// ComputeDigest returns the lowercase hex HMAC-SHA256 of the request fields
// under the given secret.
func ComputeDigest(secret string, r domain.UpdateRequest) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(digestInput(r)))
	return hex.EncodeToString(mac.Sum(nil))
}

// OwnerKey derives the stable owner identity for a credential. Every request
// signed with the same secret and key id maps to the same owner; a client
// without the secret cannot produce it.
func OwnerKey(secret, keyID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("owner|" + keyID))
	return hex.EncodeToString(mac.Sum(nil)[:16])
}

// EncodeRequest serializes a request, computing its digest with the secret.
// Used by the client side.
func EncodeRequest(secret string, r domain.UpdateRequest) []byte {
	digest := ComputeDigest(secret, r)
	return []byte(fmt.Sprintf("%s %s %s %d %s %s %s %d %s",
		Magic, r.KeyID, r.Op, r.Timestamp, r.Host, r.Type, r.Value, r.TTL, digest))
}

// EncodeResponse serializes a response datagram: "ok <host> <value>" on
// success, "err <code> <message>" otherwise.
func EncodeResponse(status domain.UpdateStatus, host, value, message string) []byte {
	if status == domain.UpdateOK {
		return []byte(fmt.Sprintf("ok %s %s", host, value))
	}
	if message == "" {
		message = status.String()
	}
	return []byte(fmt.Sprintf("err %s %s", status, message))
}

// ParseResponse splits a response datagram into its outcome. Used by the
// client side.
func ParseResponse(data []byte) (ok bool, fields []string, err error) {
	parts := strings.Fields(string(data))
	if len(parts) < 2 {
		return false, nil, fmt.Errorf("%w: short response", domain.ErrFormat)
	}
	switch parts[0] {
	case "ok":
		return true, parts[1:], nil
	case "err":
		return false, parts[1:], nil
	default:
		return false, nil, fmt.Errorf("%w: unknown response %q", domain.ErrFormat, parts[0])
	}
}
