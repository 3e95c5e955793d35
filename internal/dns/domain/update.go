package domain

import (
	"fmt"
	"net"
)

// Update operations.
const (
	UpdateOpSet = "set"
	UpdateOpDel = "del"
)

// UpdateRequest is the decoded form of one dynamic-update datagram.
// It is transient: constructed by the protocol decoder, consumed by the
// authenticator, and discarded once a mutation or rejection is produced.
type UpdateRequest struct {
	KeyID      string
	Op         string
	Timestamp  int64 // unix seconds, client-asserted
	Host       string
	Type       RRType
	Value      string
	TTL        uint32
	Digest     string // lowercase hex HMAC over the canonical fields
	ClientAddr net.Addr
}

// Validate performs structural checks that need no key material.
func (r UpdateRequest) Validate() error {
	if r.Op != UpdateOpSet && r.Op != UpdateOpDel {
		return fmt.Errorf("unknown update op %q", r.Op)
	}
	if r.Host == "" {
		return fmt.Errorf("update host must not be empty")
	}
	if !r.Type.IsValid() || r.Type == RRTypeANY {
		return fmt.Errorf("unsupported update record type %s", r.Type)
	}
	if r.Op == UpdateOpSet && r.Value == "" {
		return fmt.Errorf("update value must not be empty")
	}
	if r.Digest == "" {
		return fmt.Errorf("update digest must not be empty")
	}
	return nil
}

// UpdateStatus is the result code carried by an update response datagram.
type UpdateStatus uint8

const (
	UpdateOK UpdateStatus = iota
	UpdateFormatError
	UpdateAuthError
	UpdateOwnershipError
	UpdateStaticConflict
	UpdateNotFound
	UpdateRefused
)

// String returns the wire token for the status.
func (s UpdateStatus) String() string {
	switch s {
	case UpdateOK:
		return "ok"
	case UpdateFormatError:
		return "format"
	case UpdateAuthError:
		return "auth"
	case UpdateOwnershipError:
		return "ownership"
	case UpdateStaticConflict:
		return "static"
	case UpdateNotFound:
		return "notfound"
	case UpdateRefused:
		return "refused"
	default:
		return fmt.Sprintf("status%d", uint8(s))
	}
}
