package update

import (
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanodns/nanodns/internal/dns/domain"
)

var clientAddr = &net.UDPAddr{IP: net.ParseIP("203.0.113.7"), Port: 40000}

func sampleRequest() domain.UpdateRequest {
	return domain.UpdateRequest{
		KeyID:     "default",
		Op:        domain.UpdateOpSet,
		Timestamp: 1748779200,
		Host:      "laptop.example.com",
		Type:      domain.RRTypeA,
		Value:     "192.0.2.10",
		TTL:       300,
	}
}

func TestIsRequest(t *testing.T) {
	assert.True(t, IsRequest([]byte("ndns1 default set 1 host A 1.2.3.4 60 abc")))
	assert.False(t, IsRequest([]byte("ndns2 default set")))
	assert.False(t, IsRequest([]byte{0x12, 0x34, 0x01, 0x00}))
	assert.False(t, IsRequest([]byte("ndns1"))) // no following space
}

func TestEncodeParseRequestRoundTrip(t *testing.T) {
	req := sampleRequest()
	wire := EncodeRequest("s3cret", req)
	assert.True(t, IsRequest(wire))

	parsed, err := ParseRequest(wire, clientAddr)
	require.NoError(t, err)

	assert.Equal(t, req.KeyID, parsed.KeyID)
	assert.Equal(t, req.Op, parsed.Op)
	assert.Equal(t, req.Timestamp, parsed.Timestamp)
	assert.Equal(t, req.Host, parsed.Host)
	assert.Equal(t, req.Type, parsed.Type)
	assert.Equal(t, req.Value, parsed.Value)
	assert.Equal(t, req.TTL, parsed.TTL)
	assert.Equal(t, ComputeDigest("s3cret", req), parsed.Digest)
	assert.Equal(t, clientAddr, parsed.ClientAddr)
}

func TestParseRequest_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"too few fields", "ndns1 default set 100"},
		{"too many fields", "ndns1 a b c d e f g h i"},
		{"wrong magic", "ndns0 default set 100 h A 1.2.3.4 60 ff"},
		{"bad timestamp", "ndns1 default set soon h A 1.2.3.4 60 ff"},
		{"bad type", "ndns1 default set 100 h BOGUS 1.2.3.4 60 ff"},
		{"bad ttl", "ndns1 default set 100 h A 1.2.3.4 never ff"},
		{"bad op", "ndns1 default rm 100 h A 1.2.3.4 60 ff"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRequest([]byte(tt.input), clientAddr)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrFormat), "expected ErrFormat, got %v", err)
		})
	}
}

func TestComputeDigest_Deterministic(t *testing.T) {
	req := sampleRequest()
	d1 := ComputeDigest("secret", req)
	d2 := ComputeDigest("secret", req)
	assert.Equal(t, d1, d2)
	assert.Equal(t, strings.ToLower(d1), d1)
	assert.Len(t, d1, 64) // hex sha256

	// any field change moves the digest
	altered := req
	altered.Value = "192.0.2.11"
	assert.NotEqual(t, d1, ComputeDigest("secret", altered))

	// a different secret moves the digest
	assert.NotEqual(t, d1, ComputeDigest("other", req))
}

func TestOwnerKey(t *testing.T) {
	a := OwnerKey("secret", "default")
	assert.Equal(t, a, OwnerKey("secret", "default"))
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, OwnerKey("secret", "other-key"))
	assert.NotEqual(t, a, OwnerKey("other-secret", "default"))
}

func TestEncodeParseResponse(t *testing.T) {
	ok, fields, err := ParseResponse(EncodeResponse(domain.UpdateOK, "host.example.com", "192.0.2.1", ""))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"host.example.com", "192.0.2.1"}, fields)

	ok, fields, err = ParseResponse(EncodeResponse(domain.UpdateAuthError, "", "", "authentication failed"))
	require.NoError(t, err)
	assert.False(t, ok)
	require.NotEmpty(t, fields)
	assert.Equal(t, "auth", fields[0])

	_, _, err = ParseResponse([]byte("huh"))
	assert.Error(t, err)
}
