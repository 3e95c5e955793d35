package domain

import (
	"testing"
	"time"
)

func TestNewStaticResourceRecord_Valid(t *testing.T) {
	rr, err := NewStaticResourceRecord("Host.Example.COM.", RRTypeA, RRClassIN, 300, []byte{10, 0, 0, 5}, "10.0.0.5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rr.Name != "host.example.com" {
		t.Errorf("expected canonical name, got %q", rr.Name)
	}
	if !rr.IsStatic() {
		t.Error("expected static record")
	}
	if rr.IsExpired(time.Now().Add(100 * time.Hour)) {
		t.Error("static record must never expire")
	}
	if got := rr.TTL(time.Now()); got != 300 {
		t.Errorf("expected TTL 300, got %d", got)
	}
}

func TestNewStaticResourceRecord_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		rrName  string
		rrType  RRType
		class   RRClass
		data    []byte
		text    string
	}{
		{"empty name", "", RRTypeA, RRClassIN, []byte{1, 2, 3, 4}, "1.2.3.4"},
		{"zero type", "a.example.com", RRType(0), RRClassIN, []byte{1, 2, 3, 4}, "1.2.3.4"},
		{"any type", "a.example.com", RRTypeANY, RRClassIN, []byte{1, 2, 3, 4}, "1.2.3.4"},
		{"opt pseudo type", "a.example.com", RRTypeOPT, RRClassIN, []byte{1, 2, 3, 4}, "1.2.3.4"},
		{"unknown type without data", "a.example.com", RRType(65), RRClassIN, nil, "opaque"},
		{"bad class", "a.example.com", RRTypeA, RRClass(77), []byte{1, 2, 3, 4}, "1.2.3.4"},
		{"no data or text", "a.example.com", RRTypeA, RRClassIN, nil, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewStaticResourceRecord(tc.rrName, tc.rrType, tc.class, 60, tc.data, tc.text)
			if err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestResourceRecord_UnknownTypeCarriedWithData(t *testing.T) {
	// Types without an rdata codec are legal as long as the raw wire
	// bytes are present, so forwarded answers pass through unchanged.
	rr, err := NewExpiringResourceRecord("svc.example.com", RRType(65), RRClassIN, 60,
		[]byte{0x00, 0x01, 0x00}, "", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rr.Type != RRType(65) {
		t.Errorf("expected type 65, got %d", rr.Type)
	}
	if got := rr.Type.String(); got != "TYPE65" {
		t.Errorf("expected TYPE65, got %q", got)
	}
}

func TestExpiringResourceRecord_TTLCountsDown(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	rr, err := NewExpiringResourceRecord("dyn.example.com", RRTypeA, RRClassIN, 60, []byte{1, 2, 3, 4}, "1.2.3.4", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rr.IsStatic() {
		t.Error("expected expiring record")
	}
	if got := rr.TTL(now); got != 60 {
		t.Errorf("TTL at t0 = %d, want 60", got)
	}
	if got := rr.TTL(now.Add(25 * time.Second)); got != 35 {
		t.Errorf("TTL at t0+25s = %d, want 35", got)
	}
	if rr.IsExpired(now.Add(59 * time.Second)) {
		t.Error("record expired early")
	}
	if !rr.IsExpired(now.Add(60 * time.Second)) {
		t.Error("record should be expired at exactly t0+TTL")
	}
	if got := rr.TTL(now.Add(2 * time.Minute)); got != 0 {
		t.Errorf("TTL past expiry = %d, want 0", got)
	}
}

func TestGenerateCacheKey_Canonicalizes(t *testing.T) {
	a := GenerateCacheKey("Host.Example.COM.", RRTypeA, RRClassIN)
	b := GenerateCacheKey("host.example.com", RRTypeA, RRClassIN)
	if a != b {
		t.Errorf("cache keys differ: %q vs %q", a, b)
	}
	if a != "host.example.com|A|IN" {
		t.Errorf("unexpected cache key format: %q", a)
	}
}
