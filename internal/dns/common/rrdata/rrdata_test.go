package rrdata

import (
	"bytes"
	"testing"

	"github.com/nanodns/nanodns/internal/dns/domain"
)

func TestEncodeAData(t *testing.T) {
	tests := []struct {
		input    string
		expected []byte
	}{
		{"192.168.0.1", []byte{192, 168, 0, 1}},
		{"8.8.8.8", []byte{8, 8, 8, 8}},
		{"127.0.0.1", []byte{127, 0, 0, 1}},
	}
	for _, tt := range tests {
		got, err := encodeAData(tt.input)
		if err != nil {
			t.Errorf("encodeAData(%q) returned error: %v", tt.input, err)
		}
		if !bytes.Equal(got, tt.expected) {
			t.Errorf("encodeAData(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestEncodeAData_Invalid(t *testing.T) {
	for _, input := range []string{"not.an.ip", "256.256.256.256", "::1", ""} {
		if _, err := encodeAData(input); err == nil {
			t.Errorf("encodeAData(%q) expected error, got nil", input)
		}
	}
}

func TestEncodeAAAAData_Invalid(t *testing.T) {
	for _, input := range []string{"1.2.3.4", "zz::1", ""} {
		if _, err := encodeAAAAData(input); err == nil {
			t.Errorf("encodeAAAAData(%q) expected error, got nil", input)
		}
	}
}

func TestRoundTrip_AllTypes(t *testing.T) {
	tests := []struct {
		rrType domain.RRType
		text   string
	}{
		{domain.RRTypeA, "93.184.216.34"},
		{domain.RRTypeAAAA, "2001:db8::ff00:42:8329"},
		{domain.RRTypeNS, "ns1.example.com"},
		{domain.RRTypeCNAME, "target.example.com"},
		{domain.RRTypePTR, "host.example.com"},
		{domain.RRTypeMX, "10 mail.example.com"},
		{domain.RRTypeSRV, "0 5 5060 sip.example.com"},
		{domain.RRTypeSOA, "ns1.example.com hostmaster.example.com 2024010101 7200 3600 1209600 300"},
	}
	for _, tt := range tests {
		t.Run(tt.rrType.String(), func(t *testing.T) {
			data, err := Encode(tt.rrType, tt.text)
			if err != nil {
				t.Fatalf("Encode(%s, %q) error: %v", tt.rrType, tt.text, err)
			}
			got, err := Decode(tt.rrType, data)
			if err != nil {
				t.Fatalf("Decode(%s) error: %v", tt.rrType, err)
			}
			if got != tt.text {
				t.Errorf("round trip mismatch: got %q, want %q", got, tt.text)
			}
		})
	}
}

func TestTXT_MultipleSegments(t *testing.T) {
	data, err := encodeTXTData("v=spf1 -all; second segment")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// two length-prefixed segments
	if data[0] != byte(len("v=spf1 -all")) {
		t.Errorf("first segment length = %d", data[0])
	}
	text, err := decodeTXTData(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "v=spf1 -all; second segment" {
		t.Errorf("decoded %q", text)
	}
}

func TestDecode_Truncated(t *testing.T) {
	cases := []struct {
		rrType domain.RRType
		data   []byte
	}{
		{domain.RRTypeA, []byte{1, 2}},
		{domain.RRTypeAAAA, []byte{1, 2, 3}},
		{domain.RRTypeMX, []byte{0}},
		{domain.RRTypeSRV, []byte{0, 1, 0, 2}},
		{domain.RRTypeSOA, []byte{3, 'a', 'b', 'c', 0}},
		{domain.RRTypeTXT, []byte{200, 'x'}},
	}
	for _, tc := range cases {
		if _, err := Decode(tc.rrType, tc.data); err == nil {
			t.Errorf("Decode(%s, % x) expected error, got nil", tc.rrType, tc.data)
		}
	}
}

func TestEncode_UnsupportedType(t *testing.T) {
	if _, err := Encode(domain.RRTypeANY, "whatever"); err == nil {
		t.Error("expected error for ANY encoding")
	}
	if _, err := Decode(domain.RRTypeANY, []byte{1}); err == nil {
		t.Error("expected error for ANY decoding")
	}
}

func TestEncodeDomainName_LabelTooLong(t *testing.T) {
	label := make([]byte, 64)
	for i := range label {
		label[i] = 'a'
	}
	if _, err := encodeDomainName(string(label) + ".example.com"); err == nil {
		t.Error("expected error for 64-byte label")
	}
}
