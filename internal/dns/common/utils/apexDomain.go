package utils

import "golang.org/x/net/publicsuffix"

// GetApexDomain returns the registrable apex for a name (eTLD+1), used to
// group static records by zone. Falls back to the canonical name when the
// public suffix list cannot parse it (single-label hosts, test zones).
func GetApexDomain(name string) string {
	name = CanonicalDNSName(name)
	apexDomain, err := publicsuffix.EffectiveTLDPlusOne(name)
	if err != nil {
		apexDomain = name
	}
	return apexDomain
}
