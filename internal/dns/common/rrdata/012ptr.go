package rrdata

// encodePTRData encodes a PTR record string into its binary representation.
func encodePTRData(data string) ([]byte, error) {
	// data = "host.example.com"
	return encodeDomainName(data)
}

// decodePTRData decodes a PTR record's RDATA into its target name.
func decodePTRData(b []byte) (string, error) {
	return decodeDomainName(b)
}
