// Package hosts loads the static record set from /etc/hosts-style files and
// from directories of structured zone files, and re-reads them on change.
package hosts

import (
	"bufio"
	"io"
	"net"
	"strings"

	logpkg "github.com/nanodns/nanodns/internal/dns/common/log"
	"github.com/nanodns/nanodns/internal/dns/common/rrdata"
	"github.com/nanodns/nanodns/internal/dns/common/utils"
	"github.com/nanodns/nanodns/internal/dns/domain"
)

// ParseHostsFile parses "ip name [name ...]" lines into static A/AAAA records.
//
// Behavior:
// - Comments start with '#' (whole-line or inline); blank lines are skipped
// - The address field decides the record type: IPv4 -> A, IPv6 -> AAAA
// - Names are canonicalized; invalid names and addresses are skipped with a
//   debug log, never failing the whole file
// - De-duplicates by (name, type), first occurrence wins
func ParseHostsFile(r io.Reader, source string, logger logpkg.Logger, defaultTTL uint32) ([]domain.ResourceRecord, error) {
	scanner := bufio.NewScanner(r)

	seen := make(map[string]struct{})
	out := make([]domain.ResourceRecord, 0, 64)

	logger.Debug(map[string]any{"source": source}, "parse_hosts_start")

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimPrefix(scanner.Text(), "\ufeff")

		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			logger.Debug(map[string]any{"line": lineNum}, "hosts_no_hostnames")
			continue
		}

		addr := fields[0]
		ip := net.ParseIP(addr)
		if ip == nil {
			logger.Debug(map[string]any{"line": lineNum, "addr": addr}, "hosts_skip_bad_address")
			continue
		}
		rrType := domain.RRTypeAAAA
		if ip.To4() != nil {
			rrType = domain.RRTypeA
		}

		for _, raw := range fields[1:] {
			name := utils.CanonicalDNSName(raw)
			if !utils.IsValidHostname(name) {
				logger.Debug(map[string]any{"line": lineNum, "name": raw}, "hosts_skip_invalid_name")
				continue
			}
			seenKey := name + "|" + rrType.String()
			if _, ok := seen[seenKey]; ok {
				logger.Debug(map[string]any{"line": lineNum, "name": name}, "hosts_skip_duplicate")
				continue
			}

			data, err := rrdata.Encode(rrType, addr)
			if err != nil {
				logger.Debug(map[string]any{"line": lineNum, "addr": addr, "error": err.Error()}, "hosts_skip_encode_error")
				continue
			}
			rr, err := domain.NewStaticResourceRecord(name, rrType, domain.RRClassIN, defaultTTL, data, addr)
			if err != nil {
				logger.Debug(map[string]any{"line": lineNum, "name": name, "error": err.Error()}, "hosts_skip_constructor_error")
				continue
			}
			out = append(out, rr)
			seen[seenKey] = struct{}{}
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Debug(map[string]any{"source": source, "error": err.Error()}, "parse_hosts_scan_error")
		return nil, err
	}

	logger.Debug(map[string]any{"source": source, "count": len(out)}, "parse_hosts_done")
	return out, nil
}
