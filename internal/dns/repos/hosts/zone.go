package hosts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/nanodns/nanodns/internal/dns/common/rrdata"
	"github.com/nanodns/nanodns/internal/dns/common/utils"
	"github.com/nanodns/nanodns/internal/dns/domain"
)

// LoadZoneDirectory walks dir, loading every supported zone file (YAML,
// JSON, TOML) and returning zone roots mapped to their static records.
// A single bad file fails the load so a typo cannot silently drop a zone.
func LoadZoneDirectory(dir string, defaultTTL uint32) (map[string][]domain.ResourceRecord, error) {
	zones := make(map[string][]domain.ResourceRecord)

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		root, records, err := loadZoneFile(path, defaultTTL)
		if err != nil {
			return fmt.Errorf("zone file %s: %w", path, err)
		}
		if root != "" && len(records) > 0 {
			zones[root] = append(zones[root], records...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return zones, nil
}

// loadZoneFile parses one zone file, returning its root and records. Files
// with unsupported extensions are skipped silently.
//
// The expected shape is a map of record names to {type: value} maps plus a
// required top-level "zone_root" key. Names expand relative to the root:
// "@" is the root itself, names without a trailing dot get the root
// appended, absolute names pass through.
func loadZoneFile(path string, defaultTTL uint32) (string, []domain.ResourceRecord, error) {
	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	case ".toml":
		parser = toml.Parser()
	default:
		return "", nil, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return "", nil, fmt.Errorf("load: %w", err)
	}

	root := utils.CanonicalDNSName(k.String("zone_root"))
	if root == "" {
		return "", nil, fmt.Errorf("missing 'zone_root'")
	}

	var records []domain.ResourceRecord
	for name, raw := range k.Raw() {
		if name == "zone_root" {
			continue
		}
		rawMap, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		fqdn := utils.CanonicalDNSName(expandName(name, root))
		for rrType, val := range rawMap {
			values := toStringValues(val)
			if len(values) == 0 {
				continue
			}
			recs, err := buildRecords(fqdn, rrType, values, defaultTTL)
			if err != nil {
				return "", nil, fmt.Errorf("record %s: %w", fqdn, err)
			}
			records = append(records, recs...)
		}
	}
	return root, records, nil
}

// expandName qualifies a zone-file label against the zone root.
func expandName(label, root string) string {
	if label == "@" {
		return root
	}
	if strings.HasSuffix(label, ".") {
		return strings.TrimSuffix(label, ".")
	}
	return label + "." + root
}

// toStringValues flattens a parsed value (string or list of strings) into
// trimmed non-empty strings. Anything else yields nil and is skipped.
func toStringValues(val any) []string {
	switch v := val.(type) {
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil
		}
		return []string{s}
	case []any:
		out := make([]string, 0, len(v))
		for _, elem := range v {
			s, ok := elem.(string)
			if !ok {
				continue
			}
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			out = append(out, s)
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return nil
	}
}

// buildRecords creates one static ResourceRecord per value.
func buildRecords(fqdn, rrType string, values []string, defaultTTL uint32) ([]domain.ResourceRecord, error) {
	rType := domain.RRTypeFromString(rrType)
	var records []domain.ResourceRecord
	for _, s := range values {
		data, err := rrdata.Encode(rType, s)
		if err != nil {
			return nil, err
		}
		rr, err := domain.NewStaticResourceRecord(fqdn, rType, domain.RRClassIN, defaultTTL, data, s)
		if err != nil {
			return nil, err
		}
		records = append(records, rr)
	}
	return records, nil
}
