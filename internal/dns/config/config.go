// Package config loads server settings from NANODNS_-prefixed environment
// variables layered over defaults, and validates them before anything binds
// a socket. Configuration problems are the only fatal errors in the server.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// AppConfig holds all server settings.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// Listen is the address the server binds, in ip:port format.
	Listen string `koanf:"listen" validate:"required,ip_port"`

	// Servers lists upstream DNS servers in ip:port format. Empty disables
	// forwarding; unknown names are then answered NXDOMAIN.
	Servers []string `koanf:"servers" validate:"omitempty,dive,ip_port"`

	// UpstreamTimeoutSeconds bounds each upstream attempt.
	UpstreamTimeoutSeconds uint `koanf:"upstream_timeout_seconds" validate:"required,gte=1,lte=60"`

	// UpstreamRetries is how many times a timed-out query is re-sent before
	// the client gets a server failure.
	UpstreamRetries uint `koanf:"upstream_retries" validate:"lte=5"`

	// CacheSize bounds the upstream answer cache, in keys.
	CacheSize uint `koanf:"cache_size" validate:"required,gte=1"`

	// MaxCacheTTLSeconds caps how long an upstream answer may be reused.
	MaxCacheTTLSeconds uint `koanf:"max_cache_ttl_seconds" validate:"required,gte=1"`

	// HostsFile is an optional hosts-format static table, watched for
	// changes while the server runs.
	HostsFile string `koanf:"hosts_file"`

	// ZoneDir is an optional directory of yaml/json/toml zone files.
	ZoneDir string `koanf:"zone_dir"`

	// StaticTTLSeconds is the TTL served for static records.
	StaticTTLSeconds uint `koanf:"static_ttl_seconds" validate:"required,gte=1"`

	// UpdateKeys maps credential ids to shared secrets ("id:secret" pairs).
	// Empty disables the dynamic update protocol.
	UpdateKeys []string `koanf:"update_keys" validate:"omitempty,dive,key_secret"`

	// UpdateWindowSeconds is the freshness window for update timestamps,
	// applied in both directions.
	UpdateWindowSeconds uint `koanf:"update_window_seconds" validate:"required,gte=1"`

	// UpdateDefaultTTLSeconds is the lease length for set requests that
	// carry ttl 0.
	UpdateDefaultTTLSeconds uint `koanf:"update_default_ttl_seconds" validate:"required,gte=1"`

	// UpdateMaxTTLSeconds caps requested lease lengths. 0 leaves them uncapped.
	UpdateMaxTTLSeconds uint `koanf:"update_max_ttl_seconds"`

	// LeaseDB is an optional bbolt file persisting dynamic leases across
	// restarts.
	LeaseDB string `koanf:"lease_db"`

	// PendingCapacity bounds in-flight forwarded queries; overflow is
	// answered REFUSED. Capped at 65535, the uint16 transaction id space.
	PendingCapacity uint `koanf:"pending_capacity" validate:"required,gte=1,lte=65535"`

	// QueueSize bounds each socket's receive channel.
	QueueSize uint `koanf:"queue_size" validate:"required,gte=1"`

	// DrainCap bounds how many ready datagrams one loop iteration takes
	// from a single channel.
	DrainCap uint `koanf:"drain_cap" validate:"required,gte=1"`
}

// DEFAULT_APP_CONFIG holds the settings used where the environment is silent.
var DEFAULT_APP_CONFIG = AppConfig{
	Env:                     "prod",
	LogLevel:                "info",
	Listen:                  "0.0.0.0:53",
	Servers:                 []string{"1.1.1.1:53", "1.0.0.1:53"},
	UpstreamTimeoutSeconds:  10,
	UpstreamRetries:         1,
	CacheSize:               1000,
	MaxCacheTTLSeconds:      3600,
	StaticTTLSeconds:        300,
	UpdateWindowSeconds:     600,
	UpdateDefaultTTLSeconds: 300,
	UpdateMaxTTLSeconds:     86400,
	PendingCapacity:         4096,
	QueueSize:               256,
	DrainCap:                64,
}

// validIPPort accepts "ip:port" with a literal IP and a port in 1..65535.
func validIPPort(fl validator.FieldLevel) bool {
	addr := fl.Field().String()
	ip, port, err := net.SplitHostPort(addr)
	if err != nil || ip == "" || port == "" {
		return false
	}
	if net.ParseIP(ip) == nil {
		return false
	}
	portNum, err := strconv.ParseUint(port, 10, 16)
	return err == nil && portNum > 0 && portNum < 65536
}

// validKeySecret accepts "id:secret" with both halves non-empty.
func validKeySecret(fl validator.FieldLevel) bool {
	id, secret, found := strings.Cut(fl.Field().String(), ":")
	return found && id != "" && secret != ""
}

// envLoader reads NANODNS_-prefixed variables. List-valued settings accept
// space or comma separation. Overridable in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: "NANODNS_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, "NANODNS_"))
			value = strings.TrimSpace(value)

			if value == "" {
				return key, value
			}
			if strings.Contains(value, " ") || strings.Contains(value, ",") {
				parts := strings.FieldsFunc(value, func(r rune) bool {
					return r == ' ' || r == ','
				})
				return key, parts
			}
			return key, value
		},
	}), nil)
}

var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

var registerValidation = func(v *validator.Validate) error {
	if err := v.RegisterValidation("ip_port", validIPPort); err != nil {
		return err
	}
	return v.RegisterValidation("key_secret", validKeySecret)
}

// Load builds the configuration from defaults and environment, validates
// it, and returns it.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return &cfg, nil
}

// ParsedKeys converts the "id:secret" pairs into the map the update service
// takes. Call after Load, which guarantees the format.
func (c *AppConfig) ParsedKeys() map[string]string {
	if len(c.UpdateKeys) == 0 {
		return nil
	}
	keys := make(map[string]string, len(c.UpdateKeys))
	for _, pair := range c.UpdateKeys {
		id, secret, found := strings.Cut(pair, ":")
		if found {
			keys[id] = secret
		}
	}
	return keys
}
