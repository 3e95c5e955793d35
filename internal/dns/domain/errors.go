package domain

import "errors"

// Error taxonomy for per-datagram failures. All of these are recoverable:
// they describe and contain a single bad datagram or rejected update, and
// never abort the serving loop. Invalid configuration at startup is the only
// fatal condition and is reported as a plain wrapped error from the config
// and cmd layers.
var (
	// ErrFormat marks malformed wire input, query or update alike.
	ErrFormat = errors.New("format error")

	// ErrAuth marks a dynamic update that failed the digest or freshness check.
	ErrAuth = errors.New("authentication failed")

	// ErrOwnership marks an update targeting a dynamic entry held by a
	// different owner key.
	ErrOwnership = errors.New("entry owned by a different key")

	// ErrStaticConflict marks an update targeting a name reserved by static
	// configuration.
	ErrStaticConflict = errors.New("name is statically configured")

	// ErrNotFound marks a delete for an entry that does not exist.
	ErrNotFound = errors.New("entry not found")
)
