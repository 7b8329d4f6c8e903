// Package ids mints ULID identifiers for marketplace entities. ULIDs
// sort by creation time, which keeps transaction listings and storage
// keys naturally ordered.
package ids

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// New returns a fresh ULID. The shared entropy source is safe for
// concurrent use.
func New() string {
	return ulid.Make().String()
}

// WithPrefix returns a namespaced identifier such as "tx_01J8...".
// Prefixes keep transaction, grant and request ids distinguishable in
// logs and audit records.
func WithPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return New()
	}
	return prefix + "_" + New()
}
