package metrics

import (
	"crypto/sha256"
	"fmt"
)

// HashLabel creates a short hash of a label value to keep metric cardinality
// bounded while staying distinguishable for monitoring.
//
// Returns the first 8 hex characters of the SHA-256 hash.
func HashLabel(value string) string {
	if value == "" {
		return "unknown"
	}

	hash := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", hash[:4])
}
