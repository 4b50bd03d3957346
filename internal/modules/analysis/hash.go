package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Fingerprint computes the content hash of a row's fields. The hash covers
// the fields only, never the sequence id, so the same shift record hashes
// identically across files and re-uploads. Values are trimmed and nil-safe,
// and keys are serialized in sorted order so column ordering in the source
// file cannot change the hash.
func Fingerprint(fields map[string]string) string {
	normalized := make(map[string]string, len(fields))
	for key, value := range fields {
		normalized[key] = strings.TrimSpace(value)
	}
	// encoding/json marshals string-keyed maps in sorted key order, which
	// gives us the canonical form directly.
	canonical, _ := json.Marshal(normalized)
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
