package versioning

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Fingerprint computes a deterministic, order-independent digest of a business
// value. Two semantically equal values produce identical fingerprints
// regardless of map key order; any semantic difference produces a different
// fingerprint with overwhelming probability.
//
// Detail payloads that arrive wrapped as {"value": X} are fingerprinted over X
// so that wrapper-format changes alone never open a spurious version.
func Fingerprint(value any) string {
	var b strings.Builder
	writeCanonical(&b, unwrapValue(value))
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// unwrapValue strips a single-key {"value": X} envelope.
func unwrapValue(value any) any {
	if m, ok := value.(map[string]any); ok && len(m) == 1 {
		if inner, found := m["value"]; found {
			return inner
		}
	}
	return value
}

// writeCanonical serializes value with recursively sorted mapping keys.
// Structured values may arrive with non-deterministic key order, so plain
// serialization is not stable enough to compare.
func writeCanonical(b *strings.Builder, value any) {
	switch typed := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		b.WriteByte('{')
		for idx, key := range keys {
			if idx > 0 {
				b.WriteByte(',')
			}
			encodedKey, _ := json.Marshal(key)
			b.Write(encodedKey)
			b.WriteByte(':')
			writeCanonical(b, typed[key])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for idx, item := range typed {
			if idx > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			b.WriteString(fmt.Sprintf("%v", typed))
			return
		}
		b.Write(encoded)
	}
}
