// Package sanitize turns arbitrary identifiers into vector store
// collection names.
//
// Qdrant and chromem collection names must match ^[a-z0-9_]{1,64}$.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// MaxIdentifierLength is the longest name a collection may have.
	MaxIdentifierLength = 64

	// hashSuffixLength covers "_" plus eight hex digits.
	hashSuffixLength = 9

	// DefaultIdentifier replaces identifiers with no usable characters.
	DefaultIdentifier = "default"
)

// Identifier lowercases s, maps every character outside [a-z0-9_] to an
// underscore, collapses and trims underscores, and shortens the result to
// MaxIdentifierLength with a hash suffix that keeps distinct inputs apart.
//
//	"Dronology/High" -> "dronology_high"
//	"!!!"            -> "default"
func Identifier(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	underscore := true // swallows leading underscores
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore {
			b.WriteByte('_')
			underscore = true
		}
	}

	out := strings.TrimRight(b.String(), "_")
	if out == "" {
		return DefaultIdentifier
	}
	return truncate(out, s)
}

// CollectionName joins the sanitized parts with underscores. Empty parts
// are skipped.
func CollectionName(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			kept = append(kept, Identifier(p))
		}
	}
	if len(kept) == 0 {
		return DefaultIdentifier
	}
	name := strings.Join(kept, "_")
	return truncate(name, name)
}

func truncate(s, original string) string {
	if len(s) <= MaxIdentifierLength {
		return s
	}
	hash := sha256.Sum256([]byte(original))
	base := strings.TrimRight(s[:MaxIdentifierLength-hashSuffixLength], "_")
	return base + "_" + hex.EncodeToString(hash[:])[:8]
}
