package chunker

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the SHA-256 hex digest of the chunk's exact UTF-8 text. No
// normalization is applied: whitespace differences produce different digests,
// which is what makes the digest usable as a content-change oracle.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
