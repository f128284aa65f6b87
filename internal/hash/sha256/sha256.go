// Package sha256 derives stable hex identifiers from content.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the full hex digest of s.
func Sum(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Short returns the first n hex characters of the digest of s. n <= 0 or
// beyond the digest length returns the full digest.
func Short(s string, n int) string {
	digest := Sum(s)
	if n <= 0 || n > len(digest) {
		return digest
	}
	return digest[:n]
}
