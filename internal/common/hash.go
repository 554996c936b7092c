package common

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sha256Hex returns the SHA-256 digest of the input encoded as lowercase hex.
func Sha256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// Fingerprint returns a short, log-safe digest of a secret such as a card token.
func Fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	return Sha256Hex(secret)[:12]
}
