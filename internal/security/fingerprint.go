package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Fingerprint returns the hex-encoded SHA-256 of a refresh token. Sessions
// store and compare fingerprints so the raw token never touches the database.
func Fingerprint(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// FingerprintEqual compares a raw token against a stored fingerprint in
// constant time.
func FingerprintEqual(token, storedFingerprint string) bool {
	return subtle.ConstantTimeCompare([]byte(Fingerprint(token)), []byte(storedFingerprint)) == 1
}
