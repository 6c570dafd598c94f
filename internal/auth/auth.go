// Package auth guards the admin API with a shared bearer key.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// KeyPrefix marks generated admin keys so they are recognisable in config.
const KeyPrefix = "teambeat_"

// Principal identifies who made an authenticated request. Audit lines carry
// its KeyPrefix so rotated keys can be told apart.
type Principal struct {
	Kind      string
	KeyPrefix string
}

// Admin is the only principal kind: the holder of the configured admin key.
const Admin = "admin"

// Verifier checks presented bearer keys against the configured admin key.
// Keys are compared by SHA-256 digest in constant time.
type Verifier struct {
	hash []byte
}

// NewVerifier creates a Verifier for adminKey. An empty key yields a
// verifier that rejects everything.
func NewVerifier(adminKey string) *Verifier {
	if adminKey == "" {
		return &Verifier{}
	}
	h := sha256.Sum256([]byte(adminKey))
	return &Verifier{hash: h[:]}
}

// Configured reports whether an admin key is set.
func (v *Verifier) Configured() bool {
	return v != nil && len(v.hash) > 0
}

// Verify reports whether presented matches the admin key.
func (v *Verifier) Verify(presented string) bool {
	if !v.Configured() || presented == "" {
		return false
	}
	h := sha256.Sum256([]byte(presented))
	return subtle.ConstantTimeCompare(h[:], v.hash) == 1
}

// GenerateKey creates a new admin key: KeyPrefix followed by 32 URL-safe
// random characters.
func GenerateKey() (string, error) {
	b := make([]byte, 24) // 24 bytes -> 32 base64url chars
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return KeyPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateSecret returns n random bytes, hex-encoded, for use as a token
// signing secret.
func GenerateSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashKey returns the hex-encoded SHA-256 hash of the given plaintext key.
func HashKey(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}

// prefixOf returns a short, loggable prefix of key.
func prefixOf(key string) string {
	const n = len(KeyPrefix) + 4
	if len(key) <= n {
		return key
	}
	return key[:n]
}
