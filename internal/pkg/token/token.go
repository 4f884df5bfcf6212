package token

import (
	"encoding/hex"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// NewCorrelationToken generates the request nonce handed to the identity provider.
func NewCorrelationToken() string {
	return uuid.NewString()
}

// Fingerprint returns a short, stable digest of a bearer credential so it can be
// logged and audited without being disclosed. Empty input yields "".
func Fingerprint(credential string) string {
	if credential == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:8])
}
