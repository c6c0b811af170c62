// Package auth verifies HMAC-SHA256 webhook signatures and hashes payloads
// into stable idempotency keys.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	ErrMissingSignature   = errors.New("auth: missing signature")
	ErrMalformedSignature = errors.New("auth: malformed signature")
	ErrSignatureMismatch  = errors.New("auth: signature mismatch")
)

// HashPayload returns the lowercase hex SHA-256 digest of b.
func HashPayload(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Sign computes the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	return hex.EncodeToString(mac(secret, body))
}

func mac(secret string, body []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return h.Sum(nil)
}

// ParseDigest decodes a signature header into raw digest bytes. It accepts
// hex (64 chars) or standard/URL base64 of a 32-byte digest, optionally
// prefixed with "sha256=".
func ParseDigest(header string) ([]byte, error) {
	sig := strings.TrimSpace(header)
	if sig == "" {
		return nil, ErrMissingSignature
	}
	sig = strings.TrimPrefix(sig, "sha256=")

	if len(sig) == hex.EncodedLen(sha256.Size) {
		if b, err := hex.DecodeString(sig); err == nil {
			return b, nil
		}
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		b, err := enc.DecodeString(sig)
		if err == nil && len(b) == sha256.Size {
			return b, nil
		}
	}

	return nil, ErrMalformedSignature
}

// VerifySignature checks header against the HMAC of the raw body.
// The comparison is constant-time.
func VerifySignature(secret string, body []byte, header string) error {
	got, err := ParseDigest(header)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(got, mac(secret, body)) != 1 {
		return ErrSignatureMismatch
	}
	return nil
}

// TokenEqual compares two bearer tokens in constant time.
func TokenEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
