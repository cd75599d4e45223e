// Package pkce generates the verifier/challenge/state material for the
// OAuth 2.0 authorization code flow with PKCE (RFC 7636).
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

const MethodS256 = "S256"

type Source struct{}

// crypto/rand.Read never fails on supported platforms; it crashes the
// program rather than returning low-entropy output.
func (p Source) randBytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)

	return b
}

// NewVerifier returns a fresh high-entropy code verifier: 32 random bytes,
// base64url encoded without padding.
func (p Source) NewVerifier() string {
	const n = 32

	buf := make([]byte, base64.RawURLEncoding.EncodedLen(n))
	base64.RawURLEncoding.Encode(buf, p.randBytes(n))

	return string(buf)
}

// ChallengeFor derives the S256 code challenge for a verifier. The transform
// is pure: the same verifier always yields the same challenge.
func (p Source) ChallengeFor(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))

	buf := make([]byte, base64.RawURLEncoding.EncodedLen(len(sum)))
	base64.RawURLEncoding.Encode(buf, sum[:])

	return string(buf)
}

// NewState returns a random token binding one login attempt to its callback.
// It is independent of the verifier and used only for CSRF detection.
func (p Source) NewState() string {
	return hex.EncodeToString(p.randBytes(16))
}
