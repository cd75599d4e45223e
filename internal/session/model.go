// Package session owns the single in-memory authenticated session: the
// token pair with its expiry, the pending login attempt, and the
// authorization code flow around them. There is exactly one logical user
// session per process; nothing is persisted, so a restart requires a fresh
// login.
package session

import "time"

// TokenResponse is the wire shape of the token endpoint response, shared by
// the code exchange and the refresh grant.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Attempt is the PKCE material of one in-flight login. A second login
// overwrites the previous attempt, invalidating it (last writer wins).
type Attempt struct {
	Verifier string
	State    string
}

// Status is a consistent snapshot of the session for status reporting.
type Status struct {
	Authenticated bool
	Expired       bool
	ExpiresAt     time.Time
}
