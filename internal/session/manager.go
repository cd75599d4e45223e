package session

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	slogctx "github.com/veqryn/slog-context"

	"github.com/surferxo3/netsuite-devassist-chatbot/internal/oidc"
	"github.com/surferxo3/netsuite-devassist-chatbot/internal/pkce"
	"github.com/surferxo3/netsuite-devassist-chatbot/internal/serviceerr"
)

// Manager drives the redirect-based login handshake: it creates the PKCE
// attempt, builds the authorization URL, exchanges the callback code for
// tokens, and clears the session on logout.
type Manager struct {
	tokens    *Store
	client    *TokenClient
	endpoints *oidc.Client
	pkce      pkce.Source

	clientID    string
	redirectURI string
	scope       string

	// attemptMu only guards the swap of the pending attempt; overlapping
	// logins stay last-writer-wins, the lock just keeps the verifier/state
	// pair from tearing.
	attemptMu sync.Mutex
	attempt   *Attempt
}

func NewManager(
	tokens *Store,
	client *TokenClient,
	endpoints *oidc.Client,
	clientID string,
	redirectURI string,
	scope string,
) *Manager {
	return &Manager{
		tokens:      tokens,
		client:      client,
		endpoints:   endpoints,
		clientID:    clientID,
		redirectURI: redirectURI,
		scope:       scope,
	}
}

// BeginLogin generates a fresh PKCE attempt, replacing any pending one, and
// returns the authorization URL the user agent must be redirected to.
func (m *Manager) BeginLogin(ctx context.Context) (string, error) {
	cfg, err := m.endpoints.Configuration(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving endpoints: %w", err)
	}

	attempt := &Attempt{
		Verifier: m.pkce.NewVerifier(),
		State:    m.pkce.NewState(),
	}

	m.attemptMu.Lock()
	m.attempt = attempt
	m.attemptMu.Unlock()

	u, err := url.Parse(cfg.AuthorizationEndpoint)
	if err != nil {
		return "", fmt.Errorf("parsing authorization endpoint url: %w", err)
	}

	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", m.clientID)
	q.Set("redirect_uri", m.redirectURI)
	q.Set("scope", m.scope)
	q.Set("state", attempt.State)
	q.Set("code_challenge", m.pkce.ChallengeFor(attempt.Verifier))
	q.Set("code_challenge_method", pkce.MethodS256)
	u.RawQuery = q.Encode()

	slogctx.Info(ctx, "Redirecting to upstream authorization endpoint")

	return u.String(), nil
}

// HandleCallback finishes the login handshake. The pending attempt is
// consumed no matter what: a provider error, a state mismatch, a missing
// code and a failed exchange all leave no attempt behind.
func (m *Manager) HandleCallback(ctx context.Context, code, state, errCode, errDescription string) error {
	m.attemptMu.Lock()
	attempt := m.attempt
	m.attempt = nil
	m.attemptMu.Unlock()

	if errCode != "" {
		slogctx.Error(ctx, "Provider returned an authorization error", "error", errCode, "description", errDescription)
		return serviceerr.Provider(errCode, errDescription)
	}

	if attempt == nil || state != attempt.State {
		slogctx.Error(ctx, "State parameter mismatch, possible CSRF")
		return serviceerr.ErrStateMismatch
	}

	if code == "" {
		return serviceerr.ErrMissingCode
	}

	slogctx.Info(ctx, "Exchanging authorization code for tokens")

	tokens, err := m.client.Exchange(ctx, code, attempt.Verifier)
	if err != nil {
		return fmt.Errorf("exchanging code for tokens: %w", err)
	}
	if tokens.AccessToken == "" {
		return serviceerr.Upstream("token endpoint returned no access token")
	}

	m.tokens.Set(tokens)
	slogctx.Info(ctx, "Authentication successful",
		"expires_in", tokens.ExpiresIn,
		"refresh_token_received", tokens.RefreshToken != "")

	return nil
}

// Logout revokes the access token upstream when possible and always clears
// the local session. Revocation failures are logged, never propagated.
func (m *Manager) Logout(ctx context.Context) {
	if token := m.tokens.currentAccessToken(); token != "" {
		if err := m.client.Revoke(ctx, token); err != nil {
			slogctx.Warn(ctx, "Token revocation failed", "error", err)
		} else {
			slogctx.Info(ctx, "Token revoked upstream")
		}
	}

	m.tokens.Invalidate()
	slogctx.Info(ctx, "Logged out, session cleared")
}

// Tokens exposes the token store for the relay and the status endpoints.
func (m *Manager) Tokens() *Store {
	return m.tokens
}
