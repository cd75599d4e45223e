package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	slogctx "github.com/veqryn/slog-context"
	"golang.org/x/sync/singleflight"

	"github.com/surferxo3/netsuite-devassist-chatbot/internal/serviceerr"
)

// ExpiryBuffer is how long before the recorded expiry a token counts as
// stale. It absorbs the network latency between validating the token here
// and it actually arriving at the upstream API.
const ExpiryBuffer = 60 * time.Second

// RefreshFunc exchanges a refresh token for a fresh token pair at the
// upstream token endpoint.
type RefreshFunc func(ctx context.Context, refreshToken string) (TokenResponse, error)

// Store holds the current token pair. All mutation goes through Set,
// Invalidate and the refresh path, which are mutually exclusive; reads see a
// consistent snapshot. Concurrent callers that hit a stale token share one
// in-flight refresh instead of issuing duplicates.
type Store struct {
	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	tokenType    string
	expiresAt    time.Time

	refresh RefreshFunc
	group   singleflight.Group

	now func() time.Time
}

func NewStore(refresh RefreshFunc) *Store {
	return &Store{
		tokenType: "Bearer",
		refresh:   refresh,
		now:       time.Now,
	}
}

// Set records a token pair obtained from a code exchange or a refresh.
// A response without a refresh token keeps the previous one, some providers
// only return it on the initial exchange.
func (s *Store) Set(t TokenResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accessToken = t.AccessToken
	if t.RefreshToken != "" {
		s.refreshToken = t.RefreshToken
	}

	s.tokenType = t.TokenType
	if s.tokenType == "" {
		s.tokenType = "Bearer"
	}

	// A missing expires_in leaves expiresAt zero, which counts as already
	// expired and forces a refresh before the token is used.
	s.expiresAt = time.Time{}
	if t.ExpiresIn > 0 {
		s.expiresAt = s.now().Add(time.Duration(t.ExpiresIn) * time.Second)
	}
}

// Invalidate clears the session wholesale. Called on logout and on refresh
// failure.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accessToken = ""
	s.refreshToken = ""
	s.tokenType = "Bearer"
	s.expiresAt = time.Time{}
}

// Status returns a non-torn snapshot for the status and health endpoints.
func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Status{
		Authenticated: s.accessToken != "",
		Expired:       s.accessToken != "" && s.stale(),
		ExpiresAt:     s.expiresAt,
	}
}

// AccessToken returns a token that is valid for at least the expiry buffer,
// refreshing first when the stored one is stale. Without any session it
// fails with ErrNotAuthenticated; a failed refresh clears the session and
// fails with ErrRefreshFailed.
func (s *Store) AccessToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	token := s.accessToken
	fresh := !s.stale()
	s.mu.RUnlock()

	if token == "" {
		return "", serviceerr.ErrNotAuthenticated
	}
	if fresh {
		return token, nil
	}

	return s.refreshNow(ctx)
}

// ForceRefresh discards the stored access token's remaining validity and
// refreshes unconditionally. The relay uses it after an authorization
// failure from the upstream API.
func (s *Store) ForceRefresh(ctx context.Context) (string, error) {
	return s.refreshNow(ctx)
}

// refreshNow runs the single-flight refresh: any callers arriving while a
// refresh is in flight wait for and share its result.
func (s *Store) refreshNow(ctx context.Context) (string, error) {
	token, err, _ := s.group.Do("refresh", func() (any, error) {
		s.mu.RLock()
		refreshToken := s.refreshToken
		s.mu.RUnlock()

		if refreshToken == "" {
			s.Invalidate()
			return nil, fmt.Errorf("%w: no refresh token available", serviceerr.ErrRefreshFailed)
		}

		slogctx.Info(ctx, "Refreshing access token")

		resp, err := s.refresh(ctx, refreshToken)
		if err != nil {
			s.Invalidate()
			return nil, fmt.Errorf("%w: %v", serviceerr.ErrRefreshFailed, err)
		}
		if resp.AccessToken == "" {
			s.Invalidate()
			return nil, fmt.Errorf("%w: token endpoint returned no access token", serviceerr.ErrRefreshFailed)
		}

		s.Set(resp)
		slogctx.Info(ctx, "Access token refreshed", "expires_in", resp.ExpiresIn)

		return resp.AccessToken, nil
	})
	if err != nil {
		return "", err
	}

	//nolint:forcetypeassert
	return token.(string), nil
}

// stale reports whether the token is inside the expiry buffer or past its
// expiry. Callers must hold at least the read lock.
func (s *Store) stale() bool {
	if s.expiresAt.IsZero() {
		return true
	}

	return !s.now().Before(s.expiresAt.Add(-ExpiryBuffer))
}

// currentAccessToken returns the raw stored token without freshness checks,
// for best-effort revocation on logout.
func (s *Store) currentAccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.accessToken
}
