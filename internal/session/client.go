package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/surferxo3/netsuite-devassist-chatbot/internal/oidc"
	"github.com/surferxo3/netsuite-devassist-chatbot/internal/serviceerr"
)

// TokenClient speaks to the provider's token and revocation endpoints on
// behalf of a public client (client id only, no secret).
type TokenClient struct {
	endpoints   *oidc.Client
	httpClient  *http.Client
	clientID    string
	redirectURI string
}

func NewTokenClient(endpoints *oidc.Client, httpClient *http.Client, clientID, redirectURI string) *TokenClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &TokenClient{
		endpoints:   endpoints,
		httpClient:  httpClient,
		clientID:    clientID,
		redirectURI: redirectURI,
	}
}

// Exchange trades an authorization code and its PKCE verifier for tokens.
func (c *TokenClient) Exchange(ctx context.Context, code, codeVerifier string) (TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", c.redirectURI)
	data.Set("client_id", c.clientID)
	data.Set("code_verifier", codeVerifier)

	return c.postTokenEndpoint(ctx, data)
}

// Refresh trades a refresh token for a fresh token pair.
func (c *TokenClient) Refresh(ctx context.Context, refreshToken string) (TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	data.Set("client_id", c.clientID)

	return c.postTokenEndpoint(ctx, data)
}

// Revoke invalidates a token at the provider (RFC 7009). Callers treat a
// failure as best-effort only.
func (c *TokenClient) Revoke(ctx context.Context, token string) error {
	cfg, err := c.endpoints.Configuration(ctx)
	if err != nil {
		return fmt.Errorf("resolving endpoints: %w", err)
	}
	if cfg.RevocationEndpoint == "" {
		return nil
	}

	data := url.Values{}
	data.Set("token", token)
	data.Set("client_id", c.clientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.RevocationEndpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("creating revocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing revocation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("revocation endpoint returned status %d", resp.StatusCode)
	}

	return nil
}

func (c *TokenClient) postTokenEndpoint(ctx context.Context, data url.Values) (TokenResponse, error) {
	cfg, err := c.endpoints.Configuration(ctx)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("resolving endpoints: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenEndpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return TokenResponse{}, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("executing token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("reading token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return TokenResponse{}, serviceerr.Upstream(tokenErrorMessage(resp.StatusCode, body))
	}

	var tokens TokenResponse
	if err := json.Unmarshal(body, &tokens); err != nil {
		return TokenResponse{}, fmt.Errorf("decoding token response: %w", err)
	}

	return tokens, nil
}

// tokenErrorMessage extracts the provider's error_description (or error
// code) from a failed token endpoint response, falling back to the status.
func tokenErrorMessage(status int, body []byte) string {
	var oauthErr struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &oauthErr); err == nil {
		if oauthErr.Description != "" {
			return oauthErr.Description
		}
		if oauthErr.Error != "" {
			return oauthErr.Error
		}
	}

	return fmt.Sprintf("token endpoint returned status %d", status)
}
