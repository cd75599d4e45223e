// Package oidc fetches the provider's endpoint configuration from its
// discovery URL and keeps a TTL-bounded copy of it.
package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	gocache "github.com/patrickmn/go-cache"
	slogctx "github.com/veqryn/slog-context"
)

const configurationCacheKey = "discovery_configuration"

// Client resolves the authorization, token and revocation endpoints from the
// configured discovery URL. The configuration is cached; after the cache TTL
// elapses it is re-fetched transparently on the next use.
type Client struct {
	discoveryURL string
	httpClient   *http.Client
	cache        *gocache.Cache
}

func NewClient(discoveryURL string, httpClient *http.Client, cache *gocache.Cache) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		discoveryURL: discoveryURL,
		httpClient:   httpClient,
		cache:        cache,
	}
}

// Configuration returns the cached endpoint configuration, fetching it from
// the discovery URL when the cache is empty or expired.
func (c *Client) Configuration(ctx context.Context) (Configuration, error) {
	if cached, ok := c.cache.Get(configurationCacheKey); ok {
		//nolint:forcetypeassert
		return cached.(Configuration), nil
	}

	cfg, err := c.fetch(ctx)
	if err != nil {
		return Configuration{}, err
	}
	c.cache.Set(configurationCacheKey, cfg, gocache.DefaultExpiration)

	return cfg, nil
}

func (c *Client) fetch(ctx context.Context) (Configuration, error) {
	slogctx.Info(ctx, "Fetching OAuth endpoint configuration", "url", c.discoveryURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.discoveryURL, nil)
	if err != nil {
		return Configuration{}, fmt.Errorf("creating discovery request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Configuration{}, fmt.Errorf("executing discovery request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Configuration{}, fmt.Errorf("discovery endpoint returned status %d", resp.StatusCode)
	}

	var cfg Configuration
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return Configuration{}, fmt.Errorf("decoding discovery response: %w", err)
	}

	if cfg.AuthorizationEndpoint == "" || cfg.TokenEndpoint == "" {
		return Configuration{}, errors.New("discovery document is missing the authorization or token endpoint")
	}

	slogctx.Info(ctx, "OAuth endpoints loaded",
		"authorization_endpoint", cfg.AuthorizationEndpoint,
		"token_endpoint", cfg.TokenEndpoint)

	return cfg, nil
}
