package business

import (
	"context"
	"fmt"
	"net/http"

	gocache "github.com/patrickmn/go-cache"

	slogctx "github.com/veqryn/slog-context"

	"github.com/surferxo3/netsuite-devassist-chatbot/internal/business/server"
	"github.com/surferxo3/netsuite-devassist-chatbot/internal/chat"
	"github.com/surferxo3/netsuite-devassist-chatbot/internal/config"
	"github.com/surferxo3/netsuite-devassist-chatbot/internal/oidc"
	"github.com/surferxo3/netsuite-devassist-chatbot/internal/relay"
	"github.com/surferxo3/netsuite-devassist-chatbot/internal/session"
)

// Main wires the application together and runs the HTTP API server until the
// context is cancelled. The ready callback is invoked once OAuth endpoint
// discovery has resolved, so the readiness probe only turns healthy for a
// relay that can actually reach its identity provider.
func Main(ctx context.Context, cfg *config.Config, ready func()) error {
	handlers, err := initHandlers(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the chat relay: %w", err)
	}

	if ready != nil {
		ready()
	}

	return server.StartHTTPServer(ctx, cfg, handlers)
}

func initHandlers(ctx context.Context, cfg *config.Config) (*server.Handlers, error) {
	clientID, err := config.LoadClientID(cfg.OAuth)
	if err != nil {
		return nil, err
	}

	systemPrompt, err := config.LoadSystemPrompt(cfg.Chat)
	if err != nil {
		slogctx.Warn(ctx, "Could not load prompt file, using default", "error", err)

		systemPrompt = config.DefaultSystemPrompt
	} else {
		slogctx.Info(ctx, "Loaded system prompt", "path", cfg.Chat.SystemPromptPath, "chars", len(systemPrompt))
	}

	// The OAuth client carries a hard timeout; token and discovery requests
	// are small request/response exchanges.
	oauthHTTPClient := &http.Client{Timeout: cfg.OAuth.RequestTimeout}

	// The chat client must not: the response body is a long-lived event
	// stream. Only the wait for response headers is bounded.
	chatHTTPClient := &http.Client{
		Transport: &http.Transport{
			ResponseHeaderTimeout: cfg.Upstream.ResponseHeaderTimeout,
		},
	}

	endpoints := oidc.NewClient(
		cfg.OAuth.DiscoveryURL,
		&http.Client{Timeout: cfg.OAuth.DiscoveryTimeout},
		gocache.New(cfg.OAuth.DiscoveryCacheTTL, cfg.OAuth.DiscoveryCacheTTL),
	)

	// Resolve the endpoints once at startup: a relay that cannot reach its
	// identity provider is better off failing fast than limping along.
	endpointCfg, err := endpoints.Configuration(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching OAuth metadata from %q: %w", cfg.OAuth.DiscoveryURL, err)
	}

	slogctx.Info(ctx, "OAuth endpoints resolved",
		"authorization_endpoint", endpointCfg.AuthorizationEndpoint,
		"token_endpoint", endpointCfg.TokenEndpoint,
		"revocation_endpoint", endpointCfg.RevocationEndpoint)

	tokenClient := session.NewTokenClient(endpoints, oauthHTTPClient, clientID, cfg.OAuth.RedirectURI)
	tokens := session.NewStore(tokenClient.Refresh)
	manager := session.NewManager(tokens, tokenClient, endpoints, clientID, cfg.OAuth.RedirectURI, cfg.OAuth.Scope)

	window := chat.DefaultWindowConfig()
	if cfg.Chat.MaxHistoryChars > 0 {
		window.MaxHistoryChars = cfg.Chat.MaxHistoryChars
	}

	return &server.Handlers{
		Manager:      manager,
		Relay:        relay.New(cfg.Upstream.ChatURL, cfg.Upstream.Model, cfg.Upstream.UserAgent, tokens, chatHTTPClient),
		Window:       window,
		SystemPrompt: systemPrompt,
	}, nil
}
