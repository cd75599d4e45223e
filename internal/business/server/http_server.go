// Package server exposes the chat relay over HTTP: the login flow endpoints,
// the streaming chat endpoint and the health probe.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/samber/oops"

	slogctx "github.com/veqryn/slog-context"

	"github.com/surferxo3/netsuite-devassist-chatbot/internal/config"
)

// createHTTPServer creates the API http server using the given config.
func createHTTPServer(_ context.Context, cfg *config.Config, handlers *Handlers) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth/status", withTelemetry(cfg, "auth-status", handlers.authStatus))
	mux.HandleFunc("GET /auth/login", withTelemetry(cfg, "auth-login", handlers.authLogin))
	mux.HandleFunc("GET /auth/callback", withTelemetry(cfg, "auth-callback", handlers.authCallback))
	mux.HandleFunc("POST /auth/logout", withTelemetry(cfg, "auth-logout", handlers.authLogout))
	mux.HandleFunc("POST /api/chat", withTelemetry(cfg, "chat", handlers.apiChat))
	mux.HandleFunc("GET /api/health", withTelemetry(cfg, "health", handlers.apiHealth))

	return &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: withCORS(mux),
	}
}

// withCORS lets the browser client call the API from another origin: every
// response carries the CORS headers and preflight requests are answered
// before they reach the mux, whose routes only match GET and POST.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// StartHTTPServer starts the HTTP server using the given config and blocks
// until the context is cancelled, then shuts down gracefully.
func StartHTTPServer(ctx context.Context, cfg *config.Config, handlers *Handlers) error {
	if err := initMeters(ctx, cfg); err != nil {
		return err
	}

	server := createHTTPServer(ctx, cfg, handlers)

	slogctx.Info(ctx, "Starting a listener", "address", server.Addr)

	// Parse network if the address if provided in the format of network://address.
	// Otherwise use tcp network by default. Some integration tests are easier to implement
	// by binding a listener to a unix socket rather than a TCP port,
	// since we don't need to look up for a free port or scan /proc/net on Linux or call sysctl on macOS
	// to discover which port the process is bound to.
	network := "tcp"
	if idx := strings.IndexRune(server.Addr, ':'); idx != -1 && len(server.Addr) > idx+3 && server.Addr[idx:idx+3] == "://" {
		network = server.Addr[:idx]
		server.Addr = server.Addr[idx+3:]
	}

	listener, err := new(net.ListenConfig).Listen(ctx, network, server.Addr)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed to create a listener")
	}

	slogctx.Info(ctx, "A listener started", "address", listener.Addr().String())

	go func() {
		slogctx.Info(ctx, "Serving an HTTP server", "address", listener.Addr().String())
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slogctx.Error(ctx, "Failed to serve an HTTP server", "error", err)
		}

		slogctx.Info(ctx, "Stopped an HTTP server")
	}()

	<-ctx.Done()

	shutdownCtx, shutdownRelease := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer shutdownRelease()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed shutting down HTTP server")
	}

	slogctx.Info(ctx, "Completed graceful shutdown of HTTP server")

	return nil
}
