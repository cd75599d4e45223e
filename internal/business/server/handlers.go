package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/surferxo3/netsuite-devassist-chatbot/internal/chat"
	"github.com/surferxo3/netsuite-devassist-chatbot/internal/relay"
	"github.com/surferxo3/netsuite-devassist-chatbot/internal/serviceerr"
	"github.com/surferxo3/netsuite-devassist-chatbot/internal/session"
)

// Handlers carries the wired application parts the HTTP surface exposes.
type Handlers struct {
	Manager      *session.Manager
	Relay        *relay.Relay
	Window       chat.WindowConfig
	SystemPrompt string
}

type chatRequest struct {
	Message             string      `json:"message"`
	ConversationHistory []chat.Turn `json:"conversationHistory"`
}

// authStatus reports the current session state to the browser.
func (h *Handlers) authStatus(w http.ResponseWriter, _ *http.Request) {
	status := h.Manager.Tokens().Status()

	var expiresAt *string
	if !status.ExpiresAt.IsZero() {
		s := status.ExpiresAt.Format(time.RFC3339)
		expiresAt = &s
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": status.Authenticated,
		"tokenExpired":  status.Expired,
		"expiresAt":     expiresAt,
	})
}

// authLogin starts a fresh login attempt and redirects the browser to the
// upstream authorization endpoint.
func (h *Handlers) authLogin(w http.ResponseWriter, r *http.Request) {
	authURL, err := h.Manager.BeginLogin(r.Context())
	if err != nil {
		slogctx.Error(r.Context(), "Failed to begin login", "error", err)
		writeError(w, err)

		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// authCallback finishes the login flow and sends the browser back to the
// chat page, carrying the outcome in a query parameter.
func (h *Handlers) authCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	err := h.Manager.HandleCallback(r.Context(),
		q.Get("code"),
		q.Get("state"),
		q.Get("error"),
		q.Get("error_description"),
	)
	if err != nil {
		slogctx.Error(r.Context(), "Login callback failed", "error", err)
		http.Redirect(w, r, "/?auth_error="+url.QueryEscape(errorMessage(err)), http.StatusFound)

		return
	}

	http.Redirect(w, r, "/?auth_success=true", http.StatusFound)
}

func (h *Handlers) authLogout(w http.ResponseWriter, r *http.Request) {
	h.Manager.Logout(r.Context())

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Logged out successfully",
	})
}

// apiChat relays one chat completion request and streams the answer back as
// Server-Sent Events.
func (h *Handlers) apiChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "invalid_request",
			"message": "request body must be JSON",
		})

		return
	}

	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "missing_message",
			"message": "Message is required",
		})

		return
	}

	messages := chat.Window(req.ConversationHistory, req.Message, h.SystemPrompt, h.Window)
	slogctx.Info(ctx, "Relaying chat request",
		"history_turns", len(req.ConversationHistory),
		"messages", len(messages))

	stream, err := h.Relay.SendChat(ctx, messages)
	if err != nil {
		slogctx.Error(ctx, "Chat request failed before streaming", "error", err)
		writeError(w, err)

		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		stream.Close()
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "streaming_unsupported",
			"message": "response writer does not support streaming",
		})

		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Errors past this point surface as SSE frames, the status is already
	// on the wire.
	_ = stream.Forward(ctx, sseFlushWriter{w: w, f: flusher})
}

func (h *Handlers) apiHealth(w http.ResponseWriter, _ *http.Request) {
	status := h.Manager.Tokens().Status()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"authenticated": status.Authenticated,
		"tokenExpired":  status.Expired,
	})
}

// sseFlushWriter flushes after each write so event frames never sit in the
// response buffer.
type sseFlushWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func (fw sseFlushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if err == nil {
		fw.f.Flush()
	}

	return n, err
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps a service error onto the JSON error contract the browser
// client understands.
func writeError(w http.ResponseWriter, err error) {
	var svcErr *serviceerr.Error
	if !errors.As(err, &svcErr) {
		svcErr = serviceerr.ErrUnknown.WithDescription(err.Error())
	}

	body := map[string]any{
		"error":   string(svcErr.Err),
		"message": svcErr.Description,
	}
	if svcErr.RequiresAuth() {
		body["requiresAuth"] = true
	}

	writeJSON(w, svcErr.HTTPStatus(), body)
}

func errorMessage(err error) string {
	var svcErr *serviceerr.Error
	if errors.As(err, &svcErr) && svcErr.Description != "" {
		return svcErr.Description
	}

	return err.Error()
}
