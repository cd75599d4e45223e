// Package relay forwards chat completion requests to the upstream API and
// streams the Server-Sent Events response back verbatim.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	slogctx "github.com/veqryn/slog-context"

	"github.com/surferxo3/netsuite-devassist-chatbot/internal/chat"
	"github.com/surferxo3/netsuite-devassist-chatbot/internal/serviceerr"
	"github.com/surferxo3/netsuite-devassist-chatbot/internal/session"
)

// errorBodyLimit caps how much of an upstream error body is read back for
// diagnostics.
const errorBodyLimit = 8 << 10

type Relay struct {
	chatURL    string
	model      string
	userAgent  string
	tokens     *session.Store
	httpClient *http.Client
}

func New(chatURL, model, userAgent string, tokens *session.Store, httpClient *http.Client) *Relay {
	return &Relay{
		chatURL:    chatURL,
		model:      model,
		userAgent:  userAgent,
		tokens:     tokens,
		httpClient: httpClient,
	}
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chat.Message `json:"messages"`
	Store    bool           `json:"store"`
}

// SendChat submits the prepared messages upstream and hands back the open
// SSE stream. An authorization rejection triggers exactly one forced token
// refresh and retry; a second rejection invalidates the session so the
// client knows to log in again.
func (r *Relay) SendChat(ctx context.Context, messages []chat.Message) (*Stream, error) {
	body, err := json.Marshal(chatRequest{
		Model:    r.model,
		Messages: messages,
		Store:    false,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}

	token, err := r.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := r.send(ctx, token, body)
	if err != nil {
		return nil, err
	}

	if authRejected(resp.StatusCode) {
		drainAndClose(resp.Body)
		slogctx.Warn(ctx, "Upstream rejected the access token, refreshing once", "status", resp.StatusCode)

		token, err = r.tokens.ForceRefresh(ctx)
		if err != nil {
			return nil, err
		}

		resp, err = r.send(ctx, token, body)
		if err != nil {
			return nil, err
		}

		if authRejected(resp.StatusCode) {
			drainAndClose(resp.Body)
			r.tokens.Invalidate()

			return nil, serviceerr.ErrSessionExpired
		}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		drainAndClose(resp.Body)
		slogctx.Error(ctx, "Upstream chat request failed", "status", resp.StatusCode, "body", string(detail))

		return nil, serviceerr.Upstream(fmt.Sprintf("upstream returned status %d: %s", resp.StatusCode, bytes.TrimSpace(detail)))
	}

	return &Stream{body: resp.Body}, nil
}

func (r *Relay) send(ctx context.Context, token string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.chatURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building chat request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+token)
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, serviceerr.Transport(fmt.Sprintf("reaching upstream chat API: %v", err))
	}

	return resp, nil
}

// authRejected covers both flavors of token rejection seen in the wild;
// some gateways answer 403 where 401 would be correct.
func authRejected(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, errorBodyLimit))
	_ = body.Close()
}
