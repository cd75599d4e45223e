package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	gocache "github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surferxo3/netsuite-devassist-chatbot/internal/chat"
	"github.com/surferxo3/netsuite-devassist-chatbot/internal/config"
	"github.com/surferxo3/netsuite-devassist-chatbot/internal/oidc"
	"github.com/surferxo3/netsuite-devassist-chatbot/internal/relay"
	"github.com/surferxo3/netsuite-devassist-chatbot/internal/session"
)

// testEnv wires the full HTTP surface against a fake identity provider and
// a fake upstream chat API.
type testEnv struct {
	api      *httptest.Server
	provider *httptest.Server
	upstream *httptest.Server

	rejectNext   int
	refreshCalls int
	revokeCalls  int
	chatBodies   []map[string]any
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{}

	providerMux := http.NewServeMux()
	providerMux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":                 env.provider.URL,
			"authorization_endpoint": env.provider.URL + "/authorize",
			"token_endpoint":         env.provider.URL + "/token",
			"revocation_endpoint":    env.provider.URL + "/revoke",
		})
	})
	providerMux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())

		if r.PostForm.Get("grant_type") == "refresh_token" {
			env.refreshCalls++
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at-valid",
			"refresh_token": "rt-1",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})
	providerMux.HandleFunc("/revoke", func(_ http.ResponseWriter, _ *http.Request) {
		env.revokeCalls++
	})
	env.provider = httptest.NewServer(providerMux)
	t.Cleanup(env.provider.Close)

	env.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		env.chatBodies = append(env.chatBodies, body)

		if env.rejectNext > 0 {
			env.rejectNext--
			w.WriteHeader(http.StatusUnauthorized)

			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hello\"}}]}\n\ndata: [DONE]\n\n")
	}))
	t.Cleanup(env.upstream.Close)

	cfg := &config.Config{
		BaseConfig: commoncfg.BaseConfig{
			Application: commoncfg.Application{Name: "test-app"},
		},
		HTTP: config.HTTPServer{
			Address:         "localhost:0",
			ShutdownTimeout: time.Second,
		},
	}
	require.NoError(t, initMeters(t.Context(), cfg))

	endpoints := oidc.NewClient(
		env.provider.URL+"/.well-known/openid-configuration",
		env.provider.Client(),
		gocache.New(time.Minute, time.Minute),
	)
	tokenClient := session.NewTokenClient(endpoints, env.provider.Client(), "client-1", "http://localhost:3000/auth/callback")
	tokens := session.NewStore(tokenClient.Refresh)
	manager := session.NewManager(tokens, tokenClient, endpoints, "client-1", "http://localhost:3000/auth/callback", "restlets,rest_webservices")

	handlers := &Handlers{
		Manager:      manager,
		Relay:        relay.New(env.upstream.URL, "test-model", "test-agent", tokens, env.upstream.Client()),
		Window:       chat.DefaultWindowConfig(),
		SystemPrompt: "You are a test assistant.",
	}

	srv := createHTTPServer(t.Context(), cfg, handlers)
	env.api = httptest.NewServer(srv.Handler)
	t.Cleanup(env.api.Close)

	return env
}

// login drives the full redirect flow against the fake provider.
func (env *testEnv) login(t *testing.T) {
	t.Helper()

	client := noRedirectClient()

	resp, err := client.Get(env.api.URL + "/auth/login")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	authURL, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	state := authURL.Query().Get("state")
	require.NotEmpty(t, state)

	resp, err = client.Get(env.api.URL + "/auth/callback?code=code-1&state=" + state)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/?auth_success=true", resp.Header.Get("Location"))
}

func (env *testEnv) getJSON(t *testing.T, path string, out any) *http.Response {
	t.Helper()

	resp, err := http.Get(env.api.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))

	return resp
}

func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func TestAuthStatusBeforeLogin(t *testing.T) {
	env := newTestEnv(t)

	var status map[string]any
	resp := env.getJSON(t, "/auth/status", &status)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, status["authenticated"])
	assert.Equal(t, false, status["tokenExpired"])
	assert.Nil(t, status["expiresAt"])
}

func TestLoginCallbackStatusFlow(t *testing.T) {
	env := newTestEnv(t)

	env.login(t)

	var status map[string]any
	env.getJSON(t, "/auth/status", &status)
	assert.Equal(t, true, status["authenticated"])
	assert.Equal(t, false, status["tokenExpired"])
	assert.NotEmpty(t, status["expiresAt"])
}

func TestCallbackStateMismatchRedirectsWithError(t *testing.T) {
	env := newTestEnv(t)

	client := noRedirectClient()

	resp, err := client.Get(env.api.URL + "/auth/login")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = client.Get(env.api.URL + "/auth/callback?code=code-1&state=forged")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusFound, resp.StatusCode)
	location := resp.Header.Get("Location")
	assert.True(t, strings.HasPrefix(location, "/?auth_error="), location)

	var status map[string]any
	env.getJSON(t, "/auth/status", &status)
	assert.Equal(t, false, status["authenticated"])
}

func TestCallbackProviderErrorRedirectsWithMessage(t *testing.T) {
	env := newTestEnv(t)

	client := noRedirectClient()

	resp, err := client.Get(env.api.URL + "/auth/login")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = client.Get(env.api.URL + "/auth/callback?error=access_denied&error_description=user+cancelled")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusFound, resp.StatusCode)
	location, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Contains(t, location.Query().Get("auth_error"), "user cancelled")
}

func TestChatRequiresAuthentication(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.api.URL+"/api/chat", "application/json",
		strings.NewReader(`{"message":"hi"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["requiresAuth"])
}

func TestChatMissingMessage(t *testing.T) {
	env := newTestEnv(t)

	env.login(t)

	resp, err := http.Post(env.api.URL+"/api/chat", "application/json",
		strings.NewReader(`{"conversationHistory":[]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatStreamsUpstreamEvents(t *testing.T) {
	env := newTestEnv(t)

	env.login(t)

	resp, err := http.Post(env.api.URL+"/api/chat", "application/json",
		strings.NewReader(`{"message":"hi","conversationHistory":[{"role":"user","content":"earlier"},{"role":"assistant","content":"sure"}]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"content":"hello"`)
	assert.Contains(t, string(body), "data: [DONE]")

	require.Len(t, env.chatBodies, 1)
	messages, ok := env.chatBodies[0]["messages"].([]any)
	require.True(t, ok)
	// System prompt, two history turns, current message.
	assert.Len(t, messages, 4)
	assert.Equal(t, "test-model", env.chatBodies[0]["model"])
	assert.Equal(t, false, env.chatBodies[0]["store"])
}

func TestChatRefreshesTokenTransparently(t *testing.T) {
	env := newTestEnv(t)

	env.login(t)
	env.rejectNext = 1

	resp, err := http.Post(env.api.URL+"/api/chat", "application/json",
		strings.NewReader(`{"message":"hi"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	// The caller never sees the rejection: one refresh, one retry.
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, env.refreshCalls)
	assert.Len(t, env.chatBodies, 2)
}

func TestChatSessionExpiredAfterRepeatedRejection(t *testing.T) {
	env := newTestEnv(t)

	env.login(t)
	env.rejectNext = 2

	resp, err := http.Post(env.api.URL+"/api/chat", "application/json",
		strings.NewReader(`{"message":"hi"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["requiresAuth"])

	var status map[string]any
	env.getJSON(t, "/auth/status", &status)
	assert.Equal(t, false, status["authenticated"])
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)

	env.login(t)

	resp, err := http.Post(env.api.URL+"/auth/logout", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, 1, env.revokeCalls)

	var status map[string]any
	env.getJSON(t, "/auth/status", &status)
	assert.Equal(t, false, status["authenticated"])
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	var body map[string]any
	resp := env.getJSON(t, "/api/health", &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["authenticated"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestCORSHeaders(t *testing.T) {
	env := newTestEnv(t)

	t.Run("preflight answered without reaching a route", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodOptions, env.api.URL+"/api/chat", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "http://localhost:5173")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "GET, POST, OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "Content-Type, Authorization", resp.Header.Get("Access-Control-Allow-Headers"))
	})

	t.Run("regular responses carry the origin header", func(t *testing.T) {
		var body map[string]any
		resp := env.getJSON(t, "/auth/status", &body)

		assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	})
}
