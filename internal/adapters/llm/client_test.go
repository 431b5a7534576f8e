package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pageaudit/internal/config"
	"pageaudit/internal/ports"
	"pageaudit/internal/services/fallback"
)

func request() ports.ChatRequest {
	return ports.ChatRequest{
		ModelID:      "gpt-test",
		SystemPrompt: "be brief",
		UserMessage:  "analyze this",
		JSONSchema:   json.RawMessage(`{"type":"object"}`),
		MaxTokens:    4000,
	}
}

func TestChatSendsStructuredRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-test", body["model"])
		assert.EqualValues(t, 4000, body["max_tokens"])
		format := body["response_format"].(map[string]any)
		assert.Equal(t, "json_schema", format["type"])
		msgs := body["messages"].([]any)
		require.Len(t, msgs, 2)
		assert.Equal(t, "system", msgs[0].(map[string]any)["role"])

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"ok\":true}"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c := NewClient("openai", config.ProviderEndpoint{BaseURL: srv.URL + "/v1/", APIKey: "sk-test"})
	out, err := c.Chat(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
}

func TestChatErrorKinds(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   fallback.Kind
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"requests"}}`, fallback.RateLimited},
		{"quota on 429", http.StatusTooManyRequests, `{"error":{"message":"no credit","type":"insufficient_quota"}}`, fallback.QuotaExceeded},
		{"payment required", http.StatusPaymentRequired, ``, fallback.QuotaExceeded},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"bad schema"}}`, fallback.BadRequest},
		{"unknown model", http.StatusNotFound, ``, fallback.BadRequest},
		{"unauthorized", http.StatusUnauthorized, ``, fallback.AccessDenied},
		{"forbidden", http.StatusForbidden, ``, fallback.AccessDenied},
		{"server error", http.StatusBadGateway, `upstream`, fallback.ResponseError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewClient("p", config.ProviderEndpoint{BaseURL: srv.URL}).Chat(context.Background(), request())
			require.Error(t, err)
			assert.Equal(t, tc.want, fallback.KindOf(err))
		})
	}
}

func TestChatMalformedResponses(t *testing.T) {
	for name, body := range map[string]string{
		"not json":   `<html>`,
		"no choices": `{"choices":[]}`,
		"empty":      `{"choices":[{"message":{"content":"  "}}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			_, err := NewClient("p", config.ProviderEndpoint{BaseURL: srv.URL}).Chat(context.Background(), request())
			assert.Equal(t, fallback.ResponseError, fallback.KindOf(err))
		})
	}
}

func TestChatOversizedResponse(t *testing.T) {
	content := strings.Repeat("a", maxResponseBytes)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"` + content + `"}}]}`))
	}))
	defer srv.Close()

	_, err := NewClient("p", config.ProviderEndpoint{BaseURL: srv.URL}).Chat(context.Background(), request())
	require.Error(t, err)
	assert.Equal(t, fallback.ResponseError, fallback.KindOf(err))
	assert.Contains(t, err.Error(), "response exceeds")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(map[string]config.ProviderEndpoint{"openai": {BaseURL: "api.openai.com/v1"}})
	p, ok := r.Provider("openai")
	require.True(t, ok)
	assert.Equal(t, "https://api.openai.com/v1", p.(*Client).baseURL)

	_, ok = r.Provider("anthropic")
	assert.False(t, ok)
}
