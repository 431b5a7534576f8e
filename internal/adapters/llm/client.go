// Package llm talks to OpenAI-compatible chat completion endpoints and
// classifies their failures for the provider fallback chain.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"pageaudit/internal/config"
	"pageaudit/internal/ports"
	"pageaudit/internal/services/fallback"
)

const (
	schemaName = "audit_analysis"

	// maxResponseBytes caps how much of a provider response is read.
	maxResponseBytes = 4 << 20
)

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jsonSchemaFormat struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
}

type responseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *jsonSchemaFormat `json:"json_schema,omitempty"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Client is one provider endpoint.
type Client struct {
	id      string
	baseURL string
	apiKey  string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

func NewClient(id string, ep config.ProviderEndpoint, opts ...Option) *Client {
	c := &Client{
		id:      id,
		baseURL: normalizeBaseURL(ep.BaseURL),
		apiKey:  ep.APIKey,
		http: &http.Client{
			Timeout: 120 * time.Second,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ForceAttemptHTTP2:   true,
				MaxIdleConns:        20,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func normalizeBaseURL(baseURL string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed != "" && !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	return trimmed
}

// Chat sends one structured-output completion. Every failure is a
// *fallback.ProviderError.
func (c *Client) Chat(ctx context.Context, req ports.ChatRequest) (string, error) {
	body := chatRequest{
		Model: req.ModelID,
		Messages: []message{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserMessage},
		},
		MaxTokens: req.MaxTokens,
	}
	if len(req.JSONSchema) > 0 {
		body.ResponseFormat = &responseFormat{
			Type:       "json_schema",
			JSONSchema: &jsonSchemaFormat{Name: schemaName, Schema: req.JSONSchema},
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fallback.NewProviderError(fallback.BadRequest, c.id, "marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fallback.NewProviderError(fallback.BadRequest, c.id, "create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fallback.NewProviderError(fallback.ResponseError, c.id, "request failed", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return "", fallback.NewProviderError(fallback.ResponseError, c.id, "read response", err)
	}
	if len(raw) > maxResponseBytes {
		return "", fallback.NewProviderError(fallback.ResponseError, c.id,
			fmt.Sprintf("response exceeds %d bytes", maxResponseBytes), nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", c.statusError(resp.StatusCode, raw)
	}

	var decoded chatCompletionResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fallback.NewProviderError(fallback.ResponseError, c.id, "decode response", err)
	}
	if len(decoded.Choices) == 0 {
		return "", fallback.NewProviderError(fallback.ResponseError, c.id, "response missing choices", nil)
	}
	content := decoded.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", fallback.NewProviderError(fallback.ResponseError, c.id, "response empty", nil)
	}
	return content, nil
}

// statusError maps an HTTP failure onto the provider error kinds.
func (c *Client) statusError(status int, body []byte) error {
	var e errorResponse
	_ = json.Unmarshal(body, &e)
	msg := e.Error.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	msg = fmt.Sprintf("status %d: %s", status, msg)

	kind := fallback.ResponseError
	switch {
	case e.Error.Type == "insufficient_quota" || e.Error.Code == "insufficient_quota" || status == http.StatusPaymentRequired:
		kind = fallback.QuotaExceeded
	case status == http.StatusTooManyRequests:
		kind = fallback.RateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = fallback.AccessDenied
	case status == http.StatusBadRequest || status == http.StatusNotFound || status == http.StatusUnprocessableEntity:
		kind = fallback.BadRequest
	}
	return fallback.NewProviderError(kind, c.id, msg, nil)
}

// Registry resolves provider ids to clients.
type Registry map[string]*Client

func NewRegistry(endpoints map[string]config.ProviderEndpoint, opts ...Option) Registry {
	r := make(Registry, len(endpoints))
	for id, ep := range endpoints {
		r[id] = NewClient(id, ep, opts...)
	}
	return r
}

func (r Registry) Provider(id string) (ports.ChatProvider, bool) {
	c, ok := r[id]
	if !ok {
		return nil, false
	}
	return c, true
}
