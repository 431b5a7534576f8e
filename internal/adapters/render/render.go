// Package render produces the HTML of a content item: the stored document
// when there is one, otherwise whatever its URL serves.
package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"pageaudit/internal/checks"
	"pageaudit/internal/domain"
)

// maxBodyBytes caps how much of a fetched page is read.
const maxBodyBytes = 5 << 20

var ErrNothingToRender = errors.New("content has neither html nor url")

type Renderer struct {
	http *http.Client
}

type Option func(*Renderer)

func WithHTTPClient(c *http.Client) Option {
	return func(r *Renderer) { r.http = c }
}

func New(opts ...Option) *Renderer {
	r := &Renderer{http: &http.Client{Timeout: 30 * time.Second}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Renderer) Render(ctx context.Context, c domain.Content) (string, error) {
	if c.HTML != "" {
		return c.HTML, nil
	}
	if c.URL == "" {
		return "", fmt.Errorf("content %s/%s: %w", c.ID, c.Language, ErrNothingToRender)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	if c.Language != "" {
		req.Header.Set("Accept-Language", c.Language)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", c.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch %s: status %s", c.URL, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", c.URL, err)
	}
	return string(body), nil
}

// ExtractText returns the visible body text with whitespace collapsed.
func (r *Renderer) ExtractText(html string) string {
	return checks.Parse(html).Text()
}
