package ports

import (
	"context"
	"encoding/json"
	"errors"

	"pageaudit/internal/domain"
)

// Renderer produces the HTML a visitor would receive for a content item.
type Renderer interface {
	Render(ctx context.Context, content domain.Content) (string, error)
	ExtractText(html string) string
}

// ChatRequest is a single structured-output chat completion.
type ChatRequest struct {
	ModelID      string
	SystemPrompt string
	UserMessage  string
	JSONSchema   json.RawMessage
	MaxTokens    int
}

// ChatProvider is one AI backend. Failures are reported as
// *fallback.ProviderError values so the chain can classify them.
type ChatProvider interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
}

// ProviderRegistry resolves provider ids from the fallback chain.
type ProviderRegistry interface {
	Provider(id string) (ChatProvider, bool)
}

// ErrAlreadyRunning is returned by Locker.Acquire when the key is held.
var ErrAlreadyRunning = errors.New("already running")

// Locker guards a key so a single holder processes it at a time.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// SnapshotStore archives the rendered HTML an audit was checked against.
// GetSnapshot returns ErrNotFound when nothing was archived for the audit.
type SnapshotStore interface {
	PutSnapshot(ctx context.Context, auditID string, html []byte) (key string, err error)
	GetSnapshot(ctx context.Context, auditID string) ([]byte, error)
}
