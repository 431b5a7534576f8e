package ports

import (
	"context"
	"errors"
	"time"

	"pageaudit/internal/domain"
)

// ErrNotFound is returned by repositories and stores for unknown ids.
var ErrNotFound = errors.New("not found")

// AuditRepository persists audit records. Save overwrites the whole record;
// callers load, mutate through the state machine, then save.
type AuditRepository interface {
	Create(ctx context.Context, audit *domain.AuditRequest) error
	Get(ctx context.Context, id string) (*domain.AuditRequest, error)
	Save(ctx context.Context, audit *domain.AuditRequest) error
	CountCreatedSince(ctx context.Context, since time.Time) (int, error)
	HasPending(ctx context.Context, contentID, language string) (bool, error)
	// LatestCompleted returns the newest completed audit per content item.
	LatestCompleted(ctx context.Context) ([]domain.AuditRequest, error)
	// ListByContent returns every audit of a content item, newest first.
	ListByContent(ctx context.Context, contentID string) ([]domain.AuditRequest, error)
}

// ContentStore loads auditable content. A missing language variant falls
// back to the item's default language.
type ContentStore interface {
	Load(ctx context.Context, contentID, language string) (domain.Content, error)
	// Put stores a language variant; isDefault marks the item's default language.
	Put(ctx context.Context, content domain.Content, isDefault bool) error
}
