// Package memory provides in-process adapters used when no database is
// configured and by service tests.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"pageaudit/internal/domain"
	"pageaudit/internal/ports"
)

// AuditStore keeps audit records in insertion order.
type AuditStore struct {
	mu     sync.RWMutex
	audits map[string]*domain.AuditRequest
	order  []string
	now    func() time.Time
}

func NewAuditStore() *AuditStore {
	return &AuditStore{audits: map[string]*domain.AuditRequest{}, now: time.Now}
}

// WithClock replaces the timestamp source.
func (s *AuditStore) WithClock(now func() time.Time) *AuditStore {
	s.now = now
	return s
}

func (s *AuditStore) Create(_ context.Context, a *domain.AuditRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := s.now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	s.audits[a.ID] = cloneAudit(a)
	s.order = append(s.order, a.ID)
	return nil
}

func (s *AuditStore) Get(_ context.Context, id string) (*domain.AuditRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.audits[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return cloneAudit(a), nil
}

func (s *AuditStore) Save(_ context.Context, a *domain.AuditRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.audits[a.ID]; !ok {
		return ports.ErrNotFound
	}
	a.UpdatedAt = s.now().UTC()
	s.audits[a.ID] = cloneAudit(a)
	return nil
}

func (s *AuditStore) CountCreatedSince(_ context.Context, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.audits {
		if !a.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *AuditStore) HasPending(_ context.Context, contentID, language string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.audits {
		if a.ContentID == contentID && a.Language == language && a.Status.Pending() {
			return true, nil
		}
	}
	return false, nil
}

func (s *AuditStore) LatestCompleted(_ context.Context) ([]domain.AuditRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]bool{}
	var out []domain.AuditRequest
	for _, id := range slices.Backward(s.order) {
		a := s.audits[id]
		if a.Status != domain.StatusCompleted || seen[a.ContentID] {
			continue
		}
		seen[a.ContentID] = true
		out = append(out, *cloneAudit(a))
	}
	return out, nil
}

func (s *AuditStore) ListByContent(_ context.Context, contentID string) ([]domain.AuditRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.AuditRequest
	for _, id := range slices.Backward(s.order) {
		if a := s.audits[id]; a.ContentID == contentID {
			out = append(out, *cloneAudit(a))
		}
	}
	return out, nil
}

func cloneAudit(a *domain.AuditRequest) *domain.AuditRequest {
	c := *a
	c.Issues = slices.Clone(a.Issues)
	c.SEOResultsRaw = slices.Clone(a.SEOResultsRaw)
	c.AccessibilityResultsRaw = slices.Clone(a.AccessibilityResultsRaw)
	c.AIAnalysisRaw = slices.Clone(a.AIAnalysisRaw)
	if a.RetryOf != nil {
		id := *a.RetryOf
		c.RetryOf = &id
	}
	return &c
}
