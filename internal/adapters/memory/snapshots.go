package memory

import (
	"context"
	"slices"
	"sync"

	"pageaudit/internal/ports"
)

// SnapshotStore keeps rendered pages in a map keyed by audit id.
type SnapshotStore struct {
	mu    sync.RWMutex
	pages map[string][]byte
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{pages: map[string][]byte{}}
}

func (s *SnapshotStore) PutSnapshot(_ context.Context, auditID string, html []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[auditID] = slices.Clone(html)
	return auditID, nil
}

func (s *SnapshotStore) GetSnapshot(_ context.Context, auditID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	html, ok := s.pages[auditID]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return slices.Clone(html), nil
}
