package memory

import (
	"context"
	"sync"

	"pageaudit/internal/domain"
	"pageaudit/internal/ports"
)

type contentItem struct {
	defaultLanguage string
	variants        map[string]domain.Content
}

// ContentStore holds content items with their language variants.
type ContentStore struct {
	mu    sync.RWMutex
	items map[string]*contentItem
}

func NewContentStore() *ContentStore {
	return &ContentStore{items: map[string]*contentItem{}}
}

// Put stores a variant. The first variant stored for an item becomes its
// default language unless a later Put marks another one.
func (s *ContentStore) Put(_ context.Context, c domain.Content, isDefault bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[c.ID]
	if !ok {
		item = &contentItem{defaultLanguage: c.Language, variants: map[string]domain.Content{}}
		s.items[c.ID] = item
	}
	if isDefault {
		item.defaultLanguage = c.Language
	}
	item.variants[c.Language] = c
	return nil
}

// Load returns the requested language variant, falling back to the default
// language when the variant does not exist.
func (s *ContentStore) Load(_ context.Context, id, language string) (domain.Content, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return domain.Content{}, ports.ErrNotFound
	}
	if c, ok := item.variants[language]; ok {
		return c, nil
	}
	if c, ok := item.variants[item.defaultLanguage]; ok {
		return c, nil
	}
	return domain.Content{}, ports.ErrNotFound
}
