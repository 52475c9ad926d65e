package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/report-api/internal/domain"
	"github.com/phrazzld/report-api/internal/store"
)

// TemplateStore keeps templates in a map.
type TemplateStore struct {
	mu        sync.RWMutex
	templates map[uuid.UUID]*domain.Template
}

var _ store.TemplateStore = (*TemplateStore)(nil)

// NewTemplateStore returns an empty store.
func NewTemplateStore() *TemplateStore {
	return &TemplateStore{templates: make(map[uuid.UUID]*domain.Template)}
}

func cloneTemplate(t *domain.Template) *domain.Template {
	c := *t
	c.Config = t.Config.Clone()
	return &c
}

// Create implements store.TemplateStore.
func (s *TemplateStore) Create(_ context.Context, t *domain.Template) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.templates[t.ID]; exists {
		return fmt.Errorf("%w: template %s", store.ErrDuplicate, t.ID)
	}
	s.templates[t.ID] = cloneTemplate(t)
	return nil
}

// GetByID implements store.TemplateStore.
func (s *TemplateStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[id]
	if !ok {
		return nil, store.ErrTemplateNotFound
	}
	return cloneTemplate(t), nil
}

// ListVisible implements store.TemplateStore.
func (s *TemplateStore) ListVisible(_ context.Context, userID uuid.UUID, reportType string) ([]*domain.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*domain.Template{}
	for _, t := range s.templates {
		if !t.VisibleTo(userID) {
			continue
		}
		if reportType != "" && t.ReportType != reportType {
			continue
		}
		out = append(out, cloneTemplate(t))
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out, nil
}

// Delete implements store.TemplateStore.
func (s *TemplateStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[id]; !ok {
		return store.ErrTemplateNotFound
	}
	delete(s.templates, id)
	return nil
}
