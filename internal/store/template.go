package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/report-api/internal/domain"
)

// TemplateStore defines persistence for saved report templates.
type TemplateStore interface {
	// Create saves a new template.
	Create(ctx context.Context, t *domain.Template) error

	// GetByID returns ErrTemplateNotFound if the template does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Template, error)

	// ListVisible returns templates owned by userID or marked public, newest
	// first. An empty reportType lists every type.
	ListVisible(ctx context.Context, userID uuid.UUID, reportType string) ([]*domain.Template, error)

	// Delete removes a template. Returns ErrTemplateNotFound if it does not exist.
	Delete(ctx context.Context, id uuid.UUID) error
}
