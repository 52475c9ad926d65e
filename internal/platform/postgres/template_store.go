package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/report-api/internal/domain"
	"github.com/phrazzld/report-api/internal/platform/logger"
	"github.com/phrazzld/report-api/internal/store"
)

const templateColumns = `id, name, report_type, config, owner_id, is_public, created_at, updated_at`

// TemplateStore implements store.TemplateStore.
type TemplateStore struct {
	db     store.DBTX
	logger *slog.Logger
}

var _ store.TemplateStore = (*TemplateStore)(nil)

// NewTemplateStore creates a template store over db.
func NewTemplateStore(db store.DBTX, logger *slog.Logger) *TemplateStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TemplateStore{
		db:     db,
		logger: logger.With(slog.String("component", "template_store")),
	}
}

func scanTemplate(row rowScanner) (*domain.Template, error) {
	var t domain.Template
	err := row.Scan(&t.ID, &t.Name, &t.ReportType, &t.Config, &t.OwnerID, &t.IsPublic, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

// Create implements store.TemplateStore.
func (s *TemplateStore) Create(ctx context.Context, t *domain.Template) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO report_templates (`+templateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.Name, t.ReportType, t.Config, t.OwnerID, t.IsPublic, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		log.Error("failed to create template",
			slog.String("error", err.Error()),
			slog.String("template_id", t.ID.String()))
		return MapError(err)
	}
	return nil
}

// GetByID implements store.TemplateStore.
func (s *TemplateStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Template, error) {
	t, err := scanTemplate(s.db.QueryRowContext(ctx,
		`SELECT `+templateColumns+` FROM report_templates WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return t, nil
}

// ListVisible implements store.TemplateStore.
func (s *TemplateStore) ListVisible(ctx context.Context, userID uuid.UUID, reportType string) ([]*domain.Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+templateColumns+`
		FROM report_templates
		WHERE (owner_id = $1 OR is_public)
			AND ($2 = '' OR report_type = $2)
		ORDER BY created_at DESC`, userID, reportType)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []*domain.Template{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating templates: %w", err)
	}
	return out, nil
}

// Delete implements store.TemplateStore.
func (s *TemplateStore) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM report_templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	return CheckRowsAffected(result, store.ErrTemplateNotFound)
}
