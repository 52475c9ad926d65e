package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/report-api/internal/catalog"
	"github.com/phrazzld/report-api/internal/domain"
	"github.com/phrazzld/report-api/internal/platform/logger"
	"github.com/phrazzld/report-api/internal/store"
)

// SaveTemplateRequest describes a template to save.
type SaveTemplateRequest struct {
	Name       string
	ReportType string
	Config     domain.JobConfig
	IsPublic   bool
	Roles      []string
}

// TemplateService manages saved report configurations.
type TemplateService interface {
	// List returns templates visible to userID. An empty reportType lists all types.
	List(ctx context.Context, userID uuid.UUID, reportType string) ([]*domain.Template, error)

	// Save validates and stores a new template owned by userID.
	Save(ctx context.Context, userID uuid.UUID, req SaveTemplateRequest) (*domain.Template, error)

	// Delete removes a template. Only the owner may delete it.
	Delete(ctx context.Context, templateID, userID uuid.UUID) error
}

type templateServiceImpl struct {
	templates store.TemplateStore
	catalog   *catalog.Registry
	logger    *slog.Logger
}

// NewTemplateService creates a TemplateService.
func NewTemplateService(templates store.TemplateStore, registry *catalog.Registry, logger *slog.Logger) (TemplateService, error) {
	if templates == nil {
		return nil, fmt.Errorf("%w: template store cannot be nil", ErrValidation)
	}
	if registry == nil {
		return nil, fmt.Errorf("%w: catalog cannot be nil", ErrValidation)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &templateServiceImpl{
		templates: templates,
		catalog:   registry,
		logger:    logger.With(slog.String("component", "template_service")),
	}, nil
}

// List implements TemplateService.
func (s *templateServiceImpl) List(ctx context.Context, userID uuid.UUID, reportType string) ([]*domain.Template, error) {
	templates, err := s.templates.ListVisible(ctx, userID, reportType)
	if err != nil {
		return nil, NewReportServiceError("list_templates", "failed to list templates", err)
	}
	return templates, nil
}

// Save implements TemplateService. Required filters are not enforced; they
// are checked when a job is created from the template.
func (s *templateServiceImpl) Save(ctx context.Context, userID uuid.UUID, req SaveTemplateRequest) (*domain.Template, error) {
	def, err := s.catalog.Visible(req.ReportType, req.Roles)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if err := req.Config.ValidateShape(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err := def.ValidateFields(req.Config); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	t, err := domain.NewTemplate(userID, req.Name, def.Type, req.Config.Clone(), req.IsPublic)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err := s.templates.Create(ctx, t); err != nil {
		return nil, NewReportServiceError("save_template", "failed to save template", err)
	}

	logger.FromContextOrDefault(ctx, s.logger).Info("report template saved",
		slog.String("template_id", t.ID.String()),
		slog.String("report_type", t.ReportType),
		slog.Bool("public", t.IsPublic))
	return t, nil
}

// Delete implements TemplateService.
func (s *templateServiceImpl) Delete(ctx context.Context, templateID, userID uuid.UUID) error {
	t, err := s.templates.GetByID(ctx, templateID)
	if errors.Is(err, store.ErrTemplateNotFound) {
		return fmt.Errorf("%w: template %s", ErrNotFound, templateID)
	}
	if err != nil {
		return NewReportServiceError("delete_template", "failed to load template", err)
	}
	if t.OwnerID != userID {
		return ErrNotOwned
	}

	if err := s.templates.Delete(ctx, templateID); err != nil {
		if errors.Is(err, store.ErrTemplateNotFound) {
			return fmt.Errorf("%w: template %s", ErrNotFound, templateID)
		}
		return NewReportServiceError("delete_template", "failed to delete template", err)
	}
	return nil
}
