package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Template is a saved, reusable report configuration bound to one report
// type. Public templates are visible to every user; only the owner may
// delete one.
type Template struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	ReportType string    `json:"report_type"`
	Config     JobConfig `json:"config"`
	OwnerID    uuid.UUID `json:"owner_id"`
	IsPublic   bool      `json:"is_public"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewTemplate creates a validated template.
func NewTemplate(ownerID uuid.UUID, name, reportType string, cfg JobConfig, public bool) (*Template, error) {
	now := time.Now().UTC()
	t := &Template{
		ID:         uuid.New(),
		Name:       strings.TrimSpace(name),
		ReportType: reportType,
		Config:     cfg,
		OwnerID:    ownerID,
		IsPublic:   public,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks required fields and the configuration shape.
func (t *Template) Validate() error {
	if t.ID == uuid.Nil {
		return ErrInvalidID
	}
	if t.Name == "" {
		return ErrEmptyTemplateName
	}
	if t.OwnerID == uuid.Nil {
		return ErrEmptyTemplateOwner
	}
	if t.ReportType == "" {
		return ErrEmptyReportType
	}
	return t.Config.ValidateShape()
}

// VisibleTo reports whether userID may see the template.
func (t *Template) VisibleTo(userID uuid.UUID) bool {
	return t.IsPublic || t.OwnerID == userID
}
