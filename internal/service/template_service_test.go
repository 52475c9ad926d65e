package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/report-api/internal/catalog"
	"github.com/phrazzld/report-api/internal/domain"
	"github.com/phrazzld/report-api/internal/platform/logger"
	"github.com/phrazzld/report-api/internal/platform/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTemplateService(t *testing.T) TemplateService {
	t.Helper()
	registry, err := catalog.LoadDefault()
	require.NoError(t, err)
	svc, err := NewTemplateService(memory.NewTemplateStore(), registry, logger.Discard())
	require.NoError(t, err)
	return svc
}

func TestTemplateService_Save(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	owner := uuid.New()

	tests := []struct {
		name    string
		req     SaveTemplateRequest
		wantErr error
	}{
		{
			name: "valid",
			req: SaveTemplateRequest{
				Name:       "Grade 7 progress",
				ReportType: "student-progress",
				Config:     domain.JobConfig{Columns: []string{"student_name"}, Filters: map[string]any{"grade": "7"}},
			},
		},
		{
			name: "required filters may be left open",
			req:  SaveTemplateRequest{Name: "Monthly", ReportType: "attendance-summary"},
		},
		{
			name:    "blank name",
			req:     SaveTemplateRequest{Name: "  ", ReportType: "student-progress"},
			wantErr: ErrValidation,
		},
		{
			name:    "unknown column",
			req:     SaveTemplateRequest{Name: "x", ReportType: "student-progress", Config: domain.JobConfig{Columns: []string{"salary"}}},
			wantErr: ErrValidation,
		},
		{
			name:    "hidden type",
			req:     SaveTemplateRequest{Name: "x", ReportType: "institution-compliance", Roles: []string{"mentor"}},
			wantErr: ErrNotFound,
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			svc := newTemplateService(t)

			tmpl, err := svc.Save(ctx, owner, tc.req)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, owner, tmpl.OwnerID)
			assert.Equal(t, tc.req.ReportType, tmpl.ReportType)
		})
	}
}

func TestTemplateService_ListAndDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := newTemplateService(t)
	owner, other := uuid.New(), uuid.New()

	private, err := svc.Save(ctx, owner, SaveTemplateRequest{Name: "Mine", ReportType: "student-progress"})
	require.NoError(t, err)
	public, err := svc.Save(ctx, owner, SaveTemplateRequest{Name: "Shared", ReportType: "staff-directory", IsPublic: true})
	require.NoError(t, err)

	mine, err := svc.List(ctx, owner, "")
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	theirs, err := svc.List(ctx, other, "")
	require.NoError(t, err)
	require.Len(t, theirs, 1)
	assert.Equal(t, public.ID, theirs[0].ID)

	filtered, err := svc.List(ctx, owner, "student-progress")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, private.ID, filtered[0].ID)

	assert.ErrorIs(t, svc.Delete(ctx, public.ID, other), ErrNotOwned)
	assert.ErrorIs(t, svc.Delete(ctx, uuid.New(), owner), ErrNotFound)
	require.NoError(t, svc.Delete(ctx, public.ID, owner))

	theirs, err = svc.List(ctx, other, "")
	require.NoError(t, err)
	assert.Empty(t, theirs)
}
