package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/report-api/internal/api/shared"
	"github.com/phrazzld/report-api/internal/blob"
	"github.com/phrazzld/report-api/internal/catalog"
	"github.com/phrazzld/report-api/internal/domain"
	"github.com/phrazzld/report-api/internal/platform/logger"
	"github.com/phrazzld/report-api/internal/platform/memory"
	"github.com/phrazzld/report-api/internal/queue"
	"github.com/phrazzld/report-api/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct{}

func (stubSource) FetchRows(context.Context, catalog.Definition, map[string]any, string) ([]map[string]any, error) {
	return nil, nil
}

func (stubSource) FilterOptions(context.Context, catalog.Definition, catalog.Filter, string) ([]catalog.Option, error) {
	return []catalog.Option{{Label: "7", Value: "7"}, {Label: "8", Value: "8"}}, nil
}

type testServer struct {
	router http.Handler
	jobs   *memory.JobStore
	broker *queue.MemoryBroker
	blobs  *blob.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	registry, err := catalog.LoadDefault()
	require.NoError(t, err)

	ts := &testServer{
		jobs:   memory.NewJobStore(),
		broker: queue.NewMemoryBroker(),
		blobs:  blob.NewMemoryStore(),
	}
	resolver := catalog.NewFilterResolver(registry, stubSource{}, time.Minute)
	reports, err := service.NewReportService(ts.jobs, ts.broker, registry, resolver, ts.blobs,
		service.ReportServiceOptions{}, logger.Discard())
	require.NoError(t, err)
	templates, err := service.NewTemplateService(memory.NewTemplateStore(), registry, logger.Discard())
	require.NoError(t, err)

	ts.router = NewReportHandler(reports, templates, logger.Discard()).Routes(nil)
	return ts
}

// do sends a request as caller; a zero Identity sends it unauthenticated.
func (ts *testServer) do(t *testing.T, caller shared.Identity, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller.UserID != uuid.Nil {
		req = req.WithContext(shared.WithIdentity(req.Context(), caller))
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

// putJob stores a job directly in the given status.
func (ts *testServer) putJob(t *testing.T, owner uuid.UUID, status domain.JobStatus) *domain.ReportJob {
	t.Helper()
	job, err := domain.NewReportJob(owner, "student-progress", "Progress", domain.FormatCSV, domain.JobConfig{}, nil, 0)
	require.NoError(t, err)
	job.Status = status
	if status == domain.JobStatusCompleted {
		obj, err := ts.blobs.Put(context.Background(), []byte("Student\nAsha\n"), blob.KeyHints{
			ReportType: job.ReportType,
			Scope:      job.ScopeOrGlobal(),
			JobID:      job.ID,
			Format:     job.Format,
			CreatedAt:  job.CreatedAt,
		})
		require.NoError(t, err)
		job.FileReference = &obj.Key
		job.FileSize = obj.Size
	}
	ts.jobs.Put(job)
	return job
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func principal() shared.Identity {
	return shared.Identity{UserID: uuid.New(), Roles: []string{"principal"}}
}

func TestReportHandler_Unauthenticated(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	for _, path := range []string{"/catalog", "/jobs", "/queue/stats", "/templates"} {
		rec := ts.do(t, shared.Identity{}, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestReportHandler_Catalog(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	staff := shared.Identity{UserID: uuid.New(), Roles: []string{"staff"}}

	rec := ts.do(t, principal(), http.MethodGet, "/catalog", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cat := decodeBody[CatalogResponse](t, rec)
	assert.NotEmpty(t, cat.Categories)

	rec = ts.do(t, principal(), http.MethodGet, "/catalog/student-progress", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Student Progress")

	rec = ts.do(t, staff, http.MethodGet, "/catalog/student-progress", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "hidden report types look missing")

	rec = ts.do(t, principal(), http.MethodGet, "/catalog/no-such-report", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, principal(), http.MethodGet, "/catalog/student-progress/filters/grade/values?scope=inst-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	values := decodeBody[FilterValuesResponse](t, rec)
	assert.Len(t, values.Options, 2)

	rec = ts.do(t, staff, http.MethodGet, "/catalog/staff-directory/filters/designation/values", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "static filters have no dynamic values")
}

func TestReportHandler_CreateJob(t *testing.T) {
	t.Parallel()

	valid := map[string]any{
		"report_type": "student-progress",
		"format":      "csv",
		"config":      map[string]any{"columns": []string{"student_name", "grade"}},
	}

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"accepted", valid, http.StatusAccepted},
		{"excel alias", map[string]any{"report_type": "student-progress", "format": "excel"}, http.StatusAccepted},
		{"malformed json", `{"report_type":`, http.StatusBadRequest},
		{"unknown field", `{"report_type":"student-progress","format":"csv","extra":1}`, http.StatusBadRequest},
		{"missing report type", map[string]any{"format": "csv"}, http.StatusBadRequest},
		{"unsupported format", map[string]any{"report_type": "student-progress", "format": "docx"}, http.StatusBadRequest},
		{"unknown column", map[string]any{
			"report_type": "student-progress",
			"format":      "csv",
			"config":      map[string]any{"columns": []string{"salary"}},
		}, http.StatusBadRequest},
		{"unknown report type", map[string]any{"report_type": "nope", "format": "csv"}, http.StatusNotFound},
		{"missing required filter", map[string]any{"report_type": "attendance-summary", "format": "csv"}, http.StatusBadRequest},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ts := newTestServer(t)

			rec := ts.do(t, principal(), http.MethodPost, "/jobs", tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())

			if tc.status == http.StatusAccepted {
				resp := decodeBody[CreateJobResponse](t, rec)
				job, err := ts.jobs.GetByID(context.Background(), resp.JobID)
				require.NoError(t, err)
				assert.Equal(t, domain.JobStatusPending, job.Status)

				stats, err := ts.broker.Stats(context.Background())
				require.NoError(t, err)
				assert.Equal(t, 1, stats.Waiting)
			} else {
				errResp := decodeBody[shared.ErrorResponse](t, rec)
				assert.NotEmpty(t, errResp.Error)
			}
		})
	}
}

func TestReportHandler_CreateJobSync(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	rec := ts.do(t, principal(), http.MethodPost, "/jobs/sync", map[string]any{
		"report_type": "student-progress",
		"format":      "json",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	snap := decodeBody[domain.JobSnapshot](t, rec)
	assert.Equal(t, domain.JobStatusProcessing, snap.Status)
	assert.NotEqual(t, uuid.Nil, snap.ID)
}

func TestReportHandler_JobLifecycle(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	owner := principal()
	other := principal()

	rec := ts.do(t, owner, http.MethodPost, "/jobs", map[string]any{
		"report_type": "student-progress",
		"format":      "csv",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	jobID := decodeBody[CreateJobResponse](t, rec).JobID
	jobPath := "/jobs/" + jobID.String()

	rec = ts.do(t, owner, http.MethodGet, jobPath+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.JobStatusPending, decodeBody[domain.JobSnapshot](t, rec).Status)

	rec = ts.do(t, other, http.MethodGet, jobPath, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, owner, http.MethodGet, jobPath+"/download", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "pending jobs have no file")

	rec = ts.do(t, other, http.MethodPost, jobPath+"/cancel", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, owner, http.MethodPost, jobPath+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	action := decodeBody[JobActionResponse](t, rec)
	assert.Equal(t, domain.JobStatusCancelled, action.Status)
	stats, err := ts.broker.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Waiting, "queue entry removed")

	rec = ts.do(t, owner, http.MethodPost, jobPath+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "cancelled jobs cannot be cancelled again")

	rec = ts.do(t, owner, http.MethodPost, jobPath+"/retry", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, domain.JobStatusPending, decodeBody[JobActionResponse](t, rec).Status)

	rec = ts.do(t, owner, http.MethodDelete, jobPath, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "pending jobs cannot be deleted")

	rec = ts.do(t, owner, http.MethodPost, jobPath+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, owner, http.MethodDelete, jobPath, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, owner, http.MethodGet, jobPath+"/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReportHandler_PathValidation(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	rec := ts.do(t, principal(), http.MethodGet, "/jobs/not-a-uuid/status", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, principal(), http.MethodGet, "/jobs/"+uuid.NewString()+"/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, principal(), http.MethodGet, "/jobs?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, principal(), http.MethodGet, "/jobs?page=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportHandler_ListJobs(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	owner := principal()

	for i := 0; i < 3; i++ {
		ts.putJob(t, owner.UserID, domain.JobStatusCompleted)
	}
	ts.putJob(t, uuid.New(), domain.JobStatusCompleted)

	rec := ts.do(t, owner, http.MethodGet, "/jobs?page=1&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodeBody[service.Page[domain.JobSnapshot]](t, rec)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.TotalPages)
}

func TestReportHandler_Download(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	owner := principal()
	job := ts.putJob(t, owner.UserID, domain.JobStatusCompleted)

	rec := ts.do(t, owner, http.MethodGet, "/jobs/"+job.ID.String()+"/download", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	disposition := rec.Header().Get("Content-Disposition")
	assert.True(t, strings.HasPrefix(disposition, `attachment; filename="student-progress-`), disposition)
	assert.True(t, strings.HasSuffix(disposition, `.csv"`), disposition)
	assert.Equal(t, "Student\nAsha\n", rec.Body.String())

	rec = ts.do(t, principal(), http.MethodGet, "/jobs/"+job.ID.String()+"/download", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestReportHandler_Templates(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	owner := principal()
	other := principal()

	rec := ts.do(t, owner, http.MethodPost, "/templates", map[string]any{
		"name":        "Grade 7",
		"report_type": "student-progress",
		"config":      map[string]any{"filters": map[string]any{"grade": "7"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tmpl := decodeBody[domain.Template](t, rec)
	assert.Equal(t, owner.UserID, tmpl.OwnerID)

	rec = ts.do(t, owner, http.MethodPost, "/templates", map[string]any{
		"name":        "Bad",
		"report_type": "student-progress",
		"config":      map[string]any{"filters": map[string]any{"salary": "1"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, owner, http.MethodGet, "/templates?report_type=student-progress", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[TemplatesResponse](t, rec).Templates, 1)

	rec = ts.do(t, other, http.MethodGet, "/templates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[TemplatesResponse](t, rec).Templates, "private templates stay private")

	rec = ts.do(t, other, http.MethodDelete, "/templates/"+tmpl.ID.String(), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, owner, http.MethodDelete, "/templates/"+tmpl.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, owner, http.MethodDelete, "/templates/"+tmpl.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReportHandler_Queue(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	caller := principal()

	rec := ts.do(t, caller, http.MethodPost, "/jobs", map[string]any{
		"report_type": "student-progress",
		"format":      "csv",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = ts.do(t, caller, http.MethodGet, "/queue/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody[queue.Stats](t, rec)
	assert.Equal(t, 1, stats.Waiting)

	rec = ts.do(t, caller, http.MethodGet, "/queue/active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[QueueEntriesResponse](t, rec).Entries)

	ts.broker.SetUnavailable(errors.New("broker offline"))

	rec = ts.do(t, caller, http.MethodGet, "/queue/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeBody[queue.Stats](t, rec).Error)

	rec = ts.do(t, caller, http.MethodGet, "/queue/failed", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Queue is unavailable")
}
