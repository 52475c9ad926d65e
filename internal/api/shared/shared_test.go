package shared

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityContext(t *testing.T) {
	t.Parallel()

	_, ok := IdentityFromContext(context.Background())
	assert.False(t, ok)

	_, ok = IdentityFromContext(WithIdentity(context.Background(), Identity{}))
	assert.False(t, ok, "nil user id is not an identity")

	want := Identity{UserID: uuid.New(), Roles: []string{"mentor"}}
	got, ok := IdentityFromContext(WithIdentity(context.Background(), want))
	require.True(t, ok)
	assert.Equal(t, want, got)
}

// Not parallel: replaces the package random source.
func TestTraceID(t *testing.T) {
	ctx := SetTraceID(context.Background())
	assert.Len(t, GetTraceID(ctx), 32)
	assert.NotEqual(t, GetTraceID(ctx), GetTraceID(SetTraceID(context.Background())))
	assert.Empty(t, GetTraceID(context.Background()))

	orig := randRead
	t.Cleanup(func() { randRead = orig })
	randRead = func([]byte) (int, error) { return 0, errors.New("entropy exhausted") }
	assert.Len(t, generateTraceID(), 32)
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()
	type payload struct {
		Name string `json:"name" validate:"required"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"name":"x"}`, false},
		{"unknown field", `{"name":"x","extra":1}`, true},
		{"trailing object", `{"name":"x"}{"name":"y"}`, true},
		{"malformed", `{"name":`, true},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var p payload
			err := DecodeJSON(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body)), &p)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, ValidateRequest(&p))
		})
	}

	assert.Error(t, ValidateRequest(&payload{}))
}

func TestQueryInt(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodGet, "/?page=3&limit=abc&zero=0", nil)

	n, err := QueryInt(req, "page", 1)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = QueryInt(req, "missing", 20)
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	_, err = QueryInt(req, "limit", 20)
	assert.Error(t, err)
	_, err = QueryInt(req, "zero", 20)
	assert.Error(t, err)
}

func TestRespondWithErrorAndLog(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req = req.WithContext(SetTraceID(req.Context()))
	rec := httptest.NewRecorder()

	RespondWithErrorAndLog(rec, req, http.StatusInternalServerError, "Something went wrong",
		errors.New("dial tcp 10.0.0.5:5432: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Something went wrong", body.Error)
	assert.Equal(t, GetTraceID(req.Context()), body.TraceID)
}

func TestRespondWithFile(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	RespondWithFile(rec, httptest.NewRequest(http.MethodGet, "/", nil), "report.csv", "text/csv", []byte("a,b\n"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="report.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "a,b\n", rec.Body.String())
}
