package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobConfigValidateShape(t *testing.T) {
	t.Parallel()

	tooMany := map[string]any{}
	for i := 0; i <= MaxFilterKeys; i++ {
		tooMany[fmt.Sprintf("f%d", i)] = "x"
	}

	tests := []struct {
		name    string
		cfg     JobConfig
		wantErr bool
	}{
		{"empty", JobConfig{}, false},
		{"scalars", JobConfig{Filters: map[string]any{"grade": "5", "active": true, "min": 3.0}}, false},
		{"flat list", JobConfig{Filters: map[string]any{"ids": []any{"a", "b", 3.0}}}, false},
		{"too many keys", JobConfig{Filters: tooMany}, true},
		{"long string", JobConfig{Filters: map[string]any{"q": strings.Repeat("a", MaxFilterValueLen+1)}}, true},
		{"nested object", JobConfig{Filters: map[string]any{"q": map[string]any{"$gt": 1}}}, true},
		{"list of objects", JobConfig{Filters: map[string]any{"q": []any{map[string]any{"a": 1}}}}, true},
		{"nested list", JobConfig{Filters: map[string]any{"q": []any{[]any{"a"}}}}, true},
		{"bad sort direction", JobConfig{Sort: []SortSpec{{Field: "name", Direction: "sideways"}}}, true},
		{"empty sort field", JobConfig{Sort: []SortSpec{{Direction: SortAsc}}}, true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.ValidateShape()
			if tc.wantErr {
				assert.True(t, errors.Is(err, ErrValidation), "expected validation error, got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestJobConfigScan(t *testing.T) {
	t.Parallel()

	var cfg JobConfig
	err := cfg.Scan([]byte(`{"columns":["name"],"filters":{"grade":"5"},"sort":[{"field":"name","direction":"desc"}]}`))
	assert.NoError(t, err)
	assert.Equal(t, []string{"name"}, cfg.Columns)
	assert.Equal(t, "5", cfg.Filters["grade"])
	assert.Equal(t, SortDesc, cfg.Sort[0].Direction)

	assert.NoError(t, cfg.Scan(nil))
	assert.Empty(t, cfg.Columns)

	assert.Error(t, cfg.Scan(42))
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	f, err := ParseFormat("Excel")
	assert.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	f, err = ParseFormat(" pdf ")
	assert.NoError(t, err)
	assert.Equal(t, ".pdf", f.Extension())

	_, err = ParseFormat("docx")
	assert.ErrorIs(t, err, ErrInvalidFormat)
}
