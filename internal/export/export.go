// Package export turns report rows into file bytes. Each format has a
// Serializer; the Registry maps formats to serializers.
package export

import (
	"errors"
	"fmt"

	"github.com/phrazzld/report-api/internal/catalog"
	"github.com/phrazzld/report-api/internal/domain"
)

var (
	// ErrUnsupportedFormat is returned when no serializer is registered for a format.
	ErrUnsupportedFormat = errors.New("unsupported export format")

	// ErrNoColumns is returned when a serializer is asked to render zero columns.
	ErrNoColumns = errors.New("no columns to export")
)

// Serializer renders rows under the given columns. Implementations are pure:
// the same input always yields equivalent bytes.
type Serializer interface {
	Serialize(title string, columns []catalog.Column, rows []map[string]any) ([]byte, error)
}

// SerializerFunc adapts a function to Serializer.
type SerializerFunc func(title string, columns []catalog.Column, rows []map[string]any) ([]byte, error)

// Serialize implements Serializer.
func (f SerializerFunc) Serialize(title string, columns []catalog.Column, rows []map[string]any) ([]byte, error) {
	return f(title, columns, rows)
}

// Registry maps formats to serializers.
type Registry struct {
	serializers map[domain.Format]Serializer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{serializers: make(map[domain.Format]Serializer)}
}

// DefaultRegistry returns a registry with every built-in format.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(domain.FormatXLSX, XLSX{})
	r.Register(domain.FormatCSV, CSV{})
	r.Register(domain.FormatPDF, PDF{})
	r.Register(domain.FormatJSON, JSON{})
	return r
}

// Register installs s for format f, replacing any previous serializer.
func (r *Registry) Register(f domain.Format, s Serializer) {
	r.serializers[f] = s
}

// Get returns the serializer for f.
func (r *Registry) Get(f domain.Format) (Serializer, error) {
	s, ok := r.serializers[f]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
	return s, nil
}
