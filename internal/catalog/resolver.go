package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/phrazzld/report-api/internal/platform/logger"
)

// DefaultFilterCacheTTL is how long resolved option lists are reused.
const DefaultFilterCacheTTL = time.Hour

const filterCacheSize = 512

// OptionSource looks up the options of a dynamic filter in the report data.
type OptionSource interface {
	FilterOptions(ctx context.Context, def Definition, filter Filter, scope string) ([]Option, error)
}

// FilterResolver resolves dynamic filter options through an OptionSource and
// caches the result per (report type, filter, scope).
type FilterResolver struct {
	registry *Registry
	source   OptionSource
	cache    *expirable.LRU[string, []Option]
}

// NewFilterResolver creates a resolver. ttl <= 0 uses DefaultFilterCacheTTL.
func NewFilterResolver(registry *Registry, source OptionSource, ttl time.Duration) *FilterResolver {
	if ttl <= 0 {
		ttl = DefaultFilterCacheTTL
	}
	return &FilterResolver{
		registry: registry,
		source:   source,
		cache:    expirable.NewLRU[string, []Option](filterCacheSize, nil, ttl),
	}
}

// Resolve returns the ordered options of a dynamic filter. Static filters
// yield ErrFilterNotDynamic.
func (r *FilterResolver) Resolve(ctx context.Context, reportType, filterID, scope string) ([]Option, error) {
	def, err := r.registry.Get(reportType)
	if err != nil {
		return nil, err
	}

	f, ok := def.Filter(filterID)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownFilter, reportType, filterID)
	}
	if !f.Dynamic {
		return nil, fmt.Errorf("%w: %s.%s", ErrFilterNotDynamic, reportType, filterID)
	}

	key := reportType + "|" + filterID + "|" + scope
	if cached, ok := r.cache.Get(key); ok {
		return append([]Option(nil), cached...), nil
	}

	opts, err := r.source.FilterOptions(ctx, def, f, scope)
	if err != nil {
		return nil, fmt.Errorf("resolve filter %s.%s: %w", reportType, filterID, err)
	}

	r.cache.Add(key, opts)
	logger.FromContext(ctx).Debug("resolved dynamic filter options",
		slog.String("report_type", reportType),
		slog.String("filter_id", filterID),
		slog.Int("count", len(opts)))

	return append([]Option(nil), opts...), nil
}
