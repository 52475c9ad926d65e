package middleware

import (
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/report-api/internal/api/shared"
	"github.com/phrazzld/report-api/internal/platform/logger"
)

// TraceIDHeader echoes the request's trace ID to the client.
const TraceIDHeader = "X-Trace-ID"

// NewTraceMiddleware adds a trace ID to the request context and stores a
// request-scoped logger carrying it. Apply it early so every handler and
// error response can be correlated.
func NewTraceMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := shared.SetTraceID(r.Context())
			if reqID := chimw.GetReqID(ctx); reqID != "" {
				ctx = logger.WithRequestID(ctx, reqID)
			}

			traceID := shared.GetTraceID(ctx)
			w.Header().Set(TraceIDHeader, traceID)

			log := base.With(slog.String("trace_id", traceID))
			ctx = logger.WithLogger(ctx, log)

			log.Debug("request started",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
