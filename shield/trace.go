package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/moa-lab/phishing-alive-measurement/idgen"
)

var newTraceID = idgen.Short(8)

// TraceID tags each request with a short random id, echoed in X-Trace-ID,
// and stores a per-request logger under LoggerKey.
func TraceID(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := newTraceID()
			w.Header().Set("X-Trace-ID", traceID)

			l := logger.With(
				"trace_id", traceID,
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			l.Debug("shield: request")
			ctx := context.WithValue(r.Context(), LoggerKey, l)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
