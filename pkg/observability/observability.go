package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// RequestLoggingMiddleware logs every request handled by the router it wraps
// (the health HTTP server's; /metrics is served elsewhere): method, path, status code, and duration, tagged with a
// request id so a single request's log lines can be correlated.
func RequestLoggingMiddleware(logger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = generateRequestID()
				r.Header.Set("X-Request-ID", requestID)
			}
			ctx := context.WithValue(r.Context(), requestIDContextKey{}, requestID)
			r = r.WithContext(ctx)

			wrapped := &statusCapturingWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			logger.Info(ctx, "http request", map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status_code": wrapped.statusCode,
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  requestID,
			})
		})
	}
}

type requestIDContextKey struct{}

// statusCapturingWriter wraps http.ResponseWriter to capture the status code
// written so it can be logged after the handler returns.
type statusCapturingWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusCapturingWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func generateRequestID() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}
