package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/proofpay/settlement-coordinator/internal/app/metrics"
	"github.com/proofpay/settlement-coordinator/pkg/logger"
)

// responseWriter captures the status code for logging and metrics.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// withObservability wraps the handler with request logging and HTTP metrics.
// Fund ids are collapsed out of the metric path to keep label cardinality
// bounded.
func withObservability(next http.Handler, log *logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.NewString()
		}
		w.Header().Set("X-Trace-ID", traceID)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := metricPath(r.URL.Path)
		metrics.ObserveHTTPRequest(r.Method, path, strconv.Itoa(wrapped.statusCode), start)

		log.WithField("trace_id", traceID).
			WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("status", wrapped.statusCode).
			WithField("duration", time.Since(start).String()).
			Debug("http request")
	})
}

// metricPath normalizes /funds/{id}... paths to a fixed label.
func metricPath(path string) string {
	if !strings.HasPrefix(path, "/funds/") {
		return path
	}
	rest := strings.Trim(strings.TrimPrefix(path, "/funds/"), "/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) == 2 {
		return "/funds/{id}/" + parts[1]
	}
	return "/funds/{id}"
}

// withCORS applies a permissive same-API CORS policy for browser clients.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Trace-ID")
			w.Header().Set("Access-Control-Expose-Headers", "X-Trace-ID")
			w.Header().Set("Access-Control-Max-Age", "3600")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
