package observability

import (
	"net/http"
	"strconv"
	"time"
)

// MetricsMiddleware returns a middleware that records request metrics.
//
// The path label is the ServeMux pattern that mux would route the request
// to (e.g. "GET /v1/runs/{id}") so that IDs do not explode label
// cardinality. Resolving the pattern up front keeps the label correct when
// inner middleware hands the mux a copy of the request. With a nil mux the
// pattern recorded on the request itself is used. Requests that match no
// pattern are labelled "unmatched".
func MetricsMiddleware(mux *http.ServeMux) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			var path string
			if mux != nil {
				_, path = mux.Handler(r)
			}

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			if path == "" {
				path = r.Pattern
			}
			if path == "" {
				path = "unmatched"
			}
			statusStr := strconv.Itoa(sw.status/100) + "xx"

			RequestsTotal.WithLabelValues(r.Method, statusStr, path).Inc()
			RequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.written {
		w.status = status
		w.written = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}

// Unwrap returns the underlying ResponseWriter, enabling http.ResponseController
// and similar utilities to access the original writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
