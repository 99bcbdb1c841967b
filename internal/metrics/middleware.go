package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// statusOf returns the status written through ww. Handlers that only
// call Write never set it explicitly.
func statusOf(ww middleware.WrapResponseWriter) int {
	if ww.Status() == 0 {
		return http.StatusOK
	}
	return ww.Status()
}

// HTTPMiddleware records request metrics. Counters go through the
// collector when one is given so they survive restarts, otherwise through
// the global metrics.
func HTTPMiddleware(c *Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := Global()
			if c != nil {
				m = c.metrics
			}
			if m == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			duration := time.Since(start).Seconds()
			code := statusOf(ww)
			status := strconv.Itoa(code)
			path := normalizePath(r)

			m.APIRequestDurationSeconds.WithLabelValues(r.Method, path).Observe(duration)
			if c != nil {
				c.TrackAPIRequest(r.Method, path, status)
			} else {
				m.APIRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			}

			if code >= 400 {
				errorType := categorizeStatus(code)
				if c != nil {
					c.TrackAPIError(errorType)
				} else {
					m.APIErrorsTotal.WithLabelValues(errorType).Inc()
				}
			}
		})
	}
}

// normalizePath returns the chi route pattern, or the path with ids
// replaced, to keep label cardinality bounded
func normalizePath(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}

	parts := strings.Split(r.URL.Path, "/")
	for i, part := range parts {
		if len(part) == 36 {
			if _, err := uuid.Parse(part); err == nil {
				parts[i] = "{id}"
			}
		}
	}
	return strings.Join(parts, "/")
}

// categorizeStatus categorizes HTTP status codes into error types
func categorizeStatus(status int) string {
	switch {
	case status >= 500:
		return "server_error"
	case status == 429:
		return "rate_limited"
	case status == 401 || status == 403:
		return "auth_error"
	case status == 404:
		return "not_found"
	case status == 409:
		return "conflict"
	case status == 400:
		return "bad_request"
	case status >= 400:
		return "client_error"
	default:
		return "unknown"
	}
}
