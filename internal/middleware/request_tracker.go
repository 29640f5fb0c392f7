package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/brigada-app/backend/internal/store"
)

// RequestTracker stores per-organization request metrics in the database.
type RequestTracker struct {
	store *store.Store
}

// NewRequestTracker creates a new request tracker middleware backed by the
// given store.
func NewRequestTracker(s *store.Store) (*RequestTracker, error) {
	if s == nil {
		return nil, errors.New("middleware: store cannot be nil")
	}
	return &RequestTracker{store: s}, nil
}

// Middleware returns an HTTP middleware that records request metrics keyed by
// the X-Org-ID header. Requests without the header are served but not tracked.
func (rt *RequestTracker) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			orgID := strings.TrimSpace(r.Header.Get("X-Org-ID"))
			if orgID == "" {
				return
			}

			responseTimeMs := int(time.Since(start).Milliseconds())

			requestSizeBytes := int(r.ContentLength)
			if requestSizeBytes < 0 {
				requestSizeBytes = 0
			}
			responseSizeBytes := rw.size

			method := r.Method
			endpoint := r.URL.Path
			statusCode := rw.statusCode

			// Track asynchronously to avoid blocking the response.
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = rt.store.CreateRequest(
					ctx,
					orgID,
					method,
					endpoint,
					statusCode,
					&responseTimeMs,
					&requestSizeBytes,
					&responseSizeBytes,
					nil,
				)
			}()
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}
