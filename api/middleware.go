package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"gen_backend/logging"
	"gen_backend/shutdown"
)

// OperationWrapper runs a request as a tracked operation so shutdown can
// wait for it. *shutdown.Manager implements it.
type OperationWrapper interface {
	WrapOperation(ctx context.Context, fn func(context.Context) error) error
}

// HTTPObserver receives one call per handled request.
type HTTPObserver interface {
	ObserveHTTP(method, route string, status int, elapsed time.Duration)
}

// responseWriter captures the status code and response size.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
	wroteHeader  bool
}

func (w *responseWriter) WriteHeader(statusCode int) {
	if !w.wroteHeader {
		w.statusCode = statusCode
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher if the underlying writer supports it.
func (w *responseWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// requestLogger logs every request and reports it to obs. Paths in skip
// are neither logged nor observed.
func requestLogger(logger *logging.Logger, obs HTTPObserver, skip ...string) func(http.Handler) http.Handler {
	skipPaths := make(map[string]bool, len(skip))
	for _, p := range skip {
		skipPaths[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			elapsed := time.Since(start)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			if obs != nil {
				obs.ObserveHTTP(r.Method, route, wrapped.statusCode, elapsed)
			}

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", elapsed),
				zap.Int64("bytes", wrapped.bytesWritten),
				zap.String("remote_addr", clientIP(r)),
			}
			if wrapped.statusCode >= 500 {
				logger.Warn("http request", fields...)
			} else {
				logger.Debug("http request", fields...)
			}
		})
	}
}

// tracked rejects requests with 503 once shutdown has begun and otherwise
// holds the shutdown sequence until the request finishes.
func tracked(ops OperationWrapper) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if ops == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := ops.WrapOperation(r.Context(), func(ctx context.Context) error {
				next.ServeHTTP(w, r)
				return nil
			})
			if errors.Is(err, shutdown.ErrTrackerClosed) {
				w.Header().Set("Retry-After", "30")
				writeError(w, http.StatusServiceUnavailable, "server is shutting down")
			}
		})
	}
}

// clientIP prefers X-Forwarded-For and X-Real-IP for proxied requests.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
