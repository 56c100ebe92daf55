package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/semanticweft/node/internal/api/apiutil"
	"github.com/semanticweft/node/internal/ratelimit"
)

// slogMiddleware logs one structured line per request, mirroring the
// teacher's request-logging middleware.
func slogMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.LogAttrs(r.Context(), slog.LevelInfo, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote", r.RemoteAddr),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// maxBodySize caps every request body at n bytes, protecting the node
// against unbounded uploads (spec §5 resource limits).
func maxBodySize(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimitMiddleware enforces the node's per-client request cap (spec §5,
// §6). A client that exceeds its bucket gets the flat error envelope rather
// than chi's default plaintext response.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ratelimit.ClientKey(r)
		res := s.Limiter.Check(r.Context(), key)
		ratelimit.SetHeaders(w, res)
		if !res.Allowed {
			apiutil.WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "rate limit exceeded, try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}
