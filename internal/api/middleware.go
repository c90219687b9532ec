package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/shelfnotes/shelfnotes-server/internal/config"
	"github.com/shelfnotes/shelfnotes-server/internal/http/response"
	"github.com/shelfnotes/shelfnotes-server/internal/logger"
	"github.com/shelfnotes/shelfnotes-server/internal/visitor"
)

// requestLogger logs one line per request with its status and duration.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			reqLog := log.With(slog.String("request_id", middleware.GetReqID(r.Context())))

			next.ServeHTTP(ww, r.WithContext(logger.IntoContext(r.Context(), reqLog)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelDebug
			switch {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelInfo
			}
			reqLog.Log(r.Context(), level, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

// visitorMiddleware attaches the visitor named by the visitor cookie to
// every API request, creating one for new or expired visitors.
func visitorMiddleware(registry *visitor.Registry, cfg config.VisitorConfig, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/api/") {
				next.ServeHTTP(w, r)
				return
			}

			var visitorID string
			if c, err := r.Cookie(cfg.CookieName); err == nil {
				visitorID = c.Value
			}

			v, created, err := registry.Resolve(r.Context(), visitorID)
			if err != nil {
				response.HandleError(w, err, log)
				return
			}
			if created && visitorID != "" {
				log.Debug("replacing unknown visitor", slog.String("stale_visitor_id", visitorID))
			}

			// Re-sent on every request so the cookie expires with the
			// server-side idle TTL.
			http.SetCookie(w, &http.Cookie{
				Name:     cfg.CookieName,
				Value:    v.ID,
				Path:     "/",
				MaxAge:   int(cfg.IdleTTL.Seconds()),
				HttpOnly: true,
				Secure:   cfg.SecureCookie,
				SameSite: http.SameSiteLaxMode,
			})

			ctx := visitor.NewContext(r.Context(), v)
			ctx = logger.IntoContext(ctx, logger.FromContext(ctx, log).With(slog.String("visitor_id", v.ID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// visitorID resolves the SSE stream's visitor from the request context.
func visitorID(r *http.Request) (string, bool) {
	v, ok := visitor.FromContext(r.Context())
	if !ok {
		return "", false
	}
	return v.ID, true
}
