package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// RequestLogger writes one access log record per request. Webhook and Click
// callbacks are logged without their query string, which may carry signatures.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Int64("duration_ms", time.Since(started).Milliseconds()),
				slog.String("ip", r.RemoteAddr),
			}
			if r.URL.RawQuery != "" && !isCallbackPath(r.URL.Path) {
				attrs = append(attrs, slog.String("query", r.URL.RawQuery))
			}
			if reqID := chimw.GetReqID(r.Context()); reqID != "" {
				attrs = append(attrs, slog.String("request_id", reqID))
			}
			if userID, ok := UserIDFromContext(r.Context()); ok {
				attrs = append(attrs, slog.Int64("user_id", userID))
			}
			if role := RoleFromContext(r.Context()); role != "" {
				attrs = append(attrs, slog.String("role", role))
			}

			level := slog.LevelInfo
			switch {
			case status >= http.StatusInternalServerError:
				level = slog.LevelError
			case status >= http.StatusBadRequest:
				level = slog.LevelWarn
			}
			logger.LogAttrs(r.Context(), level, "http_request", attrs...)
		})
	}
}

func isCallbackPath(path string) bool {
	switch path {
	case "/telegram/webhook", "/payments/click/prepare", "/payments/click/complete":
		return true
	}
	return false
}
