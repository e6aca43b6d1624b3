package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"polyatop/backend/internal/auth"
)

type contextKey string

const (
	userIDKey     contextKey = "user_id"
	telegramIDKey contextKey = "telegram_id"
	roleKey       contextKey = "role"
)

func UserIDFromContext(ctx context.Context) (int64, bool) {
	val, ok := ctx.Value(userIDKey).(int64)
	return val, ok
}

func TelegramIDFromContext(ctx context.Context) (int64, bool) {
	val, ok := ctx.Value(telegramIDKey).(int64)
	return val, ok
}

func RoleFromContext(ctx context.Context) string {
	val, _ := ctx.Value(roleKey).(string)
	return val
}

// WithIdentity stores an authenticated caller in ctx.
func WithIdentity(ctx context.Context, userID, telegramID int64, role string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	ctx = context.WithValue(ctx, telegramIDKey, telegramID)
	return context.WithValue(ctx, roleKey, role)
}

func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeAuthError(w, http.StatusUnauthorized, "missing Authorization")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				writeAuthError(w, http.StatusUnauthorized, "invalid Authorization")
				return
			}
			claims, err := auth.ParseAccessToken(secret, strings.TrimSpace(parts[1]))
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			ctx := WithIdentity(r.Context(), claims.UserID, claims.TelegramID, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
