package middleware

import (
	"context"
	"net/http"

	"polyatop/backend/internal/models"
)

// UserLookup loads the current state of a user.
type UserLookup interface {
	GetUserByID(ctx context.Context, id int64) (models.User, error)
}

// RequireRole lets the request through only when the caller holds one of
// roles. The role is re-read from users so a demotion takes effect before the
// token expires. Telegram ids in adminTGIDs always pass as superadmin.
func RequireRole(users UserLookup, adminTGIDs map[int64]struct{}, roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := UserIDFromContext(r.Context())
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			telegramID, _ := TelegramIDFromContext(r.Context())
			role := RoleFromContext(r.Context())

			if _, admin := adminTGIDs[telegramID]; admin && telegramID != 0 {
				role = models.RoleSuperadmin
			} else if users != nil {
				user, err := users.GetUserByID(r.Context(), userID)
				if err != nil {
					writeAuthError(w, http.StatusUnauthorized, "unauthorized")
					return
				}
				role = user.Role
			}

			if _, ok := allowed[role]; !ok {
				writeAuthError(w, http.StatusForbidden, "forbidden")
				return
			}
			ctx := WithIdentity(r.Context(), userID, telegramID, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
