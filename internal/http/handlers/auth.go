package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"polyatop/backend/internal/auth"
	"polyatop/backend/internal/models"

	"golang.org/x/crypto/bcrypt"
)

type authRequest struct {
	InitData string `json:"initData" validate:"required"`
}

type adminAuthRequest struct {
	Username   string `json:"username" validate:"required"`
	Password   string `json:"password" validate:"required"`
	TelegramID *int64 `json:"telegramId"`
}

func (h *Handler) AuthTelegram(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("action", "action", "auth_telegram", "status", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "initData required")
		return
	}

	initData, err := auth.ValidateInitData(req.InitData, h.cfg.TelegramToken, h.cfg.InitDataMaxAge)
	if err != nil {
		logger.Warn("action", "action", "auth_telegram", "status", "invalid_init_data", "error", err)
		writeError(w, http.StatusUnauthorized, "invalid initData")
		return
	}
	if initData.User.ID == 0 {
		writeError(w, http.StatusUnauthorized, "invalid initData")
		return
	}

	role := models.RoleCustomer
	if h.cfg.IsAdminTelegramID(initData.User.ID) {
		role = models.RoleSuperadmin
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	stored, err := h.repo.UpsertUser(ctx, models.User{
		TelegramID: initData.User.ID,
		Username:   initData.User.Username,
		FirstName:  initData.User.FirstName,
		LastName:   initData.User.LastName,
		PhotoURL:   initData.User.PhotoURL,
		Language:   initData.User.LanguageCode,
		Role:       role,
	})
	if err != nil {
		logger.Error("action", "action", "auth_telegram", "status", "db_error", "error", err)
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}

	token, err := auth.SignAccessToken(h.cfg.JWTSecret, stored.ID, stored.TelegramID, stored.Role)
	if err != nil {
		logger.Error("action", "action", "auth_telegram", "status", "token_error", "error", err)
		writeError(w, http.StatusInternalServerError, "token error")
		return
	}

	logger.Info("action", "action", "auth_telegram", "status", "success", "user_id", stored.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accessToken": token,
		"user":        stored,
	})
}

// AuthAdmin is the password login for operators. The token is bound to a
// configured admin Telegram account so staff actions reference a real user.
func (h *Handler) AuthAdmin(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	var req adminAuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("action", "action", "auth_admin", "status", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if err := h.validator.Struct(req); err != nil || req.Username == "" {
		logger.Warn("action", "action", "auth_admin", "status", "invalid_credentials")
		writeError(w, http.StatusBadRequest, "username and password required")
		return
	}
	if h.cfg.AdminLogin == "" || h.cfg.AdminPassHash == "" {
		logger.Warn("action", "action", "auth_admin", "status", "disabled")
		writeError(w, http.StatusUnauthorized, "admin login disabled")
		return
	}
	if req.Username != h.cfg.AdminLogin {
		logger.Warn("action", "action", "auth_admin", "status", "invalid_credentials")
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(h.cfg.AdminPassHash), []byte(req.Password)); err != nil {
		logger.Warn("action", "action", "auth_admin", "status", "invalid_credentials")
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	telegramID, ok := h.resolveAdminTelegramID(req.TelegramID)
	if !ok {
		writeError(w, http.StatusBadRequest, "telegramId required")
		return
	}
	if !h.cfg.IsAdminTelegramID(telegramID) {
		logger.Warn("action", "action", "auth_admin", "status", "forbidden", "telegram_id", telegramID)
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	user, err := h.repo.UpsertUser(ctx, models.User{
		TelegramID: telegramID,
		Username:   req.Username,
		FirstName:  "Admin",
		Role:       models.RoleSuperadmin,
	})
	if err != nil {
		logger.Error("action", "action", "auth_admin", "status", "db_error", "error", err)
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}

	token, err := auth.SignAccessToken(h.cfg.JWTSecret, user.ID, user.TelegramID, models.RoleSuperadmin)
	if err != nil {
		logger.Error("action", "action", "auth_admin", "status", "token_error", "error", err)
		writeError(w, http.StatusInternalServerError, "token error")
		return
	}

	logger.Info("action", "action", "auth_admin", "status", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accessToken": token,
		"user":        user,
	})
}

func (h *Handler) resolveAdminTelegramID(requested *int64) (int64, bool) {
	if requested != nil && *requested > 0 {
		return *requested, true
	}
	if len(h.cfg.AdminTGIDs) == 1 {
		for id := range h.cfg.AdminTGIDs {
			return id, true
		}
	}
	return 0, false
}
