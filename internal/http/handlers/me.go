package handlers

import (
	"net/http"

	"polyatop/backend/internal/http/middleware"
)

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		logger.Warn("action", "action", "me", "status", "unauthorized")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	user, err := h.repo.GetUserByID(ctx, userID)
	if err != nil {
		h.handleBookingError(logger, w, "me", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// MyTransactions lists the caller's payment attempts, newest first.
func (h *Handler) MyTransactions(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	limit, offset := parsePage(r)
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	items, err := h.repo.ListUserTransactions(ctx, userID, limit, offset)
	if err != nil {
		h.handleBookingError(logger, w, "list_transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}
