package handlers

import (
	"net/http"

	"polyatop/backend/internal/payments"
)

// Click expects HTTP 200 with a JSON body for every callback; failures are
// reported through the error field.
func (h *Handler) ClickPrepare(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	if err := r.ParseForm(); err != nil {
		logger.Warn("action", "action", "click_prepare", "status", "invalid_form", "error", err)
		writeJSON(w, http.StatusOK, payments.ClickResponse{Error: payments.ClickBadRequest, ErrorNote: "Error in request from click"})
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	writeJSON(w, http.StatusOK, h.payments.ClickPrepare(ctx, payments.ParseClickRequest(r.Form)))
}

func (h *Handler) ClickComplete(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	if err := r.ParseForm(); err != nil {
		logger.Warn("action", "action", "click_complete", "status", "invalid_form", "error", err)
		writeJSON(w, http.StatusOK, payments.ClickResponse{Error: payments.ClickBadRequest, ErrorNote: "Error in request from click"})
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	writeJSON(w, http.StatusOK, h.payments.ClickComplete(ctx, payments.ParseClickRequest(r.Form)))
}
