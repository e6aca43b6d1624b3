package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"polyatop/backend/internal/booking"
	"polyatop/backend/internal/repository"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func parseIDParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(chi.URLParam(r, name)), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func parsePage(r *http.Request) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}

// handleBookingError maps domain errors to HTTP responses.
func (h *Handler) handleBookingError(logger interface {
	Error(string, ...any)
	Warn(string, ...any)
}, w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, repository.ErrBookingNotFound),
		errors.Is(err, repository.ErrVenueNotFound),
		errors.Is(err, repository.ErrTransactionNotFound),
		errors.Is(err, repository.ErrUserNotFound),
		errors.Is(err, repository.ErrVenueImageNotFound),
		errors.Is(err, repository.ErrFavoriteNotFound),
		errors.Is(err, pgx.ErrNoRows):
		logger.Warn(action, "status", "not_found", "error", err)
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, booking.ErrInvalidInterval),
		errors.Is(err, booking.ErrSlotInPast),
		errors.Is(err, booking.ErrOutsideVenueHours),
		errors.Is(err, booking.ErrInvalidClock),
		errors.Is(err, repository.ErrInvalidPaymentProvider):
		logger.Warn(action, "status", "invalid_request", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrSlotAlreadyBooked),
		errors.Is(err, repository.ErrBookingStateNotAllowed),
		errors.Is(err, repository.ErrTransactionStateNotAllowed),
		errors.Is(err, repository.ErrFavoriteExists):
		logger.Warn(action, "status", "conflict", "error", err)
		writeError(w, http.StatusConflict, err.Error())
	default:
		logger.Error(action, "status", "internal_error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
