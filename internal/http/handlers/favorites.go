package handlers

import (
	"encoding/json"
	"net/http"

	"polyatop/backend/internal/http/middleware"
)

type favoriteRequest struct {
	VenueID int64 `json:"venueId" validate:"required,gt=0"`
}

func (h *Handler) ListFavorites(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	limit, offset := parsePage(r)
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	items, err := h.repo.ListFavoriteVenues(ctx, userID, limit, offset)
	if err != nil {
		h.handleBookingError(logger, w, "list_favorites", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (h *Handler) AddFavorite(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req favoriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "venueId required")
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	venue, err := h.repo.AddFavoriteVenue(ctx, userID, req.VenueID)
	if err != nil {
		h.handleBookingError(logger, w, "add_favorite", err)
		return
	}
	logger.Info("action", "action", "add_favorite", "status", "success", "user_id", userID, "venue_id", venue.ID)
	writeJSON(w, http.StatusCreated, venue)
}

func (h *Handler) RemoveFavorite(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	venueID, ok := parseIDParam(r, "venueId")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid venue id")
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	if err := h.repo.RemoveFavoriteVenue(ctx, userID, venueID); err != nil {
		h.handleBookingError(logger, w, "remove_favorite", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
