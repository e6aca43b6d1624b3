package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"polyatop/backend/internal/booking"
	"polyatop/backend/internal/http/middleware"
	"polyatop/backend/internal/integrations"
	"polyatop/backend/internal/models"
	"polyatop/backend/internal/repository"

	"github.com/shopspring/decimal"
)

type venueRequest struct {
	Name          string          `json:"name" validate:"required,max=200"`
	Description   string          `json:"description" validate:"max=5000"`
	City          string          `json:"city" validate:"required,max=100"`
	Address       string          `json:"address" validate:"required,max=300"`
	Latitude      *float64        `json:"latitude" validate:"omitempty,latitude"`
	Longitude     *float64        `json:"longitude" validate:"omitempty,longitude"`
	PricePerHour  decimal.Decimal `json:"pricePerHour"`
	DepositAmount decimal.Decimal `json:"depositAmount"`
	OpenTime      string          `json:"openTime"`
	CloseTime     string          `json:"closeTime"`
	Images        []string        `json:"images" validate:"max=20,dive,url"`
	IsActive      *bool           `json:"isActive"`
}

type venuePatchRequest struct {
	Name          *string          `json:"name" validate:"omitempty,min=1,max=200"`
	Description   *string          `json:"description" validate:"omitempty,max=5000"`
	City          *string          `json:"city" validate:"omitempty,min=1,max=100"`
	Address       *string          `json:"address" validate:"omitempty,min=1,max=300"`
	Latitude      *float64         `json:"latitude" validate:"omitempty,latitude"`
	Longitude     *float64         `json:"longitude" validate:"omitempty,longitude"`
	PricePerHour  *decimal.Decimal `json:"pricePerHour"`
	DepositAmount *decimal.Decimal `json:"depositAmount"`
	OpenTime      *string          `json:"openTime"`
	CloseTime     *string          `json:"closeTime"`
	Images        *[]string        `json:"images" validate:"omitempty,max=20,dive,url"`
	IsActive      *bool            `json:"isActive"`
}

type removeImageRequest struct {
	URL string `json:"url" validate:"required,url"`
}

type presignRequest struct {
	FileName    string `json:"fileName" validate:"required,max=200"`
	ContentType string `json:"contentType" validate:"required"`
	SizeBytes   int64  `json:"sizeBytes" validate:"gte=0"`
}

func (h *Handler) ListVenues(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	limit, offset := parsePage(r)
	q := r.URL.Query()
	filter := models.VenueFilter{
		City:   strings.TrimSpace(q.Get("city")),
		Query:  strings.TrimSpace(q.Get("q")),
		Limit:  limit,
		Offset: offset,
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	venues, err := h.repo.ListVenues(ctx, filter, true)
	if err != nil {
		h.handleBookingError(logger, w, "list_venues", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": venues})
}

func (h *Handler) GetVenue(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	id, ok := parseIDParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid venue id")
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	venue, err := h.repo.GetVenue(ctx, id)
	if err == nil && !venue.IsActive {
		err = repository.ErrVenueNotFound
	}
	if err != nil {
		h.handleBookingError(logger, w, "get_venue", err)
		return
	}
	writeJSON(w, http.StatusOK, venue)
}

// Availability lists the half-hour start points of one local day.
func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	id, ok := parseIDParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid venue id")
		return
	}
	loc := h.location()
	now := h.now()
	date, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(r.URL.Query().Get("date")), loc)
	if err != nil {
		logger.Warn("action", "action", "availability", "status", "invalid_date")
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	today, _ := booking.DayBounds(now.In(loc), loc)
	if date.Before(today) {
		writeError(w, http.StatusBadRequest, "date is in the past")
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	venue, err := h.repo.GetVenue(ctx, id)
	if err == nil && !venue.IsActive {
		err = repository.ErrVenueNotFound
	}
	if err != nil {
		h.handleBookingError(logger, w, "availability", err)
		return
	}
	hours, err := booking.ParseHours(venue.OpenTime, venue.CloseTime)
	if err != nil {
		logger.Warn("action", "action", "availability", "status", "bad_venue_hours", "venue_id", id, "error", err)
		hours = booking.DefaultHours
	}
	from, to := booking.DayBounds(date, loc)
	occupied, err := h.repo.OccupiedIntervals(ctx, id, from, to)
	if err != nil {
		h.handleBookingError(logger, w, "availability", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"venueId": id,
		"date":    date.Format("2006-01-02"),
		"items":   booking.TimePoints(date, hours, loc, occupied, now),
	})
}

func (h *Handler) CreateVenue(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req venueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("action", "action", "create_venue", "status", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		logger.Warn("action", "action", "create_venue", "status", "validation_failed", "error", err)
		writeError(w, http.StatusBadRequest, "invalid venue")
		return
	}
	if !req.PricePerHour.IsPositive() || req.DepositAmount.IsNegative() {
		writeError(w, http.StatusBadRequest, "price must be positive")
		return
	}
	if _, err := booking.ParseHours(req.OpenTime, req.CloseTime); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	venue, err := h.repo.CreateVenue(ctx, models.Venue{
		OwnerID:       userID,
		Name:          strings.TrimSpace(req.Name),
		Description:   strings.TrimSpace(req.Description),
		City:          strings.TrimSpace(req.City),
		Address:       strings.TrimSpace(req.Address),
		Latitude:      req.Latitude,
		Longitude:     req.Longitude,
		PricePerHour:  req.PricePerHour.Round(2),
		DepositAmount: req.DepositAmount.Round(2),
		OpenTime:      strings.TrimSpace(req.OpenTime),
		CloseTime:     strings.TrimSpace(req.CloseTime),
		Images:        req.Images,
		IsActive:      active,
	})
	if err != nil {
		h.handleBookingError(logger, w, "create_venue", err)
		return
	}
	logger.Info("action", "action", "create_venue", "status", "success", "venue_id", venue.ID)
	writeJSON(w, http.StatusCreated, venue)
}

func (h *Handler) PatchVenue(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	id, ok := parseIDParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid venue id")
		return
	}
	var req venuePatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		logger.Warn("action", "action", "patch_venue", "status", "validation_failed", "error", err)
		writeError(w, http.StatusBadRequest, "invalid venue")
		return
	}
	if req.PricePerHour != nil && !req.PricePerHour.IsPositive() {
		writeError(w, http.StatusBadRequest, "price must be positive")
		return
	}
	if req.DepositAmount != nil && req.DepositAmount.IsNegative() {
		writeError(w, http.StatusBadRequest, "deposit must not be negative")
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	ownerID := h.ownerScope(r)
	if req.OpenTime != nil || req.CloseTime != nil {
		current, err := h.repo.GetVenue(ctx, id)
		if err != nil {
			h.handleBookingError(logger, w, "patch_venue", err)
			return
		}
		openAt, closeAt := current.OpenTime, current.CloseTime
		if req.OpenTime != nil {
			openAt = strings.TrimSpace(*req.OpenTime)
		}
		if req.CloseTime != nil {
			closeAt = strings.TrimSpace(*req.CloseTime)
		}
		if _, err := booking.ParseHours(openAt, closeAt); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	venue, err := h.repo.UpdateVenue(ctx, id, ownerID, models.VenuePatch{
		Name:          trimmed(req.Name),
		Description:   req.Description,
		City:          trimmed(req.City),
		Address:       trimmed(req.Address),
		Latitude:      req.Latitude,
		Longitude:     req.Longitude,
		PricePerHour:  req.PricePerHour,
		DepositAmount: req.DepositAmount,
		OpenTime:      trimmed(req.OpenTime),
		CloseTime:     trimmed(req.CloseTime),
		Images:        req.Images,
		IsActive:      req.IsActive,
	})
	if err != nil {
		h.handleBookingError(logger, w, "patch_venue", err)
		return
	}
	logger.Info("action", "action", "patch_venue", "status", "success", "venue_id", venue.ID)
	writeJSON(w, http.StatusOK, venue)
}

// PresignVenueImage returns a presigned PUT URL for a venue photo and records
// the resulting public URL on the venue.
func (h *Handler) PresignVenueImage(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	if h.s3 == nil {
		writeError(w, http.StatusServiceUnavailable, "image uploads are not configured")
		return
	}
	id, ok := parseIDParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid venue id")
		return
	}
	var req presignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "fileName and contentType required")
		return
	}
	img := integrations.VenueImage{VenueID: id, FileName: req.FileName, ContentType: req.ContentType, Size: req.SizeBytes}
	if err := img.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	ownerID := h.ownerScope(r)
	venue, err := h.repo.GetVenue(ctx, id)
	if err == nil && ownerID != 0 && venue.OwnerID != ownerID {
		err = repository.ErrVenueNotFound
	}
	if err != nil {
		h.handleBookingError(logger, w, "presign_venue_image", err)
		return
	}

	upload, err := h.s3.PresignVenueImage(ctx, img)
	if err != nil {
		logger.Error("action", "action", "presign_venue_image", "status", "presign_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "presign failed")
		return
	}
	venue, err = h.repo.AddVenueImage(ctx, id, ownerID, upload.FileURL)
	if err != nil {
		h.handleBookingError(logger, w, "presign_venue_image", err)
		return
	}
	logger.Info("action", "action", "presign_venue_image", "status", "success", "venue_id", id)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uploadUrl": upload.UploadURL,
		"fileUrl":   upload.FileURL,
		"venue":     venue,
	})
}

// DeleteVenue deactivates a venue. Its bookings are left as they are.
func (h *Handler) DeleteVenue(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	id, ok := parseIDParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid venue id")
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	if _, err := h.repo.DeactivateVenue(ctx, id, h.ownerScope(r)); err != nil {
		h.handleBookingError(logger, w, "delete_venue", err)
		return
	}
	logger.Info("action", "action", "delete_venue", "status", "deactivated", "venue_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// RemoveVenueImage drops a photo URL from the venue and deletes the stored
// object when it lives in our bucket.
func (h *Handler) RemoveVenueImage(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	id, ok := parseIDParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid venue id")
		return
	}
	var req removeImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	venue, err := h.repo.RemoveVenueImage(ctx, id, h.ownerScope(r), req.URL)
	if err != nil {
		h.handleBookingError(logger, w, "remove_venue_image", err)
		return
	}
	if h.s3 != nil {
		if err := h.s3.DeleteVenueImage(ctx, id, req.URL); err != nil {
			logger.Warn("action", "action", "remove_venue_image", "status", "object_not_deleted", "venue_id", id, "error", err)
		}
	}
	logger.Info("action", "action", "remove_venue_image", "status", "success", "venue_id", id)
	writeJSON(w, http.StatusOK, venue)
}

// ownerScope is the owner filter for staff endpoints: the caller's id for
// venue owners, 0 (everything) for superadmin and support.
func (h *Handler) ownerScope(r *http.Request) int64 {
	if middleware.RoleFromContext(r.Context()) != models.RoleOwner {
		return 0
	}
	userID, _ := middleware.UserIDFromContext(r.Context())
	return userID
}

func trimmed(val *string) *string {
	if val == nil {
		return nil
	}
	out := strings.TrimSpace(*val)
	return &out
}
