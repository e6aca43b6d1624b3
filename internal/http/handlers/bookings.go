package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"polyatop/backend/internal/booking"
	"polyatop/backend/internal/http/middleware"
	"polyatop/backend/internal/models"
	"polyatop/backend/internal/repository"
)

type createBookingRequest struct {
	VenueID       int64     `json:"venueId" validate:"required,gt=0"`
	StartTime     time.Time `json:"startTime" validate:"required"`
	EndTime       time.Time `json:"endTime" validate:"required"`
	PaymentMethod string    `json:"paymentMethod" validate:"required,oneof=card cash"`
	Provider      string    `json:"provider" validate:"omitempty,oneof=telegram click cash"`
}

type payBookingRequest struct {
	Provider string `json:"provider" validate:"omitempty,oneof=telegram click cash"`
}

type bookingResponse struct {
	models.BookingDetail
	InvoiceSent  bool   `json:"invoiceSent"`
	InvoiceError string `json:"invoiceError,omitempty"`
	PaymentURL   string `json:"paymentUrl,omitempty"`
}

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		logger.Warn("action", "action", "create_booking", "status", "unauthorized")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !h.bookingLimiter.Allow(r.Context(), "booking:"+strconv.FormatInt(userID, 10)) {
		logger.Warn("action", "action", "create_booking", "status", "rate_limited")
		writeError(w, http.StatusTooManyRequests, "too many booking attempts")
		return
	}
	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("action", "action", "create_booking", "status", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		logger.Warn("action", "action", "create_booking", "status", "validation_failed", "error", err)
		writeError(w, http.StatusBadRequest, "invalid booking request")
		return
	}
	if err := booking.ValidateInterval(req.StartTime, req.EndTime); err != nil {
		logger.Warn("action", "action", "create_booking", "status", "invalid_interval")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Provider == models.ProviderClick && !h.cfg.Click.Enabled() {
		writeError(w, http.StatusBadRequest, repository.ErrInvalidPaymentProvider.Error())
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	detail, err := h.repo.CreateBooking(ctx, models.CreateBookingParams{
		UserID:        userID,
		VenueID:       req.VenueID,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		PaymentMethod: req.PaymentMethod,
		Provider:      strings.TrimSpace(req.Provider),
		Now:           h.now(),
		Location:      h.location(),
	})
	if err != nil {
		h.handleBookingError(logger, w, "create_booking", err)
		return
	}
	logger.Info("action", "action", "create_booking", "status", "success", "booking_id", detail.Booking.ID, "venue_id", req.VenueID)

	resp := bookingResponse{BookingDetail: detail}
	if tx, ok := pendingTransaction(detail); ok {
		start := h.payments.Dispatch(ctx, tx, detail.Booking)
		resp.InvoiceSent = start.InvoiceSent
		resp.InvoiceError = start.InvoiceError
		resp.PaymentURL = start.PaymentURL
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) ListMyBookings(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	limit, offset := parsePage(r)
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	h.expireFor(ctx, logger, userID)
	items, total, err := h.repo.ListBookings(ctx, models.BookingFilter{
		UserID: userID,
		Status: strings.TrimSpace(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.handleBookingError(logger, w, "list_bookings", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items, "total": total})
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, ok := parseIDParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	h.expireFor(ctx, logger, userID)
	detail, err := h.repo.GetBooking(ctx, id, repository.Scope{UserID: userID})
	if err != nil {
		h.handleBookingError(logger, w, "get_booking", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// PayBooking opens a new payment attempt, cancelling earlier pending ones.
func (h *Handler) PayBooking(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, ok := parseIDParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}
	var req payBookingRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid provider")
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	h.expireFor(ctx, logger, userID)
	start, err := h.payments.StartPayment(ctx, id, repository.Scope{UserID: userID}, req.Provider)
	if err != nil {
		h.handleBookingError(logger, w, "pay_booking", err)
		return
	}
	logger.Info("action", "action", "pay_booking", "status", "started", "booking_id", id, "transaction_id", start.Transaction.ID, "provider", start.Transaction.Provider)
	writeJSON(w, http.StatusOK, start)
}

func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, ok := parseIDParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	detail, err := h.repo.CancelBooking(ctx, id, repository.Scope{UserID: userID}, false)
	if err != nil {
		h.handleBookingError(logger, w, "cancel_booking", err)
		return
	}
	logger.Info("action", "action", "cancel_booking", "status", "success", "booking_id", id)
	writeJSON(w, http.StatusOK, detail)
}

// expireFor applies the expiration rule to one customer's bookings. Failures
// are logged; the read proceeds with whatever state is stored.
func (h *Handler) expireFor(ctx context.Context, logger *slog.Logger, userID int64) {
	res, err := h.repo.ExpireBookings(ctx, h.now(), userID)
	if err != nil {
		logger.Warn("action", "action", "expire_bookings", "status", "failed", "error", err)
		return
	}
	if res.Bookings > 0 {
		logger.Info("action", "action", "expire_bookings", "status", "expired", "bookings", res.Bookings, "transactions", res.Transactions)
	}
}

func pendingTransaction(detail models.BookingDetail) (models.Transaction, bool) {
	for _, tx := range detail.Transactions {
		if tx.Status == models.TransactionStatusPending {
			return tx, true
		}
	}
	return models.Transaction{}, false
}
