package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"polyatop/backend/internal/http/middleware"
	"polyatop/backend/internal/models"
	"polyatop/backend/internal/repository"
)

var errInvalidPeriod = errors.New("period must be day, week or month, or from/to as YYYY-MM-DD")

type setRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=customer owner support superadmin"`
}

// statsRange resolves ?period=day|week|month (ending now) or ?from=&to= local
// dates, to inclusive. The default is the last month.
func (h *Handler) statsRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	loc := h.location()
	now := h.now().In(loc)
	fromRaw := strings.TrimSpace(q.Get("from"))
	toRaw := strings.TrimSpace(q.Get("to"))
	if fromRaw != "" || toRaw != "" {
		from, err := time.ParseInLocation("2006-01-02", fromRaw, loc)
		if err != nil {
			return time.Time{}, time.Time{}, errInvalidPeriod
		}
		to, err := time.ParseInLocation("2006-01-02", toRaw, loc)
		if err != nil || to.Before(from) {
			return time.Time{}, time.Time{}, errInvalidPeriod
		}
		return from, to.AddDate(0, 0, 1), nil
	}
	switch strings.TrimSpace(q.Get("period")) {
	case "day":
		return now.AddDate(0, 0, -1), now, nil
	case "week":
		return now.AddDate(0, 0, -7), now, nil
	case "", "month":
		return now.AddDate(0, -1, 0), now, nil
	default:
		return time.Time{}, time.Time{}, errInvalidPeriod
	}
}

func (h *Handler) OwnerBookings(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	q := r.URL.Query()
	limit, offset := parsePage(r)
	filter := models.BookingFilter{
		OwnerID: h.ownerScope(r),
		Status:  strings.TrimSpace(q.Get("status")),
		Limit:   limit,
		Offset:  offset,
	}
	if raw := strings.TrimSpace(q.Get("venueId")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "invalid venueId")
			return
		}
		filter.VenueID = id
	}
	if q.Get("from") != "" || q.Get("to") != "" {
		from, to, err := h.statsRange(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.From = &from
		filter.To = &to
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	items, total, err := h.repo.ListBookings(ctx, filter)
	if err != nil {
		h.handleBookingError(logger, w, "owner_bookings", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items, "total": total})
}

func (h *Handler) FinanceStats(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	from, to, err := h.statsRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	summary, err := h.repo.FinanceSummary(ctx, h.ownerScope(r), from, to)
	if err != nil {
		h.handleBookingError(logger, w, "finance_stats", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"from":     from,
		"to":       to,
		"currency": h.cfg.Payments.Currency,
		"summary":  summary,
	})
}

func (h *Handler) UsageStats(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	from, to, err := h.statsRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	usage, err := h.repo.VenueUsage(ctx, h.ownerScope(r), from, to)
	if err != nil {
		h.handleBookingError(logger, w, "usage_stats", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"from": from, "to": to, "items": usage})
}

func (h *Handler) CustomerStats(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	from, to, err := h.statsRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	stats, err := h.repo.CustomerStats(ctx, h.ownerScope(r), from, to)
	if err != nil {
		h.handleBookingError(logger, w, "customer_stats", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"from": from, "to": to, "stats": stats})
}

// ConfirmTransaction marks a pending cash transaction as paid.
func (h *Handler) ConfirmTransaction(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	adminID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, ok := parseIDParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	outcome, err := h.payments.ConfirmCash(ctx, id, adminID, repository.Scope{OwnerID: h.ownerScope(r)})
	if err != nil {
		h.handleBookingError(logger, w, "confirm_transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *Handler) AdminCancelBooking(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	id, ok := parseIDParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	detail, err := h.repo.CancelBooking(ctx, id, repository.Scope{OwnerID: h.ownerScope(r)}, true)
	if err != nil {
		h.handleBookingError(logger, w, "admin_cancel_booking", err)
		return
	}
	logger.Info("action", "action", "admin_cancel_booking", "status", "success", "booking_id", id)
	writeJSON(w, http.StatusOK, detail)
}

// SetUserRole grants or revokes staff roles. Superadmin only.
func (h *Handler) SetUserRole(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	id, ok := parseIDParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	var req setRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid role")
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	user, err := h.repo.SetUserRole(ctx, id, req.Role)
	if err != nil {
		h.handleBookingError(logger, w, "set_user_role", err)
		return
	}
	logger.Info("action", "action", "set_user_role", "status", "success", "target_user_id", id, "role", req.Role)
	writeJSON(w, http.StatusOK, user)
}
