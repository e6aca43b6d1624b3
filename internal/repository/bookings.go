package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"polyatop/backend/internal/booking"
	"polyatop/backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

var (
	ErrBookingNotFound        = errors.New("booking not found")
	ErrBookingStateNotAllowed = errors.New("booking state not allowed")
	ErrSlotAlreadyBooked      = errors.New("slot already booked")
)

// pgExclusionViolation is raised by the bookings_no_overlap constraint.
const pgExclusionViolation = "23P01"

// Scope restricts booking access. The zero value is unrestricted.
type Scope struct {
	UserID  int64
	OwnerID int64
}

func (s Scope) allows(b models.Booking, venueOwnerID int64) bool {
	if s.UserID != 0 && b.UserID != s.UserID {
		return false
	}
	if s.OwnerID != 0 && venueOwnerID != s.OwnerID {
		return false
	}
	return true
}

const bookingColumns = `b.id, b.user_id, b.venue_id, v.name, b.start_time, b.end_time, b.amount::text,
	b.payment_method, b.status, b.created_at, b.updated_at, b.confirmed_at, b.cancelled_at`

// CreateBooking reserves [StartTime, EndTime) on a venue and records the first
// pending transaction. The venue row stays locked until commit so concurrent
// requests for the same venue run the overlap check one at a time.
func (r *Repository) CreateBooking(ctx context.Context, params models.CreateBookingParams) (models.BookingDetail, error) {
	var detail models.BookingDetail
	if err := booking.ValidateInterval(params.StartTime, params.EndTime); err != nil {
		return detail, err
	}
	provider, ok := booking.ProviderForMethod(params.PaymentMethod, params.Provider)
	if !ok {
		return detail, fmt.Errorf("%w: unsupported payment method", ErrInvalidPaymentProvider)
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}

	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		var price string
		var openTime, closeTime string
		var active bool
		if err := tx.QueryRow(ctx, `
SELECT price_per_hour::text, COALESCE(to_char(open_time, 'HH24:MI'), ''), COALESCE(to_char(close_time, 'HH24:MI'), ''), is_active
FROM venues
WHERE id = $1
FOR UPDATE;`, params.VenueID).Scan(&price, &openTime, &closeTime, &active); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrVenueNotFound
			}
			return err
		}
		if !active {
			return ErrVenueNotFound
		}
		hours, err := booking.ParseHours(openTime, closeTime)
		if err != nil {
			return err
		}
		if err := booking.ValidateSlot(params.StartTime, params.EndTime, now, hours, params.Location); err != nil {
			return err
		}

		var taken bool
		if err := tx.QueryRow(ctx, `
SELECT EXISTS (
	SELECT 1
	FROM bookings
	WHERE venue_id = $1
		AND status = ANY($2)
		AND start_time < $4
		AND end_time > $3
);`, params.VenueID, models.ActiveBookingStatuses, params.StartTime, params.EndTime).Scan(&taken); err != nil {
			return err
		}
		if taken {
			return ErrSlotAlreadyBooked
		}

		pricePerHour, err := decimal.NewFromString(price)
		if err != nil {
			return fmt.Errorf("venue price: %w", err)
		}
		amount := booking.Amount(pricePerHour, params.StartTime, params.EndTime)

		var bookingID int64
		if err := tx.QueryRow(ctx, `
INSERT INTO bookings (user_id, venue_id, start_time, end_time, amount, payment_method, status)
VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)
RETURNING id;`, params.UserID, params.VenueID, params.StartTime, params.EndTime, amount.String(), params.PaymentMethod, models.BookingStatusPending).Scan(&bookingID); err != nil {
			return err
		}
		if _, err := insertTransaction(ctx, tx, bookingID, params.UserID, provider, amount); err != nil {
			return err
		}

		detail, err = r.fetchBookingDetail(ctx, tx, bookingID)
		return err
	})
	if err != nil {
		if isExclusionViolation(err) {
			return models.BookingDetail{}, ErrSlotAlreadyBooked
		}
		return models.BookingDetail{}, err
	}
	return detail, nil
}

// GetBooking returns a booking with all its transactions, visible under scope.
func (r *Repository) GetBooking(ctx context.Context, id int64, scope Scope) (models.BookingDetail, error) {
	var ownerID int64
	if err := r.pool.QueryRow(ctx, `
SELECT v.owner_id
FROM bookings b
JOIN venues v ON v.id = b.venue_id
WHERE b.id = $1`, id).Scan(&ownerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.BookingDetail{}, ErrBookingNotFound
		}
		return models.BookingDetail{}, err
	}
	detail, err := r.fetchBookingDetail(ctx, r.pool, id)
	if err != nil {
		return models.BookingDetail{}, err
	}
	if !scope.allows(detail.Booking, ownerID) {
		return models.BookingDetail{}, ErrBookingNotFound
	}
	return detail, nil
}

func (r *Repository) ListBookings(ctx context.Context, filter models.BookingFilter) ([]models.Booking, int, error) {
	where := []string{"TRUE"}
	args := []interface{}{}
	add := func(clause string, val interface{}) {
		args = append(args, val)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.UserID > 0 {
		add("b.user_id = $%d", filter.UserID)
	}
	if filter.OwnerID > 0 {
		add("v.owner_id = $%d", filter.OwnerID)
	}
	if filter.VenueID > 0 {
		add("b.venue_id = $%d", filter.VenueID)
	}
	if status := strings.TrimSpace(filter.Status); status != "" {
		add("b.status = $%d", status)
	}
	if filter.From != nil {
		add("b.end_time > $%d", *filter.From)
	}
	if filter.To != nil {
		add("b.start_time < $%d", *filter.To)
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM bookings b JOIN venues v ON v.id = b.venue_id WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit, offset := clampPage(filter.Limit, filter.Offset)
	args = append(args, limit, offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
SELECT %s
FROM bookings b
JOIN venues v ON v.id = b.venue_id
WHERE %s
ORDER BY b.start_time DESC, b.id DESC
LIMIT $%d OFFSET $%d`, bookingColumns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []models.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, b)
	}
	return out, total, rows.Err()
}

// OccupiedIntervals lists active bookings of venueID intersecting [from, to).
func (r *Repository) OccupiedIntervals(ctx context.Context, venueID int64, from, to time.Time) ([]booking.Interval, error) {
	rows, err := r.pool.Query(ctx, `
SELECT start_time, end_time
FROM bookings
WHERE venue_id = $1
	AND status = ANY($2)
	AND start_time < $4
	AND end_time > $3
ORDER BY start_time`, venueID, models.ActiveBookingStatuses, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []booking.Interval
	for rows.Next() {
		var iv booking.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

// CancelBooking moves a booking to cancelled and voids its pending
// transactions. Customers may cancel only pending bookings; staff may also
// cancel confirmed ones.
func (r *Repository) CancelBooking(ctx context.Context, id int64, scope Scope, allowConfirmed bool) (models.BookingDetail, error) {
	var detail models.BookingDetail
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		b, ownerID, err := lockBooking(ctx, tx, id)
		if err != nil {
			return err
		}
		if !scope.allows(b, ownerID) {
			return ErrBookingNotFound
		}
		if !booking.CanCancel(b, allowConfirmed) {
			return ErrBookingStateNotAllowed
		}

		cmd, err := tx.Exec(ctx, `
UPDATE bookings
SET status = $2,
	cancelled_at = now(),
	updated_at = now()
WHERE id = $1
	AND status = $3;`, id, models.BookingStatusCancelled, b.Status)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return ErrBookingStateNotAllowed
		}
		if err := cancelPendingTransactions(ctx, tx, id); err != nil {
			return err
		}
		detail, err = r.fetchBookingDetail(ctx, tx, id)
		return err
	})
	return detail, err
}

// ExpireBookings marks pending bookings whose end_time is before now as
// expired and cancels their pending transactions. userID > 0 limits the sweep
// to one customer.
func (r *Repository) ExpireBookings(ctx context.Context, now time.Time, userID int64) (models.ExpireResult, error) {
	var out models.ExpireResult
	err := r.pool.QueryRow(ctx, `
WITH expired AS (
	UPDATE bookings
	SET status = $3,
		updated_at = now()
	WHERE status = $4
		AND end_time < $1
		AND ($2::bigint = 0 OR user_id = $2)
	RETURNING id
), voided AS (
	UPDATE transactions
	SET status = $5,
		updated_at = now()
	WHERE status = $6
		AND booking_id IN (SELECT id FROM expired)
	RETURNING id
)
SELECT (SELECT count(*) FROM expired), (SELECT count(*) FROM voided);`,
		now, userID, models.BookingStatusExpired, models.BookingStatusPending,
		models.TransactionStatusCancelled, models.TransactionStatusPending,
	).Scan(&out.Bookings, &out.Transactions)
	return out, err
}

// CountExpirable reports how many bookings ExpireBookings would touch.
func (r *Repository) CountExpirable(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM bookings WHERE status = $1 AND end_time < $2`, models.BookingStatusPending, now).Scan(&n)
	return n, err
}

func (r *Repository) fetchBookingDetail(ctx context.Context, q queryRunner, id int64) (models.BookingDetail, error) {
	var detail models.BookingDetail
	b, err := scanBooking(q.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings b JOIN venues v ON v.id = b.venue_id WHERE b.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return detail, ErrBookingNotFound
		}
		return detail, err
	}
	detail.Booking = b
	detail.Transactions, err = listBookingTransactions(ctx, q, id)
	return detail, err
}

// lockBooking loads a booking row FOR UPDATE together with its venue owner.
func lockBooking(ctx context.Context, q queryRunner, id int64) (models.Booking, int64, error) {
	var ownerID int64
	row := q.QueryRow(ctx, `
SELECT `+bookingColumns+`, v.owner_id
FROM bookings b
JOIN venues v ON v.id = b.venue_id
WHERE b.id = $1
FOR UPDATE OF b;`, id)
	b, err := scanBooking(row, &ownerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Booking{}, 0, ErrBookingNotFound
		}
		return models.Booking{}, 0, err
	}
	return b, ownerID, nil
}

func scanBooking(row pgx.Row, extra ...interface{}) (models.Booking, error) {
	var out models.Booking
	var amount string
	dest := []interface{}{
		&out.ID, &out.UserID, &out.VenueID, &out.VenueName, &out.StartTime, &out.EndTime, &amount,
		&out.PaymentMethod, &out.Status, &out.CreatedAt, &out.UpdatedAt, &out.ConfirmedAt, &out.CancelledAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return models.Booking{}, err
	}
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return models.Booking{}, fmt.Errorf("booking %d amount: %w", out.ID, err)
	}
	out.Amount = parsed
	return out, nil
}

func isExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgExclusionViolation
}
