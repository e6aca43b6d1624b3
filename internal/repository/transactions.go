package repository

import (
	"context"
	"errors"
	"fmt"

	"polyatop/backend/internal/booking"
	"polyatop/backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

var (
	ErrTransactionNotFound        = errors.New("transaction not found")
	ErrTransactionStateNotAllowed = errors.New("transaction state not allowed")
	ErrInvalidPaymentProvider     = errors.New("invalid payment provider")
	ErrAmountMismatch             = errors.New("payment amount mismatch")
)

const transactionColumns = `t.id, t.booking_id, t.user_id, t.provider, t.amount::text, t.status, t.invoice_payload,
	COALESCE(t.external_id, ''), t.provider_payload, t.confirmed_by, t.created_at, t.updated_at, t.confirmed_at`

// StartPayment opens a new payment attempt on a pending booking. Earlier
// pending attempts of the booking are cancelled so only one can be paid. An
// empty provider reuses the booking's payment method.
func (r *Repository) StartPayment(ctx context.Context, bookingID int64, scope Scope, provider string) (models.Transaction, models.Booking, error) {
	var txOut models.Transaction
	var bookingOut models.Booking
	if provider != "" {
		if _, _, ok := booking.ResolvePayment("", provider); !ok {
			return txOut, bookingOut, ErrInvalidPaymentProvider
		}
	}
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		b, ownerID, err := lockBooking(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if !scope.allows(b, ownerID) {
			return ErrBookingNotFound
		}
		if !booking.CanPay(b) {
			return ErrBookingStateNotAllowed
		}
		method, resolved, ok := booking.ResolvePayment(b.PaymentMethod, provider)
		if !ok {
			return ErrInvalidPaymentProvider
		}
		if err := cancelPendingTransactions(ctx, tx, bookingID); err != nil {
			return err
		}
		if b.PaymentMethod != method {
			if _, err := tx.Exec(ctx, `UPDATE bookings SET payment_method = $2, updated_at = now() WHERE id = $1`, bookingID, method); err != nil {
				return err
			}
			b.PaymentMethod = method
		}
		txOut, err = insertTransaction(ctx, tx, bookingID, b.UserID, resolved, b.Amount)
		bookingOut = b
		return err
	})
	return txOut, bookingOut, err
}

// GetPaymentByPayload resolves the transaction and booking an invoice payload belongs to.
func (r *Repository) GetPaymentByPayload(ctx context.Context, payload string) (models.Transaction, models.Booking, error) {
	t, err := scanTransaction(r.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions t WHERE t.invoice_payload = $1`, payload))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Transaction{}, models.Booking{}, ErrTransactionNotFound
		}
		return models.Transaction{}, models.Booking{}, err
	}
	b, err := scanBooking(r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings b JOIN venues v ON v.id = b.venue_id WHERE b.id = $1`, t.BookingID))
	if err != nil {
		return models.Transaction{}, models.Booking{}, err
	}
	return t, b, nil
}

func (r *Repository) ListUserTransactions(ctx context.Context, userID int64, limit, offset int) ([]models.Transaction, error) {
	limit, offset = clampPage(limit, offset)
	rows, err := r.pool.Query(ctx, `
SELECT `+transactionColumns+`
FROM transactions t
WHERE t.user_id = $1
ORDER BY t.created_at DESC, t.id DESC
LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ConfirmPayment records provider evidence for the transaction identified by
// the invoice payload. It is idempotent: a transaction that is already
// confirmed is reported with AlreadyConfirmed and nothing is written.
//
// Money that arrives for a booking that can no longer be confirmed still
// confirms the transaction; the outcome is flagged NeedsRefund and the booking
// is left as is.
func (r *Repository) ConfirmPayment(ctx context.Context, in models.PaymentConfirmation) (models.PaymentOutcome, error) {
	var out models.PaymentOutcome
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		t, err := scanTransaction(tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions t WHERE t.invoice_payload = $1 FOR UPDATE`, in.InvoicePayload))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrTransactionNotFound
			}
			return err
		}
		if in.Provider != "" && t.Provider != in.Provider {
			return ErrTransactionNotFound
		}
		b, _, err := lockBooking(ctx, tx, t.BookingID)
		if err != nil {
			return err
		}
		if err := tx.QueryRow(ctx, `SELECT telegram_id FROM users WHERE id = $1`, b.UserID).Scan(&out.TelegramID); err != nil {
			return err
		}
		if t.Status == models.TransactionStatusConfirmed {
			out.Transaction = t
			out.Booking = b
			out.AlreadyConfirmed = true
			return nil
		}
		if !in.Amount.IsZero() && !in.Amount.Equal(t.Amount) {
			return fmt.Errorf("%w: expected %s, got %s", ErrAmountMismatch, t.Amount, in.Amount)
		}

		out.Transaction, err = scanTransaction(tx.QueryRow(ctx, `
UPDATE transactions AS t
SET status = $2,
	external_id = NULLIF($3, ''),
	provider_payload = COALESCE($4::jsonb, t.provider_payload),
	confirmed_at = now(),
	updated_at = now()
WHERE t.id = $1
RETURNING `+transactionColumns+`;`, t.ID, models.TransactionStatusConfirmed, in.ExternalID, rawJSON(in.ProviderPayload)))
		if err != nil {
			return err
		}

		if b.Status != models.BookingStatusPending {
			out.Booking = b
			out.NeedsRefund = true
			return nil
		}
		if err := confirmBooking(ctx, tx, b.ID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
UPDATE transactions
SET status = $3,
	updated_at = now()
WHERE booking_id = $1
	AND id <> $2
	AND status = $4;`, b.ID, t.ID, models.TransactionStatusCancelled, models.TransactionStatusPending); err != nil {
			return err
		}
		out.Booking, _, err = lockBooking(ctx, tx, b.ID)
		return err
	})
	return out, err
}

// ConfirmCashTransaction is the manual confirmation of a cash payment by staff.
func (r *Repository) ConfirmCashTransaction(ctx context.Context, transactionID, adminID int64, scope Scope) (models.PaymentOutcome, error) {
	var out models.PaymentOutcome
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		t, err := scanTransaction(tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions t WHERE t.id = $1 FOR UPDATE`, transactionID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrTransactionNotFound
			}
			return err
		}
		b, ownerID, err := lockBooking(ctx, tx, t.BookingID)
		if err != nil {
			return err
		}
		if !scope.allows(b, ownerID) {
			return ErrTransactionNotFound
		}
		if t.Provider != models.ProviderCash {
			return ErrInvalidPaymentProvider
		}
		if t.Status != models.TransactionStatusPending {
			return ErrTransactionStateNotAllowed
		}
		if b.Status != models.BookingStatusPending {
			return ErrBookingStateNotAllowed
		}

		cmd, err := tx.Exec(ctx, `
UPDATE transactions
SET status = $2,
	confirmed_by = $3,
	confirmed_at = now(),
	updated_at = now()
WHERE id = $1
	AND status = $4;`, t.ID, models.TransactionStatusConfirmed, adminID, models.TransactionStatusPending)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return ErrTransactionStateNotAllowed
		}
		if err := confirmBooking(ctx, tx, b.ID); err != nil {
			return err
		}
		if err := tx.QueryRow(ctx, `SELECT telegram_id FROM users WHERE id = $1`, b.UserID).Scan(&out.TelegramID); err != nil {
			return err
		}
		if out.Transaction, err = scanTransaction(tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions t WHERE t.id = $1`, t.ID)); err != nil {
			return err
		}
		out.Booking, _, err = lockBooking(ctx, tx, b.ID)
		return err
	})
	return out, err
}

// CancelTransactionByPayload voids a pending payment attempt reported as failed by the provider.
func (r *Repository) CancelTransactionByPayload(ctx context.Context, payload string, providerPayload []byte) (models.Transaction, error) {
	t, err := scanTransaction(r.pool.QueryRow(ctx, `
UPDATE transactions AS t
SET status = $2,
	provider_payload = COALESCE($4::jsonb, t.provider_payload),
	updated_at = now()
WHERE t.invoice_payload = $1
	AND t.status = $3
RETURNING `+transactionColumns+`;`, payload, models.TransactionStatusCancelled, models.TransactionStatusPending, rawJSON(providerPayload)))
	if errors.Is(err, pgx.ErrNoRows) {
		existing, _, getErr := r.GetPaymentByPayload(ctx, payload)
		if getErr != nil {
			return models.Transaction{}, getErr
		}
		if existing.Status == models.TransactionStatusCancelled {
			return existing, nil
		}
		return existing, ErrTransactionStateNotAllowed
	}
	return t, err
}

func confirmBooking(ctx context.Context, tx pgx.Tx, bookingID int64) error {
	cmd, err := tx.Exec(ctx, `
UPDATE bookings
SET status = $2,
	confirmed_at = now(),
	updated_at = now()
WHERE id = $1
	AND status = $3;`, bookingID, models.BookingStatusConfirmed, models.BookingStatusPending)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrBookingStateNotAllowed
	}
	return nil
}

func insertTransaction(ctx context.Context, q queryRunner, bookingID, userID int64, provider string, amount decimal.Decimal) (models.Transaction, error) {
	return scanTransaction(q.QueryRow(ctx, `
INSERT INTO transactions AS t (booking_id, user_id, provider, amount, status, invoice_payload)
VALUES ($1, $2, $3, $4::numeric, $5, $6)
RETURNING `+transactionColumns+`;`, bookingID, userID, provider, amount.String(), models.TransactionStatusPending, booking.NewInvoicePayload(bookingID)))
}

func cancelPendingTransactions(ctx context.Context, q queryRunner, bookingID int64) error {
	_, err := q.Exec(ctx, `
UPDATE transactions
SET status = $2,
	updated_at = now()
WHERE booking_id = $1
	AND status = $3;`, bookingID, models.TransactionStatusCancelled, models.TransactionStatusPending)
	return err
}

func listBookingTransactions(ctx context.Context, q queryRunner, bookingID int64) ([]models.Transaction, error) {
	rows, err := q.Query(ctx, `SELECT `+transactionColumns+` FROM transactions t WHERE t.booking_id = $1 ORDER BY t.id ASC`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTransaction(row pgx.Row) (models.Transaction, error) {
	var out models.Transaction
	var amount string
	if err := row.Scan(
		&out.ID, &out.BookingID, &out.UserID, &out.Provider, &amount, &out.Status, &out.InvoicePayload,
		&out.ExternalID, &out.ProviderPayload, &out.ConfirmedBy, &out.CreatedAt, &out.UpdatedAt, &out.ConfirmedAt,
	); err != nil {
		return models.Transaction{}, err
	}
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("transaction %d amount: %w", out.ID, err)
	}
	out.Amount = parsed
	return out, nil
}

func rawJSON(payload []byte) interface{} {
	if len(payload) == 0 {
		return nil
	}
	return string(payload)
}
