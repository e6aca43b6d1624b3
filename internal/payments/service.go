package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"time"

	"polyatop/backend/internal/booking"
	"polyatop/backend/internal/config"
	"polyatop/backend/internal/integrations"
	"polyatop/backend/internal/models"
	"polyatop/backend/internal/repository"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
)

const clickPayURL = "https://my.click.uz/services/pay"

// Store is the persistence the payment flows need.
type Store interface {
	StartPayment(ctx context.Context, bookingID int64, scope repository.Scope, provider string) (models.Transaction, models.Booking, error)
	GetPaymentByPayload(ctx context.Context, payload string) (models.Transaction, models.Booking, error)
	ConfirmPayment(ctx context.Context, in models.PaymentConfirmation) (models.PaymentOutcome, error)
	ConfirmCashTransaction(ctx context.Context, transactionID, adminID int64, scope repository.Scope) (models.PaymentOutcome, error)
	CancelTransactionByPayload(ctx context.Context, payload string, providerPayload []byte) (models.Transaction, error)
	GetUserTelegramID(ctx context.Context, userID int64) (int64, error)
	ListSuperadminTelegramIDs(ctx context.Context) ([]int64, error)
}

// Bot is the subset of the Bot API used for payments and notices.
type Bot interface {
	SendInvoice(ctx context.Context, inv integrations.Invoice) error
	AnswerPreCheckoutQuery(ctx context.Context, queryID string, ok bool, errorMessage string) error
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Start is the result of opening a payment attempt.
type Start struct {
	Transaction  models.Transaction `json:"transaction"`
	Booking      models.Booking     `json:"booking"`
	InvoiceSent  bool               `json:"invoiceSent"`
	InvoiceError string             `json:"invoiceError,omitempty"`
	PaymentURL   string             `json:"paymentUrl,omitempty"`
}

type Service struct {
	store    Store
	bot      Bot
	currency string
	click    config.ClickConfig
	adminIDs []int64
	loc      *time.Location
	logger   *slog.Logger
}

func NewService(store Store, bot Bot, cfg *config.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	adminIDs := make([]int64, 0, len(cfg.AdminTGIDs))
	for id := range cfg.AdminTGIDs {
		adminIDs = append(adminIDs, id)
	}
	sort.Slice(adminIDs, func(i, j int) bool { return adminIDs[i] < adminIDs[j] })
	loc := cfg.Timezone
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		store:    store,
		bot:      bot,
		currency: cfg.Payments.Currency,
		click:    cfg.Click,
		adminIDs: adminIDs,
		loc:      loc,
		logger:   logger,
	}
}

// StartPayment opens a new attempt for a pending booking with the given
// provider and dispatches it.
func (s *Service) StartPayment(ctx context.Context, bookingID int64, scope repository.Scope, provider string) (Start, error) {
	if provider == models.ProviderClick && !s.click.Enabled() {
		return Start{}, repository.ErrInvalidPaymentProvider
	}
	tx, b, err := s.store.StartPayment(ctx, bookingID, scope, provider)
	if err != nil {
		return Start{}, err
	}
	return s.Dispatch(ctx, tx, b), nil
}

// Dispatch hands a pending transaction to its provider. Cash needs nothing,
// Telegram gets an invoice in the user's chat and Click gets a pay link.
// Provider failures are reported in the result; the transaction stays pending.
func (s *Service) Dispatch(ctx context.Context, tx models.Transaction, b models.Booking) Start {
	out := Start{Transaction: tx, Booking: b}
	switch tx.Provider {
	case models.ProviderTelegram:
		if err := s.sendInvoice(ctx, tx, b); err != nil {
			s.logger.Warn("send_invoice", "status", "failed", "booking_id", b.ID, "transaction_id", tx.ID, "error", err)
			out.InvoiceError = err.Error()
			return out
		}
		out.InvoiceSent = true
		s.logger.Info("send_invoice", "status", "sent", "booking_id", b.ID, "transaction_id", tx.ID)
	case models.ProviderClick:
		out.PaymentURL = s.clickPaymentURL(tx)
	}
	return out
}

func (s *Service) sendInvoice(ctx context.Context, tx models.Transaction, b models.Booking) error {
	chatID, err := s.store.GetUserTelegramID(ctx, b.UserID)
	if err != nil {
		return fmt.Errorf("resolve chat: %w", err)
	}
	return s.bot.SendInvoice(ctx, integrations.Invoice{
		ChatID:      chatID,
		Title:       fmt.Sprintf("Booking #%d", b.ID),
		Description: s.describeSlot(b),
		Payload:     tx.InvoicePayload,
		Currency:    s.currency,
		Amount:      MinorUnits(tx.Amount),
	})
}

func (s *Service) describeSlot(b models.Booking) string {
	start := b.StartTime.In(s.loc)
	end := b.EndTime.In(s.loc)
	name := b.VenueName
	if name == "" {
		name = fmt.Sprintf("Venue #%d", b.VenueID)
	}
	return fmt.Sprintf("%s, %s %s-%s", name, start.Format("02.01.2006"), start.Format("15:04"), end.Format("15:04"))
}

func (s *Service) clickPaymentURL(tx models.Transaction) string {
	q := url.Values{}
	q.Set("service_id", s.click.ServiceID)
	q.Set("merchant_id", s.click.MerchantID)
	q.Set("amount", tx.Amount.StringFixed(2))
	q.Set("transaction_param", tx.InvoicePayload)
	if s.click.ReturnURL != "" {
		q.Set("return_url", s.click.ReturnURL)
	}
	return clickPayURL + "?" + q.Encode()
}

// MinorUnits converts an amount to the integer the Bot API expects.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// HandlePreCheckout answers a pre_checkout_query. The query is approved only
// while the payload names a pending Telegram transaction of a pending booking
// and the announced total matches.
func (s *Service) HandlePreCheckout(ctx context.Context, q *tgbotapi.PreCheckoutQuery) error {
	ok, reason := s.checkPreCheckout(ctx, q)
	if !ok {
		s.logger.Warn("pre_checkout", "status", "rejected", "payload", q.InvoicePayload, "reason", reason)
	}
	return s.bot.AnswerPreCheckoutQuery(ctx, q.ID, ok, reason)
}

func (s *Service) checkPreCheckout(ctx context.Context, q *tgbotapi.PreCheckoutQuery) (bool, string) {
	if _, err := booking.ParseInvoicePayload(q.InvoicePayload); err != nil {
		return false, "Unknown invoice"
	}
	tx, b, err := s.store.GetPaymentByPayload(ctx, q.InvoicePayload)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return false, "Unknown invoice"
		}
		s.logger.Error("pre_checkout", "status", "lookup_failed", "payload", q.InvoicePayload, "error", err)
		return false, "Temporary error, please try again"
	}
	if tx.Provider != models.ProviderTelegram || tx.Status != models.TransactionStatusPending {
		return false, "This invoice is no longer valid"
	}
	if b.Status != models.BookingStatusPending {
		return false, "The booking is no longer available"
	}
	if q.Currency != s.currency || int64(q.TotalAmount) != MinorUnits(tx.Amount) {
		return false, "Invoice amount does not match the booking"
	}
	return true, ""
}

// HandleSuccessfulPayment confirms the transaction behind a successful_payment
// message. Replays of the same payload are reported with AlreadyConfirmed.
func (s *Service) HandleSuccessfulPayment(ctx context.Context, p *tgbotapi.SuccessfulPayment) (models.PaymentOutcome, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return models.PaymentOutcome{}, err
	}
	externalID := p.ProviderPaymentChargeID
	if externalID == "" {
		externalID = p.TelegramPaymentChargeID
	}
	outcome, err := s.store.ConfirmPayment(ctx, models.PaymentConfirmation{
		InvoicePayload:  p.InvoicePayload,
		Provider:        models.ProviderTelegram,
		ExternalID:      externalID,
		Amount:          decimal.New(int64(p.TotalAmount), -2),
		ProviderPayload: raw,
	})
	if err != nil {
		return outcome, err
	}
	s.afterConfirm(ctx, outcome)
	return outcome, nil
}

// ConfirmCash is the manual confirmation of a cash payment by staff.
func (s *Service) ConfirmCash(ctx context.Context, transactionID, adminID int64, scope repository.Scope) (models.PaymentOutcome, error) {
	outcome, err := s.store.ConfirmCashTransaction(ctx, transactionID, adminID, scope)
	if err != nil {
		return outcome, err
	}
	s.logger.Info("confirm_cash", "status", "confirmed", "transaction_id", transactionID, "booking_id", outcome.Booking.ID, "admin_id", adminID)
	s.afterConfirm(ctx, outcome)
	return outcome, nil
}

func (s *Service) afterConfirm(ctx context.Context, outcome models.PaymentOutcome) {
	switch {
	case outcome.AlreadyConfirmed:
		s.logger.Info("confirm_payment", "status", "already_confirmed", "transaction_id", outcome.Transaction.ID)
	case outcome.NeedsRefund:
		s.logger.Warn("payment_for_inactive_booking",
			"transaction_id", outcome.Transaction.ID,
			"booking_id", outcome.Booking.ID,
			"booking_status", outcome.Booking.Status,
			"amount", outcome.Transaction.Amount.String(),
		)
		s.NotifyAdmins(ctx, fmt.Sprintf(
			"Refund needed: transaction #%d (%s %s, %s) paid for booking #%d which is %s.",
			outcome.Transaction.ID, outcome.Transaction.Amount.StringFixed(2), s.currency,
			outcome.Transaction.Provider, outcome.Booking.ID, outcome.Booking.Status,
		))
	default:
		s.logger.Info("confirm_payment", "status", "confirmed", "transaction_id", outcome.Transaction.ID, "booking_id", outcome.Booking.ID)
		if outcome.TelegramID != 0 {
			text := fmt.Sprintf("Booking #%d is confirmed: %s.", outcome.Booking.ID, s.describeSlot(outcome.Booking))
			if err := s.bot.SendMessage(ctx, outcome.TelegramID, text); err != nil {
				s.logger.Warn("notify_user", "status", "failed", "booking_id", outcome.Booking.ID, "error", err)
			}
		}
	}
}

// NotifyAdmins messages configured admins and superadmin users. Delivery
// failures are logged and skipped.
func (s *Service) NotifyAdmins(ctx context.Context, text string) {
	seen := make(map[int64]struct{})
	recipients := append([]int64{}, s.adminIDs...)
	ids, err := s.store.ListSuperadminTelegramIDs(ctx)
	if err != nil {
		s.logger.Warn("notify_admins", "status", "list_failed", "error", err)
	}
	recipients = append(recipients, ids...)
	for _, id := range recipients {
		if _, ok := seen[id]; ok || id == 0 {
			continue
		}
		seen[id] = struct{}{}
		if err := s.bot.SendMessage(ctx, id, text); err != nil {
			s.logger.Warn("notify_admins", "status", "send_failed", "telegram_id", id, "error", err)
		}
	}
}
