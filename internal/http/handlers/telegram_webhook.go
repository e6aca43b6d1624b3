package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"polyatop/backend/internal/booking"
	"polyatop/backend/internal/repository"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	webhookSecretHeader = "X-Telegram-Bot-Api-Secret-Token"
	updateDedupeTTL     = 24 * time.Hour
)

// TelegramWebhook receives Bot API updates: payment pre-checkout queries,
// successful_payment service messages and the /start command.
func (h *Handler) TelegramWebhook(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	if secret := h.cfg.WebhookSecret; secret != "" {
		got := r.Header.Get(webhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			logger.Warn("action", "action", "telegram_webhook", "status", "invalid_secret")
			writeError(w, http.StatusUnauthorized, "invalid secret token")
			return
		}
	}

	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		logger.Warn("action", "action", "telegram_webhook", "status", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	logger = logger.With("update_id", update.UpdateID)

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	key := "update:" + strconv.Itoa(update.UpdateID)
	first, err := h.deduper.FirstSeen(ctx, key, updateDedupeTTL)
	if err != nil {
		logger.Warn("action", "action", "telegram_webhook", "status", "dedupe_failed", "error", err)
		first = true
	}
	if !first {
		logger.Info("action", "action", "telegram_webhook", "status", "duplicate")
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	status, message := h.processUpdate(ctx, logger, update)
	if status >= http.StatusInternalServerError {
		if err := h.deduper.Forget(ctx, key); err != nil {
			logger.Warn("action", "action", "telegram_webhook", "status", "dedupe_release_failed", "error", err)
		}
	}
	if status != http.StatusOK {
		writeError(w, status, message)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) processUpdate(ctx context.Context, logger *slog.Logger, update tgbotapi.Update) (int, string) {
	switch {
	case update.PreCheckoutQuery != nil:
		if err := h.payments.HandlePreCheckout(ctx, update.PreCheckoutQuery); err != nil {
			// The query expires within seconds; a redelivery cannot be answered anyway.
			logger.Error("action", "action", "pre_checkout", "status", "answer_failed", "error", err)
		}
		return http.StatusOK, ""
	case update.Message != nil && update.Message.SuccessfulPayment != nil:
		return h.handleSuccessfulPayment(ctx, logger, update.Message.SuccessfulPayment)
	case update.Message != nil && update.Message.IsCommand() && update.Message.Command() == "start":
		h.sendWelcome(ctx, logger, update.Message)
		return http.StatusOK, ""
	default:
		return http.StatusOK, ""
	}
}

func (h *Handler) handleSuccessfulPayment(ctx context.Context, logger *slog.Logger, p *tgbotapi.SuccessfulPayment) (int, string) {
	logger = logger.With("payload", p.InvoicePayload)
	if _, err := booking.ParseInvoicePayload(p.InvoicePayload); err != nil {
		logger.Warn("action", "action", "successful_payment", "status", "unknown_payload")
		return http.StatusNotFound, "unknown invoice payload"
	}
	outcome, err := h.payments.HandleSuccessfulPayment(ctx, p)
	switch {
	case err == nil:
		logger.Info("action", "action", "successful_payment", "status", "processed",
			"transaction_id", outcome.Transaction.ID,
			"booking_id", outcome.Booking.ID,
			"already_confirmed", outcome.AlreadyConfirmed,
			"needs_refund", outcome.NeedsRefund,
		)
		return http.StatusOK, ""
	case errors.Is(err, repository.ErrTransactionNotFound):
		logger.Warn("action", "action", "successful_payment", "status", "unknown_payload")
		return http.StatusNotFound, "unknown invoice payload"
	case errors.Is(err, repository.ErrAmountMismatch):
		// Retrying cannot fix the amount; keep the update acknowledged for manual review.
		logger.Error("action", "action", "successful_payment", "status", "amount_mismatch", "error", err)
		h.payments.NotifyAdmins(ctx, "Payment amount mismatch for invoice "+p.InvoicePayload+": "+err.Error())
		return http.StatusOK, ""
	default:
		logger.Error("action", "action", "successful_payment", "status", "confirm_failed", "error", err)
		return http.StatusInternalServerError, "internal error"
	}
}

func (h *Handler) sendWelcome(ctx context.Context, logger *slog.Logger, msg *tgbotapi.Message) {
	if h.telegram == nil || msg.Chat == nil {
		return
	}
	text := "Welcome to PolyaTop! Book a sports ground in a few taps."
	webAppURL := strings.TrimSpace(h.cfg.BaseURL)
	var err error
	if webAppURL == "" {
		logger.Warn("action", "action", "telegram_start", "status", "missing_base_url")
		err = h.telegram.SendMessage(ctx, msg.Chat.ID, text)
	} else {
		err = h.telegram.SendLink(ctx, msg.Chat.ID, text, "Open PolyaTop", webAppURL)
	}
	if err != nil {
		logger.Warn("action", "action", "telegram_start", "status", "send_failed", "error", err)
	}
}
