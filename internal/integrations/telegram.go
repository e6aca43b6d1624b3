package integrations

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// Bot API allows about 30 messages per second per bot.
const telegramSendRate = 25

// Invoice is a Telegram Payments invoice for one booking.
type Invoice struct {
	ChatID      int64
	Title       string
	Description string
	Payload     string
	Currency    string
	// Amount is in the smallest currency unit.
	Amount int64
}

// TelegramClient talks to the Bot API for invoices and notifications.
type TelegramClient struct {
	bot           *tgbotapi.BotAPI
	providerToken string
	limiter       *rate.Limiter
}

// NewTelegramClient builds a client without calling getMe, so construction
// never blocks on the network. endpoint uses the tgbotapi.APIEndpoint format
// and defaults to it when empty.
func NewTelegramClient(token, providerToken, endpoint string) *TelegramClient {
	bot := &tgbotapi.BotAPI{
		Token:  token,
		Client: &http.Client{Timeout: 10 * time.Second},
		Buffer: 100,
	}
	if strings.TrimSpace(endpoint) == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot.SetAPIEndpoint(endpoint)
	return &TelegramClient{
		bot:           bot,
		providerToken: providerToken,
		limiter:       rate.NewLimiter(rate.Limit(telegramSendRate), telegramSendRate),
	}
}

// SendInvoice sends an invoice message to the user's private chat.
func (t *TelegramClient) SendInvoice(ctx context.Context, inv Invoice) error {
	if t.providerToken == "" {
		return fmt.Errorf("payment provider token is not configured")
	}
	if inv.Amount <= 0 {
		return fmt.Errorf("invoice amount must be positive")
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	cfg := tgbotapi.NewInvoice(
		inv.ChatID,
		inv.Title,
		inv.Description,
		inv.Payload,
		t.providerToken,
		"",
		inv.Currency,
		[]tgbotapi.LabeledPrice{{Label: inv.Title, Amount: int(inv.Amount)}},
	)
	// A nil slice is sent as "null" and rejected by the Bot API.
	cfg.SuggestedTipAmounts = []int{}
	if _, err := t.bot.Send(cfg); err != nil {
		return fmt.Errorf("telegram sendInvoice: %w", err)
	}
	return nil
}

// AnswerPreCheckoutQuery must be called within 10 seconds of the query.
// errorMessage is shown to the user when ok is false.
func (t *TelegramClient) AnswerPreCheckoutQuery(ctx context.Context, queryID string, ok bool, errorMessage string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	cfg := tgbotapi.PreCheckoutConfig{
		PreCheckoutQueryID: queryID,
		OK:                 ok,
	}
	if !ok {
		cfg.ErrorMessage = errorMessage
	}
	if _, err := t.bot.Request(cfg); err != nil {
		return fmt.Errorf("telegram answerPreCheckoutQuery: %w", err)
	}
	return nil
}

func (t *TelegramClient) SendMessage(ctx context.Context, chatID int64, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	return nil
}

// SendLink sends text with a single inline button opening link.
func (t *TelegramClient) SendLink(ctx context.Context, chatID int64, text, buttonText, link string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(buttonText, link)),
	)
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	return nil
}
