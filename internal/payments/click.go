package payments

import (
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"polyatop/backend/internal/models"
	"polyatop/backend/internal/repository"

	"github.com/shopspring/decimal"
)

// Click SHOP API error codes.
const (
	ClickOK             = 0
	ClickSignFailed     = -1
	ClickBadAmount      = -2
	ClickActionNotFound = -3
	ClickAlreadyPaid    = -4
	ClickOrderNotFound  = -5
	ClickTxNotFound     = -6
	ClickUpdateFailed   = -7
	ClickBadRequest     = -8
	ClickTxCancelled    = -9
)

const (
	clickActionPrepare  = 0
	clickActionComplete = 1
)

var clickErrorNotes = map[int]string{
	ClickOK:             "Success",
	ClickSignFailed:     "SIGN CHECK FAILED!",
	ClickBadAmount:      "Incorrect parameter amount",
	ClickActionNotFound: "Action not found",
	ClickAlreadyPaid:    "Already paid",
	ClickOrderNotFound:  "User does not exist",
	ClickTxNotFound:     "Transaction does not exist",
	ClickUpdateFailed:   "Failed to update user",
	ClickBadRequest:     "Error in request from click",
	ClickTxCancelled:    "Transaction cancelled",
}

// ClickRequest is a prepare or complete callback. Signed fields are kept as
// received because the signature covers their exact text.
type ClickRequest struct {
	ClickTransID      string `json:"click_trans_id"`
	ServiceID         string `json:"service_id"`
	ClickPaydocID     string `json:"click_paydoc_id"`
	MerchantTransID   string `json:"merchant_trans_id"`
	MerchantPrepareID string `json:"merchant_prepare_id,omitempty"`
	Amount            string `json:"amount"`
	Action            string `json:"action"`
	Error             int    `json:"error"`
	ErrorNote         string `json:"error_note,omitempty"`
	SignTime          string `json:"sign_time"`
	SignString        string `json:"-"`
}

type ClickResponse struct {
	ClickTransID      int64  `json:"click_trans_id"`
	MerchantTransID   string `json:"merchant_trans_id"`
	MerchantPrepareID int64  `json:"merchant_prepare_id,omitempty"`
	MerchantConfirmID int64  `json:"merchant_confirm_id,omitempty"`
	Error             int    `json:"error"`
	ErrorNote         string `json:"error_note"`
}

func ParseClickRequest(form url.Values) ClickRequest {
	errCode, _ := strconv.Atoi(strings.TrimSpace(form.Get("error")))
	return ClickRequest{
		ClickTransID:      strings.TrimSpace(form.Get("click_trans_id")),
		ServiceID:         strings.TrimSpace(form.Get("service_id")),
		ClickPaydocID:     strings.TrimSpace(form.Get("click_paydoc_id")),
		MerchantTransID:   strings.TrimSpace(form.Get("merchant_trans_id")),
		MerchantPrepareID: strings.TrimSpace(form.Get("merchant_prepare_id")),
		Amount:            strings.TrimSpace(form.Get("amount")),
		Action:            strings.TrimSpace(form.Get("action")),
		Error:             errCode,
		ErrorNote:         form.Get("error_note"),
		SignTime:          strings.TrimSpace(form.Get("sign_time")),
		SignString:        strings.ToLower(strings.TrimSpace(form.Get("sign_string"))),
	}
}

// ClickSign computes sign_string for a callback. merchant_prepare_id is part
// of the signed text only on complete.
func ClickSign(req ClickRequest, secretKey string) string {
	var b strings.Builder
	b.WriteString(req.ClickTransID)
	b.WriteString(req.ServiceID)
	b.WriteString(secretKey)
	b.WriteString(req.MerchantTransID)
	if req.Action == strconv.Itoa(clickActionComplete) {
		b.WriteString(req.MerchantPrepareID)
	}
	b.WriteString(req.Amount)
	b.WriteString(req.Action)
	b.WriteString(req.SignTime)
	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func (s *Service) verifyClick(req ClickRequest, action int) int {
	if !s.click.Enabled() {
		return ClickBadRequest
	}
	if req.ClickTransID == "" || req.MerchantTransID == "" || req.Amount == "" || req.SignString == "" {
		return ClickBadRequest
	}
	expected := ClickSign(req, s.click.SecretKey)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(req.SignString)) != 1 {
		return ClickSignFailed
	}
	if req.ServiceID != s.click.ServiceID {
		return ClickBadRequest
	}
	if req.Action != strconv.Itoa(action) {
		return ClickActionNotFound
	}
	return ClickOK
}

func (s *Service) clickReply(req ClickRequest, code int) ClickResponse {
	id, _ := strconv.ParseInt(req.ClickTransID, 10, 64)
	return ClickResponse{
		ClickTransID:    id,
		MerchantTransID: req.MerchantTransID,
		Error:           code,
		ErrorNote:       clickErrorNotes[code],
	}
}

// checkClickPayment validates the target of a callback before any write.
func (s *Service) checkClickPayment(ctx context.Context, req ClickRequest) (models.Transaction, models.Booking, int) {
	tx, b, err := s.store.GetPaymentByPayload(ctx, req.MerchantTransID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return tx, b, ClickOrderNotFound
		}
		s.logger.Error("click_callback", "status", "lookup_failed", "merchant_trans_id", req.MerchantTransID, "error", err)
		return tx, b, ClickUpdateFailed
	}
	if tx.Provider != models.ProviderClick {
		return tx, b, ClickOrderNotFound
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.Equal(tx.Amount) {
		return tx, b, ClickBadAmount
	}
	if tx.Status == models.TransactionStatusConfirmed {
		return tx, b, ClickAlreadyPaid
	}
	if tx.Status == models.TransactionStatusCancelled {
		return tx, b, ClickTxCancelled
	}
	return tx, b, ClickOK
}

// ClickPrepare answers the prepare callback sent before Click charges the card.
func (s *Service) ClickPrepare(ctx context.Context, req ClickRequest) ClickResponse {
	if code := s.verifyClick(req, clickActionPrepare); code != ClickOK {
		s.logger.Warn("click_prepare", "status", "rejected", "merchant_trans_id", req.MerchantTransID, "error_code", code)
		return s.clickReply(req, code)
	}
	tx, b, code := s.checkClickPayment(ctx, req)
	if code == ClickOK && b.Status != models.BookingStatusPending {
		code = ClickTxCancelled
	}
	resp := s.clickReply(req, code)
	if code != ClickOK {
		s.logger.Warn("click_prepare", "status", "rejected", "merchant_trans_id", req.MerchantTransID, "error_code", code)
		return resp
	}
	resp.MerchantPrepareID = tx.ID
	s.logger.Info("click_prepare", "status", "ok", "transaction_id", tx.ID, "booking_id", b.ID)
	return resp
}

// ClickComplete finalises a Click payment. A negative error from Click voids
// the attempt. A repeated complete for a confirmed transaction succeeds again
// without changes.
func (s *Service) ClickComplete(ctx context.Context, req ClickRequest) ClickResponse {
	if code := s.verifyClick(req, clickActionComplete); code != ClickOK {
		s.logger.Warn("click_complete", "status", "rejected", "merchant_trans_id", req.MerchantTransID, "error_code", code)
		return s.clickReply(req, code)
	}
	tx, b, code := s.checkClickPayment(ctx, req)
	if code != ClickOK && code != ClickAlreadyPaid {
		s.logger.Warn("click_complete", "status", "rejected", "merchant_trans_id", req.MerchantTransID, "error_code", code)
		return s.clickReply(req, code)
	}
	if req.MerchantPrepareID != strconv.FormatInt(tx.ID, 10) {
		return s.clickReply(req, ClickTxNotFound)
	}
	raw, _ := json.Marshal(req)

	if code == ClickAlreadyPaid {
		// A replay carrying a failure must not undo a captured payment.
		if req.Error < 0 || tx.ExternalID != req.ClickTransID {
			return s.clickReply(req, ClickAlreadyPaid)
		}
		resp := s.clickReply(req, ClickOK)
		resp.MerchantConfirmID = tx.ID
		return resp
	}

	if req.Error < 0 || b.Status != models.BookingStatusPending {
		if _, err := s.store.CancelTransactionByPayload(ctx, req.MerchantTransID, raw); err != nil {
			s.logger.Error("click_complete", "status", "cancel_failed", "transaction_id", tx.ID, "error", err)
			return s.clickReply(req, ClickUpdateFailed)
		}
		s.logger.Info("click_complete", "status", "cancelled", "transaction_id", tx.ID, "click_error", req.Error, "booking_status", b.Status)
		return s.clickReply(req, ClickTxCancelled)
	}

	outcome, err := s.store.ConfirmPayment(ctx, models.PaymentConfirmation{
		InvoicePayload:  req.MerchantTransID,
		Provider:        models.ProviderClick,
		ExternalID:      req.ClickTransID,
		ProviderPayload: raw,
	})
	if err != nil {
		s.logger.Error("click_complete", "status", "confirm_failed", "transaction_id", tx.ID, "error", err)
		return s.clickReply(req, ClickUpdateFailed)
	}
	s.afterConfirm(ctx, outcome)
	resp := s.clickReply(req, ClickOK)
	resp.MerchantConfirmID = outcome.Transaction.ID
	return resp
}
