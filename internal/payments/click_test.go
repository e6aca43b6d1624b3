package payments

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"strconv"
	"testing"

	"polyatop/backend/internal/models"
)

func clickForm(action int, payload, prepareID, amount string, clickErr int) url.Values {
	form := url.Values{}
	form.Set("click_trans_id", "555001")
	form.Set("service_id", "111")
	form.Set("click_paydoc_id", "9001")
	form.Set("merchant_trans_id", payload)
	if prepareID != "" {
		form.Set("merchant_prepare_id", prepareID)
	}
	form.Set("amount", amount)
	form.Set("action", strconv.Itoa(action))
	form.Set("error", strconv.Itoa(clickErr))
	form.Set("sign_time", "2026-10-20 12:00:00")
	req := ParseClickRequest(form)
	form.Set("sign_string", ClickSign(req, "click-secret"))
	return form
}

func TestClickSign(t *testing.T) {
	req := ClickRequest{
		ClickTransID:    "1",
		ServiceID:       "2",
		MerchantTransID: "booking_3_x",
		Amount:          "1000",
		Action:          "0",
		SignTime:        "2026-10-20 12:00:00",
	}
	sum := md5.Sum([]byte("12secretbooking_3_x100002026-10-20 12:00:00"))
	if got, want := ClickSign(req, "secret"), hex.EncodeToString(sum[:]); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	withPrepare := req
	withPrepare.Action = "1"
	withPrepare.MerchantPrepareID = "42"
	other := withPrepare
	other.MerchantPrepareID = "43"
	if ClickSign(withPrepare, "secret") == ClickSign(other, "secret") {
		t.Fatalf("complete signature must cover merchant_prepare_id")
	}
	prepareOther := req
	prepareOther.MerchantPrepareID = "43"
	if ClickSign(req, "secret") != ClickSign(prepareOther, "secret") {
		t.Fatalf("prepare signature must ignore merchant_prepare_id")
	}
}

func TestClickPrepareAndComplete(t *testing.T) {
	svc, store, bot := newTestService()
	_, tx := store.addBooking(20, 3, "75000", models.ProviderClick)
	ctx := context.Background()

	prep := svc.ClickPrepare(ctx, ParseClickRequest(clickForm(0, tx.InvoicePayload, "", "75000", 0)))
	if prep.Error != ClickOK || prep.MerchantPrepareID != tx.ID || prep.ClickTransID != 555001 {
		t.Fatalf("unexpected prepare response %+v", prep)
	}

	prepareID := strconv.FormatInt(tx.ID, 10)
	done := svc.ClickComplete(ctx, ParseClickRequest(clickForm(1, tx.InvoicePayload, prepareID, "75000", 0)))
	if done.Error != ClickOK || done.MerchantConfirmID != tx.ID {
		t.Fatalf("unexpected complete response %+v", done)
	}
	if store.bookings[20].Status != models.BookingStatusConfirmed {
		t.Fatalf("expected booking confirmed")
	}
	if store.transactions[tx.ID].ExternalID != "555001" {
		t.Fatalf("expected click_trans_id as external id, got %q", store.transactions[tx.ID].ExternalID)
	}

	again := svc.ClickComplete(ctx, ParseClickRequest(clickForm(1, tx.InvoicePayload, prepareID, "75000", 0)))
	if again.Error != ClickOK {
		t.Fatalf("expected replayed complete to succeed, got %+v", again)
	}
	if store.confirmCalls != 1 {
		t.Fatalf("expected a single confirmation write, got %d", store.confirmCalls)
	}
	if len(bot.messages[5003]) != 1 {
		t.Fatalf("expected one customer notice, got %d", len(bot.messages[5003]))
	}
}

func TestClickRejectsBadSignature(t *testing.T) {
	svc, store, _ := newTestService()
	_, tx := store.addBooking(21, 3, "75000", models.ProviderClick)

	form := clickForm(0, tx.InvoicePayload, "", "75000", 0)
	form.Set("sign_string", "00000000000000000000000000000000")
	resp := svc.ClickPrepare(context.Background(), ParseClickRequest(form))
	if resp.Error != ClickSignFailed {
		t.Fatalf("expected sign failure, got %+v", resp)
	}

	tampered := clickForm(1, tx.InvoicePayload, strconv.FormatInt(tx.ID, 10), "75000", 0)
	tampered.Set("amount", "1")
	resp = svc.ClickComplete(context.Background(), ParseClickRequest(tampered))
	if resp.Error != ClickSignFailed {
		t.Fatalf("expected sign failure for tampered amount, got %+v", resp)
	}
	if store.transactions[tx.ID].Status != models.TransactionStatusPending || store.confirmCalls != 0 {
		t.Fatalf("rejected callbacks must not change state")
	}
}

func TestClickPrepareValidation(t *testing.T) {
	svc, store, _ := newTestService()
	_, tx := store.addBooking(22, 3, "75000", models.ProviderClick)
	_, cashTx := store.addBooking(23, 3, "75000", models.ProviderCash)
	expired, expiredTx := store.addBooking(24, 3, "75000", models.ProviderClick)
	expired.Status = models.BookingStatusExpired

	cases := []struct {
		name string
		form url.Values
		want int
	}{
		{"wrong action", clickForm(1, tx.InvoicePayload, "", "75000", 0), ClickActionNotFound},
		{"wrong amount", clickForm(0, tx.InvoicePayload, "", "70000", 0), ClickBadAmount},
		{"unknown payload", clickForm(0, "booking_22_nope", "", "75000", 0), ClickOrderNotFound},
		{"cash transaction", clickForm(0, cashTx.InvoicePayload, "", "75000", 0), ClickOrderNotFound},
		{"expired booking", clickForm(0, expiredTx.InvoicePayload, "", "75000", 0), ClickTxCancelled},
		{"decimal amount", clickForm(0, tx.InvoicePayload, "", "75000.00", 0), ClickOK},
	}
	for _, tc := range cases {
		resp := svc.ClickPrepare(context.Background(), ParseClickRequest(tc.form))
		if resp.Error != tc.want {
			t.Fatalf("%s: expected %d, got %+v", tc.name, tc.want, resp)
		}
	}
}

func TestClickCompleteWithErrorCancels(t *testing.T) {
	svc, store, _ := newTestService()
	_, tx := store.addBooking(25, 3, "75000", models.ProviderClick)

	resp := svc.ClickComplete(context.Background(), ParseClickRequest(clickForm(1, tx.InvoicePayload, strconv.FormatInt(tx.ID, 10), "75000", -5017)))
	if resp.Error != ClickTxCancelled {
		t.Fatalf("expected cancellation, got %+v", resp)
	}
	if store.transactions[tx.ID].Status != models.TransactionStatusCancelled {
		t.Fatalf("expected transaction cancelled")
	}
	if store.bookings[25].Status != models.BookingStatusPending {
		t.Fatalf("booking stays pending for another attempt")
	}
}

func TestClickCompleteWrongPrepareID(t *testing.T) {
	svc, store, _ := newTestService()
	_, tx := store.addBooking(26, 3, "75000", models.ProviderClick)

	resp := svc.ClickComplete(context.Background(), ParseClickRequest(clickForm(1, tx.InvoicePayload, "1", "75000", 0)))
	if resp.Error != ClickTxNotFound {
		t.Fatalf("expected transaction not found, got %+v", resp)
	}
}

func TestClickCompleteStoresCallbackWithoutSignature(t *testing.T) {
	svc, store, _ := newTestService()
	_, tx := store.addBooking(27, 3, "75000", models.ProviderClick)

	form := clickForm(1, tx.InvoicePayload, strconv.FormatInt(tx.ID, 10), "75000", 0)
	if resp := svc.ClickComplete(context.Background(), ParseClickRequest(form)); resp.Error != ClickOK {
		t.Fatalf("unexpected complete response %+v", resp)
	}
	var stored map[string]any
	if err := json.Unmarshal(store.lastPayload, &stored); err != nil {
		t.Fatalf("stored payload is not JSON: %v", err)
	}
	if stored["click_trans_id"] != "555001" || stored["merchant_trans_id"] != tx.InvoicePayload || stored["amount"] != "75000" {
		t.Fatalf("unexpected stored payload %v", stored)
	}
	for key := range stored {
		if key == "sign_string" || key == "SignString" {
			t.Fatalf("signature must not be stored, got %v", stored)
		}
	}
}
