package booking

import (
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var ErrInvalidPayload = errors.New("invalid invoice payload")

const payloadPrefix = "booking_"

// NewInvoicePayload correlates a provider payment with one transaction attempt
// of bookingID. Every call returns a distinct value.
func NewInvoicePayload(bookingID int64) string {
	return payloadPrefix + strconv.FormatInt(bookingID, 10) + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ParseInvoicePayload extracts the booking id from a payload created by NewInvoicePayload.
func ParseInvoicePayload(payload string) (int64, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(payload), payloadPrefix)
	if !ok {
		return 0, ErrInvalidPayload
	}
	idPart, nonce, ok := strings.Cut(rest, "_")
	if !ok || nonce == "" {
		return 0, ErrInvalidPayload
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidPayload
	}
	return id, nil
}
