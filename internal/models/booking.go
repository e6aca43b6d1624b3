package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	BookingStatusPending   = "pending"
	BookingStatusConfirmed = "confirmed"
	BookingStatusCancelled = "cancelled"
	BookingStatusExpired   = "expired"
)

const (
	PaymentMethodCard = "card"
	PaymentMethodCash = "cash"
)

const (
	TransactionStatusPending   = "pending"
	TransactionStatusConfirmed = "confirmed"
	TransactionStatusCancelled = "cancelled"
)

const (
	ProviderCash     = "cash"
	ProviderTelegram = "telegram"
	ProviderClick    = "click"
)

// ActiveBookingStatuses are the statuses that occupy a venue slot.
var ActiveBookingStatuses = []string{BookingStatusPending, BookingStatusConfirmed}

type Booking struct {
	ID            int64           `json:"id"`
	UserID        int64           `json:"userId"`
	VenueID       int64           `json:"venueId"`
	VenueName     string          `json:"venueName,omitempty"`
	StartTime     time.Time       `json:"startTime"`
	EndTime       time.Time       `json:"endTime"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"paymentMethod"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	ConfirmedAt   *time.Time      `json:"confirmedAt,omitempty"`
	CancelledAt   *time.Time      `json:"cancelledAt,omitempty"`
}

type Transaction struct {
	ID              int64           `json:"id"`
	BookingID       int64           `json:"bookingId"`
	UserID          int64           `json:"userId"`
	Provider        string          `json:"provider"`
	Amount          decimal.Decimal `json:"amount"`
	Status          string          `json:"status"`
	InvoicePayload  string          `json:"invoicePayload"`
	ExternalID      string          `json:"externalId,omitempty"`
	ProviderPayload json.RawMessage `json:"providerPayload,omitempty"`
	ConfirmedBy     *int64          `json:"confirmedBy,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	ConfirmedAt     *time.Time      `json:"confirmedAt,omitempty"`
}

type BookingDetail struct {
	Booking      Booking       `json:"booking"`
	Transactions []Transaction `json:"transactions"`
}

type CreateBookingParams struct {
	UserID        int64
	VenueID       int64
	StartTime     time.Time
	EndTime       time.Time
	PaymentMethod string
	Provider      string
	Now           time.Time
	Location      *time.Location
}

type BookingFilter struct {
	UserID  int64
	OwnerID int64
	VenueID int64
	Status  string
	From    *time.Time
	To      *time.Time
	Limit   int
	Offset  int
}

// PaymentConfirmation is the provider side evidence that a transaction was paid.
type PaymentConfirmation struct {
	InvoicePayload  string
	Provider        string
	ExternalID      string
	Amount          decimal.Decimal
	ProviderPayload json.RawMessage
}

// PaymentOutcome reports what confirming a payment changed.
type PaymentOutcome struct {
	Transaction      Transaction `json:"transaction"`
	Booking          Booking     `json:"booking"`
	AlreadyConfirmed bool        `json:"alreadyConfirmed"`
	NeedsRefund      bool        `json:"needsRefund"`
	TelegramID       int64       `json:"-"`
}

type ExpireResult struct {
	Bookings     int64 `json:"bookings"`
	Transactions int64 `json:"transactions"`
}

type VenueRevenue struct {
	VenueID  int64           `json:"venueId"`
	Name     string          `json:"name"`
	Revenue  decimal.Decimal `json:"revenue"`
	Bookings int             `json:"bookings"`
}

type FinanceSummary struct {
	TotalRevenue decimal.Decimal `json:"totalRevenue"`
	Venues       []VenueRevenue  `json:"venues"`
}

type VenueUsage struct {
	VenueID     int64   `json:"venueId"`
	Name        string  `json:"name"`
	Bookings    int     `json:"bookings"`
	BookedHours float64 `json:"bookedHours"`
}

type CustomerStats struct {
	UniqueCustomers int `json:"uniqueCustomers"`
	Returning       int `json:"returning"`
}
