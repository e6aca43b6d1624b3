package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleCustomer   = "customer"
	RoleOwner      = "owner"
	RoleSupport    = "support"
	RoleSuperadmin = "superadmin"
)

type User struct {
	ID         int64     `json:"id"`
	TelegramID int64     `json:"telegramId"`
	Username   string    `json:"username,omitempty"`
	FirstName  string    `json:"firstName"`
	LastName   string    `json:"lastName,omitempty"`
	PhotoURL   string    `json:"photoUrl,omitempty"`
	Language   string    `json:"language,omitempty"`
	Role       string    `json:"role"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Venue is a bookable sports ground. OpenTime and CloseTime are local
// "HH:MM" values; both empty means the default opening hours apply.
type Venue struct {
	ID            int64           `json:"id"`
	OwnerID       int64           `json:"ownerId"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	City          string          `json:"city"`
	Address       string          `json:"address"`
	Latitude      *float64        `json:"latitude,omitempty"`
	Longitude     *float64        `json:"longitude,omitempty"`
	PricePerHour  decimal.Decimal `json:"pricePerHour"`
	DepositAmount decimal.Decimal `json:"depositAmount"`
	OpenTime      string          `json:"openTime,omitempty"`
	CloseTime     string          `json:"closeTime,omitempty"`
	Images        []string        `json:"images"`
	IsActive      bool            `json:"isActive"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

type VenueFilter struct {
	City    string
	Query   string
	OwnerID int64
	Limit   int
	Offset  int
}

// VenuePatch carries optional venue updates; nil fields are left untouched.
type VenuePatch struct {
	Name          *string
	Description   *string
	City          *string
	Address       *string
	Latitude      *float64
	Longitude     *float64
	PricePerHour  *decimal.Decimal
	DepositAmount *decimal.Decimal
	OpenTime      *string
	CloseTime     *string
	Images        *[]string
	IsActive      *bool
}
