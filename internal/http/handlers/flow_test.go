package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"testing"
	"time"

	"polyatop/backend/internal/db"
	"polyatop/backend/internal/models"
	"polyatop/backend/internal/repository"

	"github.com/shopspring/decimal"
)

type bookingBody struct {
	Booking      models.Booking       `json:"booking"`
	Transactions []models.Transaction `json:"transactions"`
	InvoiceSent  bool                 `json:"invoiceSent"`
}

func decodeBody(t *testing.T, raw []byte, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
}

func TestBookingFlowAgainstDatabase(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	if err := db.Migrate(dsn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("db connection: %v", err)
	}
	defer pool.Close()
	repo := repository.New(pool)
	cfg := testConfig()
	_, router, _ := newTestHandler(t, repo, cfg)

	base := time.Now().UnixNano() % 1_000_000_000
	owner, err := repo.UpsertUser(ctx, models.User{TelegramID: 7_000_000_000 + base, FirstName: "Owner", Role: models.RoleOwner})
	if err != nil {
		t.Fatalf("insert owner: %v", err)
	}
	customer, err := repo.UpsertUser(ctx, models.User{TelegramID: 7_100_000_000 + base, FirstName: "Customer"})
	if err != nil {
		t.Fatalf("insert customer: %v", err)
	}
	ownerToken := bearer(t, owner.ID, owner.TelegramID, models.RoleOwner)
	customerToken := bearer(t, customer.ID, customer.TelegramID, models.RoleCustomer)

	var venue models.Venue
	t.Cleanup(func() {
		bg := context.Background()
		_, _ = pool.Exec(bg, `DELETE FROM transactions WHERE booking_id IN (SELECT id FROM bookings WHERE venue_id = $1)`, venue.ID)
		_, _ = pool.Exec(bg, `DELETE FROM bookings WHERE venue_id = $1`, venue.ID)
		_, _ = pool.Exec(bg, `DELETE FROM venues WHERE id = $1`, venue.ID)
		_, _ = pool.Exec(bg, `DELETE FROM users WHERE id = ANY($1)`, []int64{owner.ID, customer.ID})
	})

	rr := doJSON(t, router, http.MethodPost, "/owner/venues", customerToken, map[string]interface{}{
		"name": "Nope", "city": "Tashkent", "address": "x", "pricePerHour": "1",
	})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("customers must not create venues, got %d", rr.Code)
	}

	rr = doJSON(t, router, http.MethodPost, "/owner/venues", ownerToken, map[string]interface{}{
		"name":         "Chilonzor Arena",
		"city":         "Tashkent",
		"address":      "Bunyodkor 1",
		"pricePerHour": "100000",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create venue: %d %s", rr.Code, rr.Body.String())
	}
	decodeBody(t, rr.Body.Bytes(), &venue)
	if venue.OwnerID != owner.ID || !venue.IsActive {
		t.Fatalf("unexpected venue %+v", venue)
	}

	loc := cfg.Timezone
	day := time.Now().In(loc).AddDate(0, 0, 2)
	start := time.Date(day.Year(), day.Month(), day.Day(), 14, 0, 0, 0, loc)

	rr = doJSON(t, router, http.MethodPost, "/bookings", customerToken, map[string]interface{}{
		"venueId":       venue.ID,
		"startTime":     start,
		"endTime":       start.Add(2 * time.Hour),
		"paymentMethod": models.PaymentMethodCash,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create booking: %d %s", rr.Code, rr.Body.String())
	}
	var created bookingBody
	decodeBody(t, rr.Body.Bytes(), &created)
	if created.Booking.Status != models.BookingStatusPending || !created.Booking.Amount.Equal(decimal.NewFromInt(200000)) {
		t.Fatalf("unexpected booking %+v", created.Booking)
	}
	if len(created.Transactions) != 1 || created.Transactions[0].Provider != models.ProviderCash || created.InvoiceSent {
		t.Fatalf("unexpected transactions %+v", created.Transactions)
	}

	rr = doJSON(t, router, http.MethodPost, "/bookings", customerToken, map[string]interface{}{
		"venueId":       venue.ID,
		"startTime":     start.Add(time.Hour),
		"endTime":       start.Add(90 * time.Minute),
		"paymentMethod": models.PaymentMethodCash,
	})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for overlapping slot, got %d %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, router, http.MethodGet, "/venues/"+strconv.FormatInt(venue.ID, 10)+"/availability?date="+start.Format("2006-01-02"), "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("availability: %d %s", rr.Code, rr.Body.String())
	}
	var avail struct {
		Items []struct {
			Time      string `json:"time"`
			Available bool   `json:"available"`
		} `json:"items"`
	}
	decodeBody(t, rr.Body.Bytes(), &avail)
	states := map[string]bool{}
	for _, p := range avail.Items {
		states[p.Time] = p.Available
	}
	if states["13:30"] != true || states["14:00"] || states["15:30"] || states["16:00"] != true {
		t.Fatalf("unexpected availability %v", states)
	}

	txPath := "/admin/transactions/" + strconv.FormatInt(created.Transactions[0].ID, 10) + "/confirm"
	if rr = doJSON(t, router, http.MethodPost, txPath, customerToken, nil); rr.Code != http.StatusForbidden {
		t.Fatalf("customers must not confirm payments, got %d", rr.Code)
	}
	rr = doJSON(t, router, http.MethodPost, txPath, ownerToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("confirm: %d %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, router, http.MethodGet, "/bookings/"+strconv.FormatInt(created.Booking.ID, 10), customerToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get booking: %d", rr.Code)
	}
	var detail bookingBody
	decodeBody(t, rr.Body.Bytes(), &detail)
	if detail.Booking.Status != models.BookingStatusConfirmed || detail.Transactions[0].Status != models.TransactionStatusConfirmed {
		t.Fatalf("expected confirmed booking, got %+v", detail)
	}

	rr = doJSON(t, router, http.MethodPost, "/bookings/"+strconv.FormatInt(created.Booking.ID, 10)+"/cancel", customerToken, nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("customers cannot cancel confirmed bookings, got %d", rr.Code)
	}

	rr = doJSON(t, router, http.MethodGet, "/owner/stats/finance?period=week", ownerToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("finance stats: %d %s", rr.Code, rr.Body.String())
	}
}

func TestVenueManagementAgainstDatabase(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	if err := db.Migrate(dsn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("db connection: %v", err)
	}
	defer pool.Close()
	repo := repository.New(pool)
	_, router, _ := newTestHandler(t, repo, testConfig())

	base := time.Now().UnixNano() % 1_000_000_000
	owner, err := repo.UpsertUser(ctx, models.User{TelegramID: 7_200_000_000 + base, FirstName: "Owner", Role: models.RoleOwner})
	if err != nil {
		t.Fatalf("insert owner: %v", err)
	}
	other, err := repo.UpsertUser(ctx, models.User{TelegramID: 7_300_000_000 + base, FirstName: "Other", Role: models.RoleOwner})
	if err != nil {
		t.Fatalf("insert other owner: %v", err)
	}
	customer, err := repo.UpsertUser(ctx, models.User{TelegramID: 7_400_000_000 + base, FirstName: "Customer"})
	if err != nil {
		t.Fatalf("insert customer: %v", err)
	}
	ownerToken := bearer(t, owner.ID, owner.TelegramID, models.RoleOwner)
	otherToken := bearer(t, other.ID, other.TelegramID, models.RoleOwner)
	customerToken := bearer(t, customer.ID, customer.TelegramID, models.RoleCustomer)

	const photo = "https://cdn.polyatop.test/polyatop/venues/1/photo.jpg"
	venue, err := repo.CreateVenue(ctx, models.Venue{
		OwnerID:      owner.ID,
		Name:         "Yunusobod Court",
		City:         "Tashkent",
		Address:      "Amir Temur 5",
		PricePerHour: decimal.NewFromInt(80000),
		Images:       []string{photo},
		IsActive:     true,
	})
	if err != nil {
		t.Fatalf("create venue: %v", err)
	}
	t.Cleanup(func() {
		bg := context.Background()
		_, _ = pool.Exec(bg, `DELETE FROM favorite_venues WHERE venue_id = $1`, venue.ID)
		_, _ = pool.Exec(bg, `DELETE FROM venues WHERE id = $1`, venue.ID)
		_, _ = pool.Exec(bg, `DELETE FROM users WHERE id = ANY($1)`, []int64{owner.ID, other.ID, customer.ID})
	})
	venuePath := "/owner/venues/" + strconv.FormatInt(venue.ID, 10)

	rr := doJSON(t, router, http.MethodPost, "/me/favorites", customerToken, map[string]interface{}{"venueId": venue.ID})
	if rr.Code != http.StatusCreated {
		t.Fatalf("add favorite: %d %s", rr.Code, rr.Body.String())
	}
	if rr = doJSON(t, router, http.MethodPost, "/me/favorites", customerToken, map[string]interface{}{"venueId": venue.ID}); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a repeated favorite, got %d", rr.Code)
	}
	var favorites struct {
		Items []models.Venue `json:"items"`
	}
	rr = doJSON(t, router, http.MethodGet, "/me/favorites", customerToken, nil)
	decodeBody(t, rr.Body.Bytes(), &favorites)
	if rr.Code != http.StatusOK || len(favorites.Items) != 1 || favorites.Items[0].ID != venue.ID {
		t.Fatalf("unexpected favorites %d %s", rr.Code, rr.Body.String())
	}

	if rr = doJSON(t, router, http.MethodDelete, venuePath+"/images", otherToken, map[string]string{"url": photo}); rr.Code != http.StatusNotFound {
		t.Fatalf("other owners must not edit the venue, got %d", rr.Code)
	}
	rr = doJSON(t, router, http.MethodDelete, venuePath+"/images", ownerToken, map[string]string{"url": photo})
	if rr.Code != http.StatusOK {
		t.Fatalf("remove image: %d %s", rr.Code, rr.Body.String())
	}
	var updated models.Venue
	decodeBody(t, rr.Body.Bytes(), &updated)
	if len(updated.Images) != 0 {
		t.Fatalf("expected image removed, got %v", updated.Images)
	}
	if rr = doJSON(t, router, http.MethodDelete, venuePath+"/images", ownerToken, map[string]string{"url": photo}); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown image, got %d", rr.Code)
	}

	if rr = doJSON(t, router, http.MethodDelete, venuePath, otherToken, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("other owners must not delete the venue, got %d", rr.Code)
	}
	if rr = doJSON(t, router, http.MethodDelete, venuePath, ownerToken, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("delete venue: %d %s", rr.Code, rr.Body.String())
	}
	if rr = doJSON(t, router, http.MethodGet, "/venues/"+strconv.FormatInt(venue.ID, 10), "", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("deactivated venue must be hidden, got %d", rr.Code)
	}
	rr = doJSON(t, router, http.MethodGet, "/me/favorites", customerToken, nil)
	decodeBody(t, rr.Body.Bytes(), &favorites)
	if len(favorites.Items) != 0 {
		t.Fatalf("deactivated venue must leave favorites, got %+v", favorites.Items)
	}

	path := "/me/favorites/" + strconv.FormatInt(venue.ID, 10)
	if rr = doJSON(t, router, http.MethodDelete, path, customerToken, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("remove favorite: %d", rr.Code)
	}
	if rr = doJSON(t, router, http.MethodDelete, path, customerToken, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a missing favorite, got %d", rr.Code)
	}
}
