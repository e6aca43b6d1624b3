package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"polyatop/backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

var (
	ErrVenueNotFound      = errors.New("venue not found")
	ErrVenueImageNotFound = errors.New("venue image not found")
)

const venueColumns = `v.id, v.owner_id, v.name, v.description, v.city, v.address, v.latitude, v.longitude,
	v.price_per_hour::text, v.deposit_amount::text,
	COALESCE(to_char(v.open_time, 'HH24:MI'), ''), COALESCE(to_char(v.close_time, 'HH24:MI'), ''),
	v.images, v.is_active, v.created_at, v.updated_at`

func (r *Repository) CreateVenue(ctx context.Context, venue models.Venue) (models.Venue, error) {
	images := venue.Images
	if images == nil {
		images = []string{}
	}
	deposit := venue.DepositAmount
	if deposit.IsZero() {
		deposit = venue.PricePerHour
	}
	row := r.pool.QueryRow(ctx, `
INSERT INTO venues AS v (
	owner_id, name, description, city, address, latitude, longitude,
	price_per_hour, deposit_amount, open_time, close_time, images, is_active
) VALUES (
	$1, $2, $3, $4, $5, $6, $7,
	$8::numeric, $9::numeric, NULLIF($10, '')::time, NULLIF($11, '')::time, $12, $13
)
RETURNING `+venueColumns+`;`,
		venue.OwnerID, venue.Name, venue.Description, venue.City, venue.Address, venue.Latitude, venue.Longitude,
		venue.PricePerHour.String(), deposit.String(), venue.OpenTime, venue.CloseTime, images, venue.IsActive,
	)
	return scanVenue(row)
}

// GetVenue loads a venue regardless of is_active; callers decide visibility.
func (r *Repository) GetVenue(ctx context.Context, id int64) (models.Venue, error) {
	venue, err := scanVenue(r.pool.QueryRow(ctx, `SELECT `+venueColumns+` FROM venues v WHERE v.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Venue{}, ErrVenueNotFound
	}
	return venue, err
}

func (r *Repository) ListVenues(ctx context.Context, filter models.VenueFilter, activeOnly bool) ([]models.Venue, error) {
	where := []string{"TRUE"}
	args := []interface{}{}
	add := func(clause string, val interface{}) {
		args = append(args, val)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if activeOnly {
		where = append(where, "v.is_active")
	}
	if city := strings.TrimSpace(filter.City); city != "" {
		add("lower(v.city) = lower($%d)", city)
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		add("(v.name ILIKE '%%' || $%d || '%%')", q)
	}
	if filter.OwnerID > 0 {
		add("v.owner_id = $%d", filter.OwnerID)
	}
	limit, offset := clampPage(filter.Limit, filter.Offset)
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM venues v WHERE %s ORDER BY v.name ASC, v.id ASC LIMIT $%d OFFSET $%d`,
		venueColumns, strings.Join(where, " AND "), len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Venue{}
	for rows.Next() {
		venue, err := scanVenue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, venue)
	}
	return out, rows.Err()
}

// UpdateVenue applies patch to a venue owned by ownerID. ownerID 0 skips the ownership check.
func (r *Repository) UpdateVenue(ctx context.Context, id, ownerID int64, patch models.VenuePatch) (models.Venue, error) {
	sets := []string{}
	args := []interface{}{id}
	set := func(expr string, val interface{}) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}
	if patch.Name != nil {
		set("name = $%d", *patch.Name)
	}
	if patch.Description != nil {
		set("description = $%d", *patch.Description)
	}
	if patch.City != nil {
		set("city = $%d", *patch.City)
	}
	if patch.Address != nil {
		set("address = $%d", *patch.Address)
	}
	if patch.Latitude != nil {
		set("latitude = $%d", *patch.Latitude)
	}
	if patch.Longitude != nil {
		set("longitude = $%d", *patch.Longitude)
	}
	if patch.PricePerHour != nil {
		set("price_per_hour = $%d::numeric", patch.PricePerHour.String())
	}
	if patch.DepositAmount != nil {
		set("deposit_amount = $%d::numeric", patch.DepositAmount.String())
	}
	if patch.OpenTime != nil {
		set("open_time = NULLIF($%d, '')::time", *patch.OpenTime)
	}
	if patch.CloseTime != nil {
		set("close_time = NULLIF($%d, '')::time", *patch.CloseTime)
	}
	if patch.Images != nil {
		images := *patch.Images
		if images == nil {
			images = []string{}
		}
		set("images = $%d", images)
	}
	if patch.IsActive != nil {
		set("is_active = $%d", *patch.IsActive)
	}
	if len(sets) == 0 {
		return r.getOwnedVenue(ctx, id, ownerID)
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, ownerID)
	query := fmt.Sprintf(`
UPDATE venues AS v
SET %s
WHERE v.id = $1
	AND ($%d::bigint = 0 OR v.owner_id = $%d)
RETURNING %s;`, strings.Join(sets, ", "), len(args), len(args), venueColumns)

	venue, err := scanVenue(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Venue{}, ErrVenueNotFound
	}
	return venue, err
}

func (r *Repository) AddVenueImage(ctx context.Context, id, ownerID int64, imageURL string) (models.Venue, error) {
	venue, err := scanVenue(r.pool.QueryRow(ctx, `
UPDATE venues AS v
SET images = array_append(v.images, $3),
	updated_at = now()
WHERE v.id = $1
	AND ($2::bigint = 0 OR v.owner_id = $2)
RETURNING `+venueColumns+`;`, id, ownerID, imageURL))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Venue{}, ErrVenueNotFound
	}
	return venue, err
}

// RemoveVenueImage drops imageURL from the venue's photos.
func (r *Repository) RemoveVenueImage(ctx context.Context, id, ownerID int64, imageURL string) (models.Venue, error) {
	venue, err := scanVenue(r.pool.QueryRow(ctx, `
UPDATE venues AS v
SET images = array_remove(v.images, $3),
	updated_at = now()
WHERE v.id = $1
	AND ($2::bigint = 0 OR v.owner_id = $2)
	AND $3 = ANY(v.images)
RETURNING `+venueColumns+`;`, id, ownerID, imageURL))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, err := r.getOwnedVenue(ctx, id, ownerID); err != nil {
			return models.Venue{}, err
		}
		return models.Venue{}, ErrVenueImageNotFound
	}
	return venue, err
}

// DeactivateVenue hides a venue from listings and new bookings. Existing
// bookings keep their state.
func (r *Repository) DeactivateVenue(ctx context.Context, id, ownerID int64) (models.Venue, error) {
	inactive := false
	return r.UpdateVenue(ctx, id, ownerID, models.VenuePatch{IsActive: &inactive})
}

func (r *Repository) getOwnedVenue(ctx context.Context, id, ownerID int64) (models.Venue, error) {
	venue, err := r.GetVenue(ctx, id)
	if err != nil {
		return models.Venue{}, err
	}
	if ownerID != 0 && venue.OwnerID != ownerID {
		return models.Venue{}, ErrVenueNotFound
	}
	return venue, nil
}

func scanVenue(row pgx.Row) (models.Venue, error) {
	var out models.Venue
	var price, deposit string
	if err := row.Scan(
		&out.ID, &out.OwnerID, &out.Name, &out.Description, &out.City, &out.Address, &out.Latitude, &out.Longitude,
		&price, &deposit, &out.OpenTime, &out.CloseTime,
		&out.Images, &out.IsActive, &out.CreatedAt, &out.UpdatedAt,
	); err != nil {
		return models.Venue{}, err
	}
	var err error
	if out.PricePerHour, err = decimal.NewFromString(price); err != nil {
		return models.Venue{}, fmt.Errorf("venue %d price: %w", out.ID, err)
	}
	if out.DepositAmount, err = decimal.NewFromString(deposit); err != nil {
		return models.Venue{}, fmt.Errorf("venue %d deposit: %w", out.ID, err)
	}
	if out.Images == nil {
		out.Images = []string{}
	}
	return out, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
