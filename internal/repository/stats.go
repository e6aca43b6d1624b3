package repository

import (
	"context"
	"fmt"
	"time"

	"polyatop/backend/internal/models"

	"github.com/shopspring/decimal"
)

// FinanceSummary sums confirmed transactions per venue of ownerID (0 for all
// venues) within [from, to).
func (r *Repository) FinanceSummary(ctx context.Context, ownerID int64, from, to time.Time) (models.FinanceSummary, error) {
	out := models.FinanceSummary{TotalRevenue: decimal.Zero, Venues: []models.VenueRevenue{}}
	rows, err := r.pool.Query(ctx, `
SELECT v.id, v.name, COALESCE(paid.revenue, 0)::text, COALESCE(paid.bookings, 0)
FROM venues v
LEFT JOIN (
	SELECT b.venue_id, sum(t.amount) AS revenue, count(DISTINCT b.id) AS bookings
	FROM transactions t
	JOIN bookings b ON b.id = t.booking_id
	WHERE t.status = $2
		AND t.confirmed_at >= $3
		AND t.confirmed_at < $4
	GROUP BY b.venue_id
) paid ON paid.venue_id = v.id
WHERE ($1::bigint = 0 OR v.owner_id = $1)
ORDER BY v.name ASC`, ownerID, models.TransactionStatusConfirmed, from, to)
	if err != nil {
		return out, err
	}
	defer rows.Close()
	for rows.Next() {
		var item models.VenueRevenue
		var revenue string
		if err := rows.Scan(&item.VenueID, &item.Name, &revenue, &item.Bookings); err != nil {
			return out, err
		}
		item.Revenue, err = decimal.NewFromString(revenue)
		if err != nil {
			return out, fmt.Errorf("venue %d revenue: %w", item.VenueID, err)
		}
		out.TotalRevenue = out.TotalRevenue.Add(item.Revenue)
		out.Venues = append(out.Venues, item)
	}
	return out, rows.Err()
}

// VenueUsage counts confirmed bookings and booked hours starting in [from, to).
func (r *Repository) VenueUsage(ctx context.Context, ownerID int64, from, to time.Time) ([]models.VenueUsage, error) {
	rows, err := r.pool.Query(ctx, `
SELECT v.id, v.name,
	count(b.id),
	COALESCE(sum(EXTRACT(EPOCH FROM (b.end_time - b.start_time)) / 3600.0), 0)::float8
FROM venues v
LEFT JOIN bookings b ON b.venue_id = v.id
	AND b.status = $2
	AND b.start_time >= $3
	AND b.start_time < $4
WHERE ($1::bigint = 0 OR v.owner_id = $1)
GROUP BY v.id, v.name
ORDER BY count(b.id) DESC, v.name ASC`, ownerID, models.BookingStatusConfirmed, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.VenueUsage{}
	for rows.Next() {
		var item models.VenueUsage
		if err := rows.Scan(&item.VenueID, &item.Name, &item.Bookings, &item.BookedHours); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// CustomerStats counts distinct customers with a confirmed booking in [from, to)
// and how many of them booked more than once.
func (r *Repository) CustomerStats(ctx context.Context, ownerID int64, from, to time.Time) (models.CustomerStats, error) {
	var out models.CustomerStats
	err := r.pool.QueryRow(ctx, `
SELECT count(*), count(*) FILTER (WHERE n > 1)
FROM (
	SELECT b.user_id, count(*) AS n
	FROM bookings b
	JOIN venues v ON v.id = b.venue_id
	WHERE ($1::bigint = 0 OR v.owner_id = $1)
		AND b.status = $2
		AND b.start_time >= $3
		AND b.start_time < $4
	GROUP BY b.user_id
) per_user`, ownerID, models.BookingStatusConfirmed, from, to).Scan(&out.UniqueCustomers, &out.Returning)
	return out, err
}
