package repository

import (
	"context"
	"errors"

	"polyatop/backend/internal/models"

	"github.com/jackc/pgx/v5"
)

var (
	ErrFavoriteExists   = errors.New("venue is already in favorites")
	ErrFavoriteNotFound = errors.New("favorite not found")
)

// AddFavoriteVenue stores venueID in the user's favorites. Only active
// venues can be added.
func (r *Repository) AddFavoriteVenue(ctx context.Context, userID, venueID int64) (models.Venue, error) {
	var venue models.Venue
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		venue, err = scanVenue(tx.QueryRow(ctx, `SELECT `+venueColumns+` FROM venues v WHERE v.id = $1 AND v.is_active FOR SHARE`, venueID))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrVenueNotFound
		}
		if err != nil {
			return err
		}
		cmd, err := tx.Exec(ctx, `
INSERT INTO favorite_venues (user_id, venue_id)
VALUES ($1, $2)
ON CONFLICT (user_id, venue_id) DO NOTHING`, userID, venueID)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return ErrFavoriteExists
		}
		return nil
	})
	if err != nil {
		return models.Venue{}, err
	}
	return venue, nil
}

func (r *Repository) RemoveFavoriteVenue(ctx context.Context, userID, venueID int64) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM favorite_venues WHERE user_id = $1 AND venue_id = $2`, userID, venueID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrFavoriteNotFound
	}
	return nil
}

// ListFavoriteVenues returns the user's active favorite venues, newest first.
func (r *Repository) ListFavoriteVenues(ctx context.Context, userID int64, limit, offset int) ([]models.Venue, error) {
	limit, offset = clampPage(limit, offset)
	rows, err := r.pool.Query(ctx, `
SELECT `+venueColumns+`
FROM favorite_venues f
JOIN venues v ON v.id = f.venue_id
WHERE f.user_id = $1
	AND v.is_active
ORDER BY f.created_at DESC, v.id DESC
LIMIT $2 OFFSET $3`, userID, limit, offset)
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
