package repository

import (
	"context"
	"database/sql"
	"errors"

	"polyatop/backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrUserNotFound = errors.New("user not found")

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type queryRunner interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

const userColumns = `id, telegram_id, username, first_name, last_name, photo_url, language, role, created_at, updated_at`

// UpsertUser creates the user on first sight of a Telegram identity and
// refreshes the profile afterwards. The stored role is kept; role is only
// applied on insert or when promoting to superadmin.
func (r *Repository) UpsertUser(ctx context.Context, user models.User) (models.User, error) {
	role := user.Role
	if role == "" {
		role = models.RoleCustomer
	}
	query := `
INSERT INTO users (telegram_id, username, first_name, last_name, photo_url, language, role)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (telegram_id) DO UPDATE SET
	username = EXCLUDED.username,
	first_name = EXCLUDED.first_name,
	last_name = EXCLUDED.last_name,
	photo_url = EXCLUDED.photo_url,
	language = COALESCE(EXCLUDED.language, users.language),
	role = CASE WHEN EXCLUDED.role = 'superadmin' THEN 'superadmin' ELSE users.role END,
	updated_at = now()
RETURNING ` + userColumns + `;`

	row := r.pool.QueryRow(ctx, query, user.TelegramID, nullString(user.Username), user.FirstName, nullString(user.LastName), nullString(user.PhotoURL), nullString(user.Language), role)
	return scanUser(row)
}

func (r *Repository) GetUserByID(ctx context.Context, id int64) (models.User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

func (r *Repository) GetUserTelegramID(ctx context.Context, userID int64) (int64, error) {
	var tid int64
	if err := r.pool.QueryRow(ctx, `SELECT telegram_id FROM users WHERE id = $1`, userID).Scan(&tid); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	return tid, nil
}

func (r *Repository) SetUserRole(ctx context.Context, userID int64, role string) (models.User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, `
UPDATE users
SET role = $2,
	updated_at = now()
WHERE id = $1
RETURNING `+userColumns+`;`, userID, role))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// ListSuperadminTelegramIDs returns the chats that receive operational alerts.
func (r *Repository) ListSuperadminTelegramIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT telegram_id FROM users WHERE role = $1 ORDER BY id`, models.RoleSuperadmin)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *Repository) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func scanUser(row pgx.Row) (models.User, error) {
	var out models.User
	var username sql.NullString
	var lastName sql.NullString
	var photoURL sql.NullString
	var language sql.NullString
	err := row.Scan(&out.ID, &out.TelegramID, &username, &out.FirstName, &lastName, &photoURL, &language, &out.Role, &out.CreatedAt, &out.UpdatedAt)
	out.Username = username.String
	out.LastName = lastName.String
	out.PhotoURL = photoURL.String
	out.Language = language.String
	return out, err
}

func nullString(val string) interface{} {
	if val == "" {
		return nil
	}
	return val
}
