package users

import (
	"context"
	"database/sql"
	"errors"

	"matchcall/pkg/utils"
)

// PostgresDirectory reads the profile subsystem's tables directly.
// Assumed schema (owned by the profile subsystem, not this engine):
// - users(id, phone, active)
// - matches(user_a, user_b, status) with status 'accepted' for mutual matches

type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) User(ctx context.Context, id string) (User, bool, error) {
	const q = `
SELECT id, COALESCE(phone, ''), active
FROM users
WHERE id = $1
`
	var u User
	err := utils.QuerierFrom(ctx, d.db).QueryRowContext(ctx, q, id).Scan(&u.ID, &u.Phone, &u.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, false, nil
		}
		return User{}, false, err
	}
	return u, true, nil
}

func (d *PostgresDirectory) Matched(ctx context.Context, a, b string) (bool, error) {
	// Matches are stored once per pair; check both orientations.
	const q = `
SELECT EXISTS (
  SELECT 1 FROM matches
  WHERE status = 'accepted'
    AND ((user_a = $1 AND user_b = $2) OR (user_a = $2 AND user_b = $1))
)
`
	var ok bool
	if err := utils.QuerierFrom(ctx, d.db).QueryRowContext(ctx, q, a, b).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}
