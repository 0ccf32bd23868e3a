package credits

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"matchcall/pkg/utils"
)

// PostgresRepo persists allocations and ledger entries.
// All methods respect a transaction carried in ctx (see utils.ContextWithTx),
// so settlement's select-decrement-append runs atomically with the session
// update that triggered it.

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) InsertAllocation(ctx context.Context, a Allocation) error {
	const q = `
INSERT INTO credit_allocations (id, user_id, purchased, remaining, expires_at, last_used_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`
	_, err := utils.QuerierFrom(ctx, r.db).ExecContext(ctx, q,
		a.ID, a.UserID, a.Purchased, a.Remaining, a.ExpiresAt, a.LastUsedAt, a.CreatedAt)
	return err
}

func (r *PostgresRepo) SpendableAllocation(ctx context.Context, userID string, now time.Time) (Allocation, bool, error) {
	// Earliest-expiry-first drawdown. FOR UPDATE serializes concurrent
	// settlements touching the same user.
	const q = `
SELECT id, user_id, purchased, remaining, expires_at, last_used_at, created_at
FROM credit_allocations
WHERE user_id = $1 AND remaining > 0 AND expires_at > $2
ORDER BY expires_at ASC
LIMIT 1
FOR UPDATE
`
	var a Allocation
	err := utils.QuerierFrom(ctx, r.db).QueryRowContext(ctx, q, userID, now).Scan(
		&a.ID, &a.UserID, &a.Purchased, &a.Remaining, &a.ExpiresAt, &a.LastUsedAt, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Allocation{}, false, nil
		}
		return Allocation{}, false, err
	}
	return a, true, nil
}

func (r *PostgresRepo) HasSpendable(ctx context.Context, userID string, now time.Time) (bool, error) {
	const q = `
SELECT EXISTS (
  SELECT 1 FROM credit_allocations
  WHERE user_id = $1 AND remaining > 0 AND expires_at > $2
)
`
	var ok bool
	if err := utils.QuerierFrom(ctx, r.db).QueryRowContext(ctx, q, userID, now).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (r *PostgresRepo) UpdateAllocation(ctx context.Context, a Allocation) error {
	const q = `
UPDATE credit_allocations
SET remaining = $2, last_used_at = $3
WHERE id = $1
`
	_, err := utils.QuerierFrom(ctx, r.db).ExecContext(ctx, q, a.ID, a.Remaining, a.LastUsedAt)
	return err
}

func (r *PostgresRepo) AllocationsForUser(ctx context.Context, userID string) ([]Allocation, error) {
	const q = `
SELECT id, user_id, purchased, remaining, expires_at, last_used_at, created_at
FROM credit_allocations
WHERE user_id = $1
ORDER BY expires_at ASC
`
	rows, err := utils.QuerierFrom(ctx, r.db).QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Allocation
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(&a.ID, &a.UserID, &a.Purchased, &a.Remaining, &a.ExpiresAt, &a.LastUsedAt, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) AppendLedger(ctx context.Context, e LedgerEntry) error {
	const q = `
INSERT INTO credit_ledger (id, user_id, session_id, action, delta, reason, created_at)
VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,$7)
`
	_, err := utils.QuerierFrom(ctx, r.db).ExecContext(ctx, q,
		e.ID, e.UserID, e.SessionID, e.Action, e.Delta, e.Reason, e.CreatedAt)
	return err
}

func (r *PostgresRepo) LedgerForUser(ctx context.Context, userID string, limit int) ([]LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT id, user_id, COALESCE(session_id, ''), action, delta, COALESCE(reason, ''), created_at
FROM credit_ledger
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2
`
	return r.scanLedger(ctx, q, userID, limit)
}

func (r *PostgresRepo) LedgerForSession(ctx context.Context, sessionID string) ([]LedgerEntry, error) {
	const q = `
SELECT id, user_id, COALESCE(session_id, ''), action, delta, COALESCE(reason, ''), created_at
FROM credit_ledger
WHERE session_id = $1
ORDER BY created_at ASC
`
	return r.scanLedger(ctx, q, sessionID)
}

func (r *PostgresRepo) scanLedger(ctx context.Context, q string, args ...any) ([]LedgerEntry, error) {
	rows, err := utils.QuerierFrom(ctx, r.db).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.SessionID, &e.Action, &e.Delta, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
