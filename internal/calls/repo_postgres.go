package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"matchcall/pkg/utils"
)

// PostgresRepo persists sessions and webhook records. All methods respect a
// transaction carried in ctx (see utils.ContextWithTx). Session lookups used
// by mutation paths lock the row.

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// PostgresTxRunner runs units of work inside a database transaction shared
// through context by every repository in this module.
type PostgresTxRunner struct {
	db *sql.DB
}

func NewPostgresTxRunner(db *sql.DB) *PostgresTxRunner {
	return &PostgresTxRunner{db: db}
}

func (t *PostgresTxRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return utils.WithTx(ctx, t.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		return fn(utils.ContextWithTx(ctx, tx))
	})
}

const sessionColumns = `
id, caller_id, receiver_id, COALESCE(provider_ref, ''), status,
started_at, ended_at, duration_seconds, conversation_seconds, cost_units,
caller_leg, receiver_leg, COALESCE(recording_url, ''), created_at, updated_at
`

func (r *PostgresRepo) InsertSession(ctx context.Context, s Session) error {
	const q = `
INSERT INTO call_sessions (
  id, caller_id, receiver_id, provider_ref, status,
  started_at, ended_at, duration_seconds, conversation_seconds, cost_units,
  caller_leg, receiver_leg, recording_url, created_at, updated_at
) VALUES (
  $1,$2,$3,NULLIF($4,''),$5,$6,$7,$8,$9,$10,$11,$12,NULLIF($13,''),$14,$15
)
`
	callerLeg, receiverLeg, err := marshalLegs(s)
	if err != nil {
		return err
	}
	_, err = utils.QuerierFrom(ctx, r.db).ExecContext(ctx, q,
		s.ID, s.CallerID, s.ReceiverID, s.ProviderRef, s.Status,
		s.StartedAt, s.EndedAt, s.DurationSeconds, s.ConversationSeconds, s.CostUnits,
		callerLeg, receiverLeg, s.RecordingURL, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r *PostgresRepo) SessionByID(ctx context.Context, id string) (Session, bool, error) {
	const q = `SELECT ` + sessionColumns + ` FROM call_sessions WHERE id = $1 FOR UPDATE`
	return r.scanSession(ctx, q, id)
}

func (r *PostgresRepo) SessionByProviderRef(ctx context.Context, providerRef string) (Session, bool, error) {
	const q = `SELECT ` + sessionColumns + ` FROM call_sessions WHERE provider_ref = $1 FOR UPDATE`
	return r.scanSession(ctx, q, providerRef)
}

func (r *PostgresRepo) scanSession(ctx context.Context, q string, arg any) (Session, bool, error) {
	var (
		s                      Session
		callerLeg, receiverLeg []byte
	)
	err := utils.QuerierFrom(ctx, r.db).QueryRowContext(ctx, q, arg).Scan(
		&s.ID, &s.CallerID, &s.ReceiverID, &s.ProviderRef, &s.Status,
		&s.StartedAt, &s.EndedAt, &s.DurationSeconds, &s.ConversationSeconds, &s.CostUnits,
		&callerLeg, &receiverLeg, &s.RecordingURL, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, false, nil
		}
		return Session{}, false, err
	}
	if err := unmarshalLegs(callerLeg, receiverLeg, &s); err != nil {
		return Session{}, false, err
	}
	return s, true, nil
}

func (r *PostgresRepo) UpdateSession(ctx context.Context, s Session) error {
	const q = `
UPDATE call_sessions
SET provider_ref = NULLIF($2,''),
    status = $3,
    started_at = $4,
    ended_at = $5,
    duration_seconds = $6,
    conversation_seconds = $7,
    cost_units = $8,
    caller_leg = $9,
    receiver_leg = $10,
    recording_url = NULLIF($11,''),
    updated_at = $12
WHERE id = $1
`
	callerLeg, receiverLeg, err := marshalLegs(s)
	if err != nil {
		return err
	}
	_, err = utils.QuerierFrom(ctx, r.db).ExecContext(ctx, q,
		s.ID, s.ProviderRef, s.Status, s.StartedAt, s.EndedAt,
		s.DurationSeconds, s.ConversationSeconds, s.CostUnits,
		callerLeg, receiverLeg, s.RecordingURL, s.UpdatedAt)
	return err
}

func (r *PostgresRepo) StuckSessions(ctx context.Context, cutoff time.Time, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE status IN ('initiated','ringing','in_progress') AND updated_at < $1
ORDER BY updated_at ASC
LIMIT $2
`
	rows, err := utils.QuerierFrom(ctx, r.db).QueryContext(ctx, q, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			s                      Session
			callerLeg, receiverLeg []byte
		)
		if err := rows.Scan(
			&s.ID, &s.CallerID, &s.ReceiverID, &s.ProviderRef, &s.Status,
			&s.StartedAt, &s.EndedAt, &s.DurationSeconds, &s.ConversationSeconds, &s.CostUnits,
			&callerLeg, &receiverLeg, &s.RecordingURL, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		if err := unmarshalLegs(callerLeg, receiverLeg, &s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) InsertWebhook(ctx context.Context, rec WebhookRecord) error {
	const q = `
INSERT INTO webhook_records (id, provider_ref, payload, processed, created_at)
VALUES ($1,NULLIF($2,''),$3,$4,$5)
`
	_, err := utils.QuerierFrom(ctx, r.db).ExecContext(ctx, q,
		rec.ID, rec.ProviderRef, rec.Payload, rec.Processed, rec.CreatedAt)
	return err
}

func (r *PostgresRepo) MarkWebhookProcessed(ctx context.Context, id string) error {
	const q = `UPDATE webhook_records SET processed = TRUE WHERE id = $1`
	_, err := utils.QuerierFrom(ctx, r.db).ExecContext(ctx, q, id)
	return err
}

func (r *PostgresRepo) UnprocessedWebhooks(ctx context.Context, limit int) ([]WebhookRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT id, COALESCE(provider_ref, ''), payload, processed, created_at
FROM webhook_records
WHERE processed = FALSE
ORDER BY created_at ASC
LIMIT $1
`
	rows, err := utils.QuerierFrom(ctx, r.db).QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WebhookRecord
	for rows.Next() {
		var rec WebhookRecord
		if err := rows.Scan(&rec.ID, &rec.ProviderRef, &rec.Payload, &rec.Processed, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func marshalLegs(s Session) ([]byte, []byte, error) {
	callerLeg, err := json.Marshal(s.CallerLeg)
	if err != nil {
		return nil, nil, err
	}
	receiverLeg, err := json.Marshal(s.ReceiverLeg)
	if err != nil {
		return nil, nil, err
	}
	return callerLeg, receiverLeg, nil
}

func unmarshalLegs(callerLeg, receiverLeg []byte, s *Session) error {
	if len(callerLeg) > 0 {
		if err := json.Unmarshal(callerLeg, &s.CallerLeg); err != nil {
			return err
		}
	}
	if len(receiverLeg) > 0 {
		if err := json.Unmarshal(receiverLeg, &s.ReceiverLeg); err != nil {
			return err
		}
	}
	return nil
}
