package events

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"callbridge/pkg/utils"
)

// NOTE: This repository assumes the following tables exist:
//
// CREATE TABLE voice_calls (
//   id                BIGSERIAL PRIMARY KEY,
//   uuid              TEXT NOT NULL UNIQUE,
//   conversation_uuid TEXT,
//   direction         TEXT,
//   status            TEXT,
//   from_type         TEXT,
//   from_number       TEXT,
//   to_type           TEXT,
//   to_number         TEXT,
//   operator_id       BIGINT,
//   campaign_id       BIGINT,
//   contact_id        BIGINT,
//   event_url         TEXT,
//   error_message     TEXT,
//   started_at        TIMESTAMPTZ,
//   ended_at          TIMESTAMPTZ,
//   created_at        TIMESTAMPTZ NOT NULL,
//   updated_at        TIMESTAMPTZ NOT NULL
// );
//
// CREATE TABLE voice_events (
//   id                BIGSERIAL PRIMARY KEY,
//   call_id           BIGINT NOT NULL REFERENCES voice_calls(id),
//   uuid              TEXT,
//   conversation_uuid TEXT,
//   status            TEXT,
//   direction         TEXT,
//   from_number       TEXT,
//   to_number         TEXT,
//   event_timestamp   TIMESTAMPTZ,
//   payload           JSONB NOT NULL,
//   created_at        TIMESTAMPTZ NOT NULL
// );

// querier is the read/write surface shared by *sql.DB and *sql.Tx, so
// one repository implementation serves both plain and transactional use.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type PostgresRepo struct {
	db *sql.DB
	q  querier
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, q: db}
}

// WithinTx hands fn a repository bound to a single transaction. A
// repository already inside one runs fn directly; transactions do not
// nest.
func (r *PostgresRepo) WithinTx(ctx context.Context, fn func(Repository) error) error {
	if _, ok := r.q.(*sql.Tx); ok {
		return fn(r)
	}
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		return fn(&PostgresRepo{db: r.db, q: tx})
	})
}

func (r *PostgresRepo) FindCallByUUID(ctx context.Context, uuid string) (Call, error) {
	const q = `
SELECT id, uuid, conversation_uuid, direction, status,
       from_type, from_number, to_type, to_number,
       operator_id, campaign_id, contact_id,
       event_url, error_message, started_at, ended_at, created_at, updated_at
FROM voice_calls
WHERE uuid = $1
`
	return scanCall(r.q.QueryRowContext(ctx, q, uuid))
}

func (r *PostgresRepo) InsertCall(ctx context.Context, c Call) (Call, error) {
	const q = `
INSERT INTO voice_calls (
  uuid, conversation_uuid, direction, status,
  from_type, from_number, to_type, to_number,
  operator_id, campaign_id, contact_id,
  event_url, error_message, started_at, ended_at, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$16)
RETURNING id
`
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.UpdatedAt = c.CreatedAt
	if err := r.q.QueryRowContext(ctx, q,
		c.UUID, c.ConversationUUID, c.Direction, c.Status,
		c.FromType, c.FromNumber, c.ToType, c.ToNumber,
		c.OperatorID, c.CampaignID, c.ContactID,
		c.EventURL, c.ErrorMessage, c.StartedAt, c.EndedAt, c.CreatedAt,
	).Scan(&c.ID); err != nil {
		return Call{}, err
	}
	return c, nil
}

func (r *PostgresRepo) UpdateCallStatus(ctx context.Context, uuid, status string) error {
	const q = `
UPDATE voice_calls
SET status = $2, updated_at = $3
WHERE uuid = $1
`
	res, err := r.q.ExecContext(ctx, q, uuid, status, time.Now().UTC())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) ListCalls(ctx context.Context) ([]Call, error) {
	const q = `
SELECT id, uuid, conversation_uuid, direction, status,
       from_type, from_number, to_type, to_number,
       operator_id, campaign_id, contact_id,
       event_url, error_message, started_at, ended_at, created_at, updated_at
FROM voice_calls
ORDER BY created_at DESC
`
	rows, err := r.q.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) AppendEvent(ctx context.Context, e CallEvent) error {
	const q = `
INSERT INTO voice_events (
  call_id, uuid, conversation_uuid, status, direction,
  from_number, to_number, event_timestamp, payload, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := r.q.ExecContext(ctx, q,
		e.CallID, e.UUID, e.ConversationUUID, e.Status, e.Direction,
		e.FromNumber, e.ToNumber, e.Timestamp, e.Payload, e.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) EventsByCallID(ctx context.Context, callID int64) ([]CallEvent, error) {
	const q = `
SELECT id, call_id, uuid, conversation_uuid, status, direction,
       from_number, to_number, event_timestamp, payload, created_at
FROM voice_events
WHERE call_id = $1
ORDER BY id
`
	rows, err := r.q.QueryContext(ctx, q, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallEvent
	for rows.Next() {
		var e CallEvent
		if err := rows.Scan(
			&e.ID, &e.CallID, &e.UUID, &e.ConversationUUID, &e.Status, &e.Direction,
			&e.FromNumber, &e.ToNumber, &e.Timestamp, &e.Payload, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (Call, error) {
	var c Call
	if err := row.Scan(
		&c.ID, &c.UUID, &c.ConversationUUID, &c.Direction, &c.Status,
		&c.FromType, &c.FromNumber, &c.ToType, &c.ToNumber,
		&c.OperatorID, &c.CampaignID, &c.ContactID,
		&c.EventURL, &c.ErrorMessage, &c.StartedAt, &c.EndedAt, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	return c, nil
}
