package installation

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// NOTE: This repository assumes the following table exists:
//
// CREATE TABLE installation_metadata (
//   id               BIGSERIAL PRIMARY KEY,
//   installation_id  TEXT NOT NULL UNIQUE,
//   installation_name TEXT NOT NULL,
//   shared_secret    TEXT NOT NULL,
//   is_active        BOOLEAN NOT NULL DEFAULT TRUE,
//   created_at       TIMESTAMPTZ NOT NULL,
//   updated_at       TIMESTAMPTZ NOT NULL
// );

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Find(ctx context.Context) (Metadata, error) {
	// One row per deployment; the oldest wins if provisioning ever raced.
	const q = `
SELECT id, installation_id, installation_name, shared_secret, is_active, created_at, updated_at
FROM installation_metadata
ORDER BY id
LIMIT 1
`
	var m Metadata
	if err := r.db.QueryRowContext(ctx, q).Scan(
		&m.ID,
		&m.InstallationID,
		&m.Name,
		&m.SharedSecret,
		&m.Active,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Metadata{}, ErrNotFound
		}
		return Metadata{}, err
	}
	return m, nil
}

func (r *PostgresRepo) Insert(ctx context.Context, m Metadata) (Metadata, error) {
	const q = `
INSERT INTO installation_metadata (installation_id, installation_name, shared_secret, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
RETURNING id
`
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = m.CreatedAt
	if err := r.db.QueryRowContext(ctx, q,
		m.InstallationID,
		m.Name,
		m.SharedSecret,
		m.Active,
		m.CreatedAt,
	).Scan(&m.ID); err != nil {
		return Metadata{}, err
	}
	return m, nil
}

func (r *PostgresRepo) UpdateSecret(ctx context.Context, installationID, sharedSecret string) error {
	const q = `
UPDATE installation_metadata
SET shared_secret = $2, updated_at = $3
WHERE installation_id = $1
`
	res, err := r.db.ExecContext(ctx, q, installationID, sharedSecret, time.Now().UTC())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
