package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the tables on startup when they are absent. Idempotent;
// a real migration tool can take over without fighting it.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id            UUID PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			name          TEXT NOT NULL,
			image_url     TEXT NOT NULL DEFAULT '',
			role          TEXT NOT NULL DEFAULT 'user',
			place_ids     UUID[] NOT NULL DEFAULT '{}',
			created_at    TIMESTAMPTZ NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS places (
			id          UUID PRIMARY KEY,
			title       TEXT NOT NULL,
			description TEXT NOT NULL,
			address     TEXT NOT NULL,
			lat         DOUBLE PRECISION NOT NULL,
			lng         DOUBLE PRECISION NOT NULL,
			image_url   TEXT NOT NULL,
			owner_id    UUID NOT NULL REFERENCES users(id),
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS places_owner_id_idx ON places(owner_id)`,
		`CREATE TABLE IF NOT EXISTS refresh_tokens (
			id          UUID PRIMARY KEY,
			user_id     UUID NOT NULL REFERENCES users(id),
			token_hash  TEXT NOT NULL,
			expires_at  TIMESTAMPTZ NOT NULL,
			revoked_at  TIMESTAMPTZ,
			replaced_by UUID,
			created_at  TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		_, err := pool.Exec(ctx, stmt)

		if err != nil {
			return err
		}
	}

	return nil
}
