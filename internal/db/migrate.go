package db

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// RunMigrations applies the idempotent schema. Every domain table shares the
// (id, user_id, created_at, payload) shape; extra columns hold fields the
// database aggregates.
func RunMigrations(ctx context.Context, db *sqlx.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT,
    email_blind_index TEXT UNIQUE,
    password_hash TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS emotion_entries (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    payload TEXT NOT NULL,
    primary_emotion TEXT,
    intensity SMALLINT CHECK (intensity BETWEEN 1 AND 5)
);
CREATE INDEX IF NOT EXISTS emotion_entries_user_created ON emotion_entries (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS cbt_sessions (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    payload TEXT NOT NULL,
    step TEXT
);
CREATE INDEX IF NOT EXISTS cbt_sessions_user_created ON cbt_sessions (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS conversations (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    payload TEXT NOT NULL,
    role TEXT
);
CREATE INDEX IF NOT EXISTS conversations_user_created ON conversations (user_id, created_at DESC);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return err
	}

	alters := `
DO $$ BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns WHERE table_name='users' AND column_name='display_name'
    ) THEN
        ALTER TABLE users ADD COLUMN display_name TEXT;
    END IF;
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns WHERE table_name='users' AND column_name='is_anonymous'
    ) THEN
        ALTER TABLE users ADD COLUMN is_anonymous BOOLEAN NOT NULL DEFAULT false;
    END IF;
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns WHERE table_name='users' AND column_name='is_admin'
    ) THEN
        ALTER TABLE users ADD COLUMN is_admin BOOLEAN NOT NULL DEFAULT false;
    END IF;
END $$;`
	_, err := db.ExecContext(ctx, alters)
	return err
}
