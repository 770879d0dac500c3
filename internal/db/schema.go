package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema statements are idempotent so the server can bootstrap an empty
// database on startup. The uniqueness constraints here are load-bearing:
// roster(event_id, uid) and presence(session_id, uid) make marks idempotent
// under concurrent writers, and the partial index on sessions enforces
// at most one open session per event.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		event_id   BIGSERIAL PRIMARY KEY,
		event_name TEXT NOT NULL,
		start_time TIMESTAMPTZ,
		end_time   TIMESTAMPTZ,
		is_active  BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS roster (
		event_id         BIGINT NOT NULL REFERENCES events(event_id),
		uid              TEXT NOT NULL,
		name             TEXT NOT NULL,
		branch           TEXT NOT NULL DEFAULT '',
		year             TEXT NOT NULL DEFAULT '',
		status           TEXT NOT NULL DEFAULT 'Absent',
		marked_at        TIMESTAMPTZ,
		source           TEXT NOT NULL DEFAULT 'Imported',
		device_id        TEXT NOT NULL DEFAULT '',
		device_timestamp TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (event_id, uid)
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		session_id   BIGSERIAL PRIMARY KEY,
		event_id     BIGINT NOT NULL REFERENCES events(event_id),
		session_name TEXT NOT NULL,
		is_active    BOOLEAN NOT NULL DEFAULT FALSE,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS sessions_one_active
		ON sessions (event_id) WHERE is_active`,
	`CREATE TABLE IF NOT EXISTS presence (
		session_id       BIGINT NOT NULL REFERENCES sessions(session_id),
		event_id         BIGINT NOT NULL REFERENCES events(event_id),
		uid              TEXT NOT NULL,
		marked_at        TIMESTAMPTZ NOT NULL,
		source           TEXT NOT NULL,
		device_id        TEXT NOT NULL DEFAULT '',
		device_timestamp TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (session_id, uid)
	)`,
	`CREATE INDEX IF NOT EXISTS presence_event_session
		ON presence (event_id, session_id, marked_at DESC)`,
	`CREATE TABLE IF NOT EXISTS devices (
		device_id     TEXT PRIMARY KEY,
		last_seen     TIMESTAMPTZ NOT NULL,
		last_event_id BIGINT,
		last_ip       TEXT NOT NULL DEFAULT ''
	)`,
}

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
