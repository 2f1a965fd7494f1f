// Package sqlitestore provides SQLite-backed store implementations.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/XSAM/otelsql"
	"go.opentelemetry.io/otel/attribute"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS moderation_reports (
	id                TEXT PRIMARY KEY,
	reporter_id       TEXT,
	reported_user_id  TEXT,
	target_kind       TEXT NOT NULL,
	target_id         TEXT NOT NULL,
	reason            TEXT NOT NULL,
	description       TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	priority          INTEGER NOT NULL CHECK (priority BETWEEN 1 AND 5),
	moderator_flagged INTEGER NOT NULL DEFAULT 0,
	internal_notes    TEXT NOT NULL DEFAULT '',
	reviewer_id       TEXT NOT NULL DEFAULT '',
	reviewed_at       TEXT,
	resolution_notes  TEXT NOT NULL DEFAULT '',
	action_id         TEXT NOT NULL DEFAULT '',
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS moderation_reports_reporter ON moderation_reports (reporter_id, created_at);
CREATE INDEX IF NOT EXISTS moderation_reports_queue ON moderation_reports (status, priority, created_at);

CREATE TABLE IF NOT EXISTS moderation_actions (
	id                TEXT PRIMARY KEY,
	actor_id          TEXT NOT NULL,
	target_user_id    TEXT NOT NULL,
	kind              TEXT NOT NULL,
	target_kind       TEXT NOT NULL DEFAULT '',
	target_id         TEXT NOT NULL DEFAULT '',
	reason            TEXT NOT NULL,
	duration_days     INTEGER,
	expires_at        TEXT,
	report_id         TEXT,
	internal_notes    TEXT NOT NULL DEFAULT '',
	notification_sent INTEGER NOT NULL DEFAULT 0,
	created_at        TEXT NOT NULL,
	revoked_at        TEXT,
	revoked_by        TEXT,
	reversal_reason   TEXT,
	payload           TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS moderation_actions_target ON moderation_actions (target_user_id, id);
CREATE INDEX IF NOT EXISTS moderation_actions_actor ON moderation_actions (actor_id, id);

CREATE TABLE IF NOT EXISTS moderation_restrictions (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	kind           TEXT NOT NULL,
	expires_at     TEXT,
	active         INTEGER NOT NULL,
	reason         TEXT NOT NULL,
	applied_by     TEXT NOT NULL,
	action_id      TEXT NOT NULL,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL,
	deactivated_at TEXT,
	deactivated_by TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS moderation_restrictions_user ON moderation_restrictions (user_id, id);
CREATE UNIQUE INDEX IF NOT EXISTS moderation_restrictions_one_active
	ON moderation_restrictions (user_id, kind) WHERE active = 1;
CREATE INDEX IF NOT EXISTS moderation_restrictions_expiry
	ON moderation_restrictions (expires_at) WHERE active = 1;
`

// Open opens (creating if needed) the SQLite database at path, instrumented
// with OpenTelemetry, and applies the moderation schema.
//
// Write transactions take the database lock up front (_txlock=immediate) so
// two writers never both read a report as open; a writer that cannot get the
// lock within the busy timeout fails with SQLITE_BUSY.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")
	dsn := "file:" + path + "?" + q.Encode()

	db, err := otelsql.Open("sqlite", dsn,
		otelsql.WithAttributes(attribute.String("db.system", "sqlite")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies the moderation schema. It is safe to run repeatedly.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
