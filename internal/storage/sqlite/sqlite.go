// Package sqlite persists tickets, embedding vectors, vertical overrides,
// and connector sync state.
package sqlite

import (
	"database/sql"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS tickets (
		id                   INTEGER PRIMARY KEY AUTOINCREMENT,
		source               TEXT NOT NULL,
		external_id          TEXT NOT NULL,
		title                TEXT DEFAULT '',
		body                 TEXT DEFAULT '',
		kind                 TEXT DEFAULT 'unknown',
		status               TEXT DEFAULT '',
		priority             TEXT DEFAULT '',
		requester            TEXT DEFAULT '',
		assignee             TEXT DEFAULT '',
		labels               TEXT DEFAULT '',
		url                  TEXT DEFAULT '',
		project              TEXT DEFAULT '',
		is_internal          INTEGER DEFAULT 0,
		predicted_vertical   TEXT DEFAULT '',
		predicted_confidence REAL DEFAULT 0,
		source_created_at    DATETIME,
		source_updated_at    DATETIME,
		created_at           DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at           DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(source, external_id)
	);
	CREATE INDEX IF NOT EXISTS idx_tickets_source_updated ON tickets(source, source_updated_at);
	CREATE INDEX IF NOT EXISTS idx_tickets_kind ON tickets(kind);

	CREATE TABLE IF NOT EXISTS ticket_embeddings (
		ticket_id  INTEGER PRIMARY KEY,
		model      TEXT NOT NULL,
		dim        INTEGER NOT NULL,
		text_hash  TEXT NOT NULL,
		vector     TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS vertical_overrides (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		ticket_id  INTEGER NOT NULL,
		vertical   TEXT NOT NULL,
		reviewer   TEXT DEFAULT '',
		note       TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_overrides_ticket ON vertical_overrides(ticket_id);

	CREATE TABLE IF NOT EXISTS sync_state (
		source          TEXT PRIMARY KEY,
		last_run_at     DATETIME,
		last_cursor     TEXT DEFAULT '',
		last_updated_at DATETIME
	);
	`
	_, err = db.Exec(schema)
	if err != nil {
		return nil, err
	}

	// Migration: add predicted_basis column if missing.
	var colCount int
	_ = db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('tickets') WHERE name = 'predicted_basis'`).Scan(&colCount)
	if colCount == 0 {
		_, _ = db.Exec(`ALTER TABLE tickets ADD COLUMN predicted_basis TEXT DEFAULT ''`)
	}

	return db, nil
}

func joinLabels(labels []string) string {
	return strings.Join(labels, ",")
}

func splitLabels(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, l := range strings.Split(s, ",") {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

// nullTime maps zero times onto NULL so "unknown" survives a roundtrip.
func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
