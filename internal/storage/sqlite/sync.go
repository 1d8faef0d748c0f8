package sqlite

import (
	"database/sql"
	"time"
)

// SyncState is the per-source incremental watermark: when the last sync
// ran, the newest upstream update it saw, and an opaque cursor for
// cursor-paginated APIs.
type SyncState struct {
	Source        string
	LastRunAt     time.Time
	LastCursor    string
	LastUpdatedAt time.Time
}

func GetSyncState(db *sql.DB, source string) (SyncState, bool, error) {
	var st SyncState
	var lastRun, lastUpdated sql.NullTime
	err := db.QueryRow(
		`SELECT source, last_run_at, last_cursor, last_updated_at FROM sync_state WHERE source = ?`,
		source,
	).Scan(&st.Source, &lastRun, &st.LastCursor, &lastUpdated)
	if err == sql.ErrNoRows {
		return SyncState{Source: source}, false, nil
	}
	if err != nil {
		return st, false, err
	}
	st.LastRunAt = lastRun.Time
	st.LastUpdatedAt = lastUpdated.Time
	return st, true, nil
}

func SaveSyncState(db *sql.DB, st SyncState) error {
	_, err := db.Exec(
		`INSERT INTO sync_state (source, last_run_at, last_cursor, last_updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(source) DO UPDATE
		 SET last_run_at = excluded.last_run_at, last_cursor = excluded.last_cursor,
		     last_updated_at = excluded.last_updated_at`,
		st.Source, nullTime(st.LastRunAt), st.LastCursor, nullTime(st.LastUpdatedAt),
	)
	return err
}
