package sqlite

import (
	"database/sql"
	"time"

	"pminsight/internal/domain"
)

// InsertOverride appends one human vertical assignment. The log is
// append-only; reads resolve the latest row per ticket, so a new insert
// is immediately visible to every subsequent read.
func InsertOverride(db *sql.DB, o domain.Override) (int64, error) {
	res, err := db.Exec(
		`INSERT INTO vertical_overrides (ticket_id, vertical, reviewer, note) VALUES (?, ?, ?, ?)`,
		o.TicketID, o.Vertical, o.Reviewer, o.Note,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetActiveOverride returns the latest override for a ticket, if any.
// Rows inserted in the same second tie on created_at; id breaks the tie
// because the log is append-only.
func GetActiveOverride(db *sql.DB, ticketID int64) (domain.Override, bool, error) {
	var o domain.Override
	err := db.QueryRow(
		`SELECT id, ticket_id, vertical, reviewer, note, created_at
		 FROM vertical_overrides WHERE ticket_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		ticketID,
	).Scan(&o.ID, &o.TicketID, &o.Vertical, &o.Reviewer, &o.Note, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return o, false, nil
	}
	return o, err == nil, err
}

// ListActiveOverrides returns the latest override per ticket. MAX(id)
// identifies the latest row since the log never updates in place.
func ListActiveOverrides(db *sql.DB) (map[int64]domain.Override, error) {
	rows, err := db.Query(
		`SELECT o.id, o.ticket_id, o.vertical, o.reviewer, o.note, o.created_at
		 FROM vertical_overrides o
		 JOIN (SELECT ticket_id, MAX(id) AS max_id FROM vertical_overrides GROUP BY ticket_id) latest
		   ON latest.max_id = o.id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]domain.Override)
	for rows.Next() {
		var o domain.Override
		if err := rows.Scan(&o.ID, &o.TicketID, &o.Vertical, &o.Reviewer, &o.Note, &o.CreatedAt); err != nil {
			return nil, err
		}
		out[o.TicketID] = o
	}
	return out, rows.Err()
}

func CountOverrides(db *sql.DB, since time.Time) (int, error) {
	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM vertical_overrides WHERE created_at >= ?`, since,
	).Scan(&count)
	return count, err
}

// ListRecentOverrides returns the newest log entries for auditing,
// including superseded ones.
func ListRecentOverrides(db *sql.DB, limit int) ([]domain.Override, error) {
	rows, err := db.Query(
		`SELECT id, ticket_id, vertical, reviewer, note, created_at
		 FROM vertical_overrides ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Override
	for rows.Next() {
		var o domain.Override
		if err := rows.Scan(&o.ID, &o.TicketID, &o.Vertical, &o.Reviewer, &o.Note, &o.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
