package sqlite

import (
	"database/sql"
	"time"

	"pminsight/internal/domain"
)

const ticketColumns = `id, source, external_id, title, body, kind, status, priority,
	requester, assignee, labels, url, project, is_internal,
	predicted_vertical, predicted_confidence, predicted_basis,
	source_created_at, source_updated_at, created_at, updated_at`

const insertTicketSQL = `INSERT INTO tickets
	(source, external_id, title, body, kind, status, priority, requester, assignee,
	 labels, url, project, is_internal, source_created_at, source_updated_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const updateTicketSQL = `UPDATE tickets
	SET title = ?, body = ?, kind = ?, status = ?, priority = ?, requester = ?, assignee = ?,
	    labels = ?, url = ?, project = ?, is_internal = ?, source_created_at = ?, source_updated_at = ?, updated_at = ?
	WHERE id = ?`

// TicketQuery selects a ticket subset. Zero fields mean "no filter"; the
// vertical filter is not applied here because resolving a ticket's
// vertical requires the override log.
type TicketQuery struct {
	Since           time.Time
	Source          string
	Kind            string
	IncludeInternal bool
}

// UpsertTicket inserts a ticket or refreshes the existing row matching
// (source, external_id). Classifier fields are left alone on update; the
// reclassify pass refreshes them. Returns the row id and whether a new
// row was created.
func UpsertTicket(db *sql.DB, t domain.Ticket) (int64, bool, error) {
	var id int64
	err := db.QueryRow(`SELECT id FROM tickets WHERE source = ? AND external_id = ?`, t.Source, t.ExternalID).Scan(&id)
	now := time.Now().UTC()
	switch {
	case err == sql.ErrNoRows:
		res, err := db.Exec(insertTicketSQL, insertTicketArgs(t, now)...)
		if err != nil {
			return 0, false, err
		}
		id, err = res.LastInsertId()
		return id, true, err
	case err != nil:
		return 0, false, err
	}
	_, err = db.Exec(updateTicketSQL, updateTicketArgs(t, id, now)...)
	return id, false, err
}

// UpsertTickets runs the same upsert over a batch inside one transaction
// and reports how many rows were created versus refreshed.
func UpsertTickets(db *sql.DB, tickets []domain.Ticket) (created, updated int, err error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, t := range tickets {
		var id int64
		err := tx.QueryRow(`SELECT id FROM tickets WHERE source = ? AND external_id = ?`, t.Source, t.ExternalID).Scan(&id)
		switch {
		case err == sql.ErrNoRows:
			if _, err := tx.Exec(insertTicketSQL, insertTicketArgs(t, now)...); err != nil {
				return created, updated, err
			}
			created++
		case err != nil:
			return created, updated, err
		default:
			if _, err := tx.Exec(updateTicketSQL, updateTicketArgs(t, id, now)...); err != nil {
				return created, updated, err
			}
			updated++
		}
	}
	return created, updated, tx.Commit()
}

func insertTicketArgs(t domain.Ticket, now time.Time) []any {
	kind := t.Kind
	if kind == "" {
		kind = domain.KindUnknown
	}
	return []any{
		t.Source, t.ExternalID, t.Title, t.Body, kind, t.Status, t.Priority,
		t.Requester, t.Assignee, joinLabels(t.Labels), t.URL, t.Project, t.IsInternal,
		nullTime(t.SourceCreatedAt), nullTime(t.SourceUpdatedAt), now, now,
	}
}

func updateTicketArgs(t domain.Ticket, id int64, now time.Time) []any {
	kind := t.Kind
	if kind == "" {
		kind = domain.KindUnknown
	}
	return []any{
		t.Title, t.Body, kind, t.Status, t.Priority, t.Requester, t.Assignee,
		joinLabels(t.Labels), t.URL, t.Project, t.IsInternal,
		nullTime(t.SourceCreatedAt), nullTime(t.SourceUpdatedAt), now, id,
	}
}

// ListTickets returns tickets matching q, oldest row first so downstream
// clustering sees a stable input order.
func ListTickets(db *sql.DB, q TicketQuery) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE 1=1`
	var args []any
	if !q.Since.IsZero() {
		query += ` AND COALESCE(source_created_at, created_at) >= ?`
		args = append(args, q.Since)
	}
	if q.Source != "" {
		query += ` AND source = ?`
		args = append(args, q.Source)
	}
	if q.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, q.Kind)
	}
	if !q.IncludeInternal {
		query += ` AND is_internal = 0`
	}
	query += ` ORDER BY id`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func GetTicketByID(db *sql.DB, id int64) (domain.Ticket, error) {
	row := db.QueryRow(`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id)
	t, err := scanTicket(row)
	if err == sql.ErrNoRows {
		return t, domain.ErrNotFound
	}
	return t, err
}

// SavePrediction writes the classifier outcome onto the ticket row.
// Concurrent writers for the same ticket converge because classification
// is deterministic, so last-writer-wins is safe.
func SavePrediction(db *sql.DB, ticketID int64, p domain.Prediction) error {
	_, err := db.Exec(
		`UPDATE tickets SET predicted_vertical = ?, predicted_confidence = ?, predicted_basis = ? WHERE id = ?`,
		p.Vertical, p.Confidence, p.Basis, ticketID,
	)
	return err
}

func SavePredictions(db *sql.DB, predictions map[int64]domain.Prediction) error {
	if len(predictions) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`UPDATE tickets SET predicted_vertical = ?, predicted_confidence = ?, predicted_basis = ? WHERE id = ?`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for id, p := range predictions {
		if _, err := stmt.Exec(p.Vertical, p.Confidence, p.Basis, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpdateKinds rewrites the kind column for the given tickets, used by the
// maintenance backfill after the kind rules change.
func UpdateKinds(db *sql.DB, kinds map[int64]domain.Kind) error {
	if len(kinds) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`UPDATE tickets SET kind = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for id, kind := range kinds {
		if _, err := stmt.Exec(kind, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpdateInternalFlags rewrites the is_internal flag for the given
// tickets, used by the maintenance backfill after the internal-domain
// rules change.
func UpdateInternalFlags(db *sql.DB, flags map[int64]bool) error {
	if len(flags) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`UPDATE tickets SET is_internal = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for id, flag := range flags {
		if _, err := stmt.Exec(flag, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (domain.Ticket, error) {
	var t domain.Ticket
	var labels string
	var sourceCreated, sourceUpdated sql.NullTime
	err := row.Scan(
		&t.ID, &t.Source, &t.ExternalID, &t.Title, &t.Body, &t.Kind, &t.Status, &t.Priority,
		&t.Requester, &t.Assignee, &labels, &t.URL, &t.Project, &t.IsInternal,
		&t.PredictedVertical, &t.PredictedConfidence, &t.PredictedBasis,
		&sourceCreated, &sourceUpdated, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return t, err
	}
	t.Labels = splitLabels(labels)
	t.SourceCreatedAt = sourceCreated.Time
	t.SourceUpdatedAt = sourceUpdated.Time
	return t, nil
}
