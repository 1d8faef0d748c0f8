package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// StoredEmbedding is one cached vector. TextHash identifies the exact
// normalized text the vector was computed from; a mismatch means the
// ticket changed and the vector must be recomputed.
type StoredEmbedding struct {
	TicketID int64
	Model    string
	Dim      int
	TextHash string
	Vector   []float32
}

func UpsertEmbedding(db *sql.DB, e StoredEmbedding) error {
	encoded, err := json.Marshal(e.Vector)
	if err != nil {
		return fmt.Errorf("encode vector: %w", err)
	}
	_, err = db.Exec(
		`INSERT INTO ticket_embeddings (ticket_id, model, dim, text_hash, vector)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(ticket_id) DO UPDATE
		 SET model = excluded.model, dim = excluded.dim, text_hash = excluded.text_hash,
		     vector = excluded.vector, updated_at = CURRENT_TIMESTAMP`,
		e.TicketID, e.Model, e.Dim, e.TextHash, string(encoded),
	)
	return err
}

func UpsertEmbeddings(db *sql.DB, embeddings []StoredEmbedding) error {
	if len(embeddings) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO ticket_embeddings (ticket_id, model, dim, text_hash, vector)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(ticket_id) DO UPDATE
		 SET model = excluded.model, dim = excluded.dim, text_hash = excluded.text_hash,
		     vector = excluded.vector, updated_at = CURRENT_TIMESTAMP`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range embeddings {
		encoded, err := json.Marshal(e.Vector)
		if err != nil {
			return fmt.Errorf("encode vector for ticket %d: %w", e.TicketID, err)
		}
		if _, err := stmt.Exec(e.TicketID, e.Model, e.Dim, e.TextHash, string(encoded)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func GetEmbedding(db *sql.DB, ticketID int64) (StoredEmbedding, bool, error) {
	var e StoredEmbedding
	var encoded string
	err := db.QueryRow(
		`SELECT ticket_id, model, dim, text_hash, vector FROM ticket_embeddings WHERE ticket_id = ?`,
		ticketID,
	).Scan(&e.TicketID, &e.Model, &e.Dim, &e.TextHash, &encoded)
	if err == sql.ErrNoRows {
		return e, false, nil
	}
	if err != nil {
		return e, false, err
	}
	if err := json.Unmarshal([]byte(encoded), &e.Vector); err != nil {
		return e, false, fmt.Errorf("decode vector for ticket %d: %w", ticketID, err)
	}
	return e, true, nil
}

// GetEmbeddings loads cached vectors for the given tickets, keyed by
// ticket id. Missing tickets are simply absent from the map.
func GetEmbeddings(db *sql.DB, ticketIDs []int64) (map[int64]StoredEmbedding, error) {
	out := make(map[int64]StoredEmbedding, len(ticketIDs))
	if len(ticketIDs) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ticketIDs)), ",")
	args := make([]any, len(ticketIDs))
	for i, id := range ticketIDs {
		args[i] = id
	}

	rows, err := db.Query(
		`SELECT ticket_id, model, dim, text_hash, vector FROM ticket_embeddings
		 WHERE ticket_id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var e StoredEmbedding
		var encoded string
		if err := rows.Scan(&e.TicketID, &e.Model, &e.Dim, &e.TextHash, &encoded); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(encoded), &e.Vector); err != nil {
			return nil, fmt.Errorf("decode vector for ticket %d: %w", e.TicketID, err)
		}
		out[e.TicketID] = e
	}
	return out, rows.Err()
}
