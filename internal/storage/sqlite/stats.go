package sqlite

import (
	"database/sql"
	"sort"
	"strings"
	"time"
)

// ClassificationStats summarizes classifier coverage for a time window.
// Buckets follow the review bins so the numbers line up with sampling.
type ClassificationStats struct {
	TotalTickets  int
	Classified    int
	AvgConfidence float64
	BucketBelow50 int
	Bucket50to65  int
	Bucket65to80  int
	Bucket80to90  int
	Bucket90Plus  int
	Overrides     int
	ByBasis       map[string]int
}

func GetClassificationStats(db *sql.DB, since time.Time) (ClassificationStats, error) {
	s := ClassificationStats{ByBasis: make(map[string]int)}
	err := db.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN predicted_basis <> '' THEN 1 ELSE 0 END), 0),
		        COALESCE(AVG(CASE WHEN predicted_basis <> '' THEN predicted_confidence END), 0),
		        COALESCE(SUM(CASE WHEN predicted_basis <> '' AND predicted_confidence < 0.50 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN predicted_basis <> '' AND predicted_confidence >= 0.50 AND predicted_confidence < 0.65 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN predicted_basis <> '' AND predicted_confidence >= 0.65 AND predicted_confidence < 0.80 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN predicted_basis <> '' AND predicted_confidence >= 0.80 AND predicted_confidence < 0.90 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN predicted_basis <> '' AND predicted_confidence >= 0.90 THEN 1 ELSE 0 END), 0)
		 FROM tickets WHERE COALESCE(source_created_at, created_at) >= ?`,
		since,
	).Scan(&s.TotalTickets, &s.Classified, &s.AvgConfidence,
		&s.BucketBelow50, &s.Bucket50to65, &s.Bucket65to80, &s.Bucket80to90, &s.Bucket90Plus)
	if err != nil {
		return s, err
	}

	err = db.QueryRow(
		`SELECT COUNT(*) FROM vertical_overrides WHERE created_at >= ?`, since,
	).Scan(&s.Overrides)
	if err != nil {
		return s, err
	}

	rows, err := db.Query(
		`SELECT predicted_basis, COUNT(*) FROM tickets
		 WHERE COALESCE(source_created_at, created_at) >= ? AND predicted_basis <> ''
		 GROUP BY predicted_basis`,
		since,
	)
	if err != nil {
		return s, err
	}
	defer rows.Close()

	for rows.Next() {
		var basis string
		var count int
		if err := rows.Scan(&basis, &count); err != nil {
			return s, err
		}
		s.ByBasis[basis] = count
	}
	return s, rows.Err()
}

type LabelStat struct {
	Label string
	Count int
}

// LabelFrequencies counts label occurrences across matching tickets.
// Labels are lowercased and trimmed; the result is ordered count
// descending, label ascending. Returns the counts and how many tickets
// were scanned.
func LabelFrequencies(db *sql.DB, q TicketQuery) ([]LabelStat, int, error) {
	query := `SELECT labels FROM tickets WHERE 1=1`
	var args []any
	if !q.Since.IsZero() {
		query += ` AND COALESCE(source_created_at, created_at) >= ?`
		args = append(args, q.Since)
	}
	if q.Source != "" {
		query += ` AND source = ?`
		args = append(args, q.Source)
	}
	if !q.IncludeInternal {
		query += ` AND is_internal = 0`
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	total := 0
	for rows.Next() {
		var labels string
		if err := rows.Scan(&labels); err != nil {
			return nil, 0, err
		}
		total++
		for _, raw := range strings.Split(labels, ",") {
			label := strings.ToLower(strings.TrimSpace(raw))
			if label != "" {
				counts[label]++
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	stats := make([]LabelStat, 0, len(counts))
	for label, count := range counts {
		stats = append(stats, LabelStat{Label: label, Count: count})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].Label < stats[j].Label
	})
	return stats, total, nil
}
