package domain

import "time"

// Grouping records how a theme's members were grouped together.
const (
	GroupingEmbedding = "embedding"
	GroupingFallback  = "kind_vertical"
)

// Theme is one cluster of related tickets from a clustering run.
type Theme struct {
	Label    int
	Kind     Kind
	Size     int
	Hint     string
	Grouping string
	Vertical string // set for fallback groups only
	Tickets  []ThemeTicket
}

// ThemeTicket is the per-ticket view embedded in a theme.
type ThemeTicket struct {
	ID     int64
	Title  string
	Source Source
	URL    string
	Kind   Kind
}

// RankedItem is one near-duplicate group in a top-N ranking. Title and
// URL come from the group's most recent ticket.
type RankedItem struct {
	Title     string
	Count     int
	Kind      Kind
	Source    Source
	URL       string
	LastSeen  time.Time
	TicketIDs []int64
}
