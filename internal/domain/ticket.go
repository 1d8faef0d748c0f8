package domain

import "time"

// Source identifies the upstream system a ticket was ingested from.
type Source string

const (
	SourceChat     Source = "chat"
	SourceHelpdesk Source = "helpdesk"
	SourceTracker  Source = "tracker"
)

func (s Source) Valid() bool {
	switch s {
	case SourceChat, SourceHelpdesk, SourceTracker:
		return true
	}
	return false
}

// Kind is the coarse request type assigned at ingest time.
type Kind string

const (
	KindIssue          Kind = "issue"
	KindFeatureRequest Kind = "feature_request"
	KindUnknown        Kind = "unknown"
)

func (k Kind) Valid() bool {
	switch k {
	case KindIssue, KindFeatureRequest, KindUnknown:
		return true
	}
	return false
}

// Ticket is one ingested support item, deduplicated on (Source, ExternalID).
type Ticket struct {
	ID         int64
	Source     Source
	ExternalID string
	Title      string
	Body       string
	Kind       Kind
	Status     string
	Priority   string
	Requester  string
	Assignee   string
	Labels     []string
	URL        string
	Project    string
	IsInternal bool

	PredictedVertical   string
	PredictedConfidence float64
	PredictedBasis      string

	SourceCreatedAt time.Time
	SourceUpdatedAt time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ReportedAt is the timestamp used for recency ordering: the upstream
// creation time when known, else the time we first stored the ticket.
func (t Ticket) ReportedAt() time.Time {
	if !t.SourceCreatedAt.IsZero() {
		return t.SourceCreatedAt
	}
	return t.CreatedAt
}

// Prediction is one classifier decision for a ticket.
type Prediction struct {
	TicketID   int64
	Vertical   string
	Name       string
	Confidence float64
	Basis      string // "override", "project", "label", "tag", "keyword", or "" for none
	Matched    []string
}

// Override is one human vertical assignment. Overrides are append-only;
// the latest row per ticket wins.
type Override struct {
	ID        int64
	TicketID  int64
	Vertical  string
	Reviewer  string
	Note      string
	CreatedAt time.Time
}
