package fetch

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"pminsight/internal/domain"
	"pminsight/internal/storage/sqlite"
)

// BackfillKinds re-infers the issue/feature split for tickets in the
// window and persists the rows that changed. Safe to rerun: inference is
// deterministic on stored text.
func BackfillKinds(db *sql.DB, since time.Time) (scanned, updated int, err error) {
	tickets, err := sqlite.ListTickets(db, sqlite.TicketQuery{Since: since, IncludeInternal: true})
	if err != nil {
		return 0, 0, fmt.Errorf("list tickets: %w", err)
	}

	changes := make(map[int64]domain.Kind)
	for _, t := range tickets {
		if k := InferKind(t); k != t.Kind {
			changes[t.ID] = k
		}
	}
	if err := sqlite.UpdateKinds(db, changes); err != nil {
		return len(tickets), 0, fmt.Errorf("update kinds: %w", err)
	}
	return len(tickets), len(changes), nil
}

// BackfillInternalFlags re-evaluates the internal flag for helpdesk
// tickets against the current internal-domain list. The requester field
// holds the requester email for helpdesk tickets.
func BackfillInternalFlags(db *sql.DB, since time.Time, internalDomains []string) (scanned, updated int, err error) {
	tickets, err := sqlite.ListTickets(db, sqlite.TicketQuery{
		Since:           since,
		Source:          string(domain.SourceHelpdesk),
		IncludeInternal: true,
	})
	if err != nil {
		return 0, 0, fmt.Errorf("list tickets: %w", err)
	}

	changes := make(map[int64]bool)
	for _, t := range tickets {
		if flag := IsInternalEmail(t.Requester, internalDomains); flag != t.IsInternal {
			changes[t.ID] = flag
		}
	}
	if err := sqlite.UpdateInternalFlags(db, changes); err != nil {
		return len(tickets), 0, fmt.Errorf("update internal flags: %w", err)
	}
	return len(tickets), len(changes), nil
}

// IsInternalEmail reports whether the address belongs to one of the
// configured internal domains. Unknown or empty addresses count as
// external so customer tickets are never hidden by default.
func IsInternalEmail(email string, internalDomains []string) bool {
	_, domainPart, ok := strings.Cut(strings.ToLower(strings.TrimSpace(email)), "@")
	if !ok || domainPart == "" {
		return false
	}
	for _, d := range internalDomains {
		if strings.EqualFold(strings.TrimSpace(d), domainPart) {
			return true
		}
	}
	return false
}
