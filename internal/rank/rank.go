// Package rank computes frequency-ordered Top-N issue and feature lists
// from classified tickets.
package rank

import (
	"sort"

	"pminsight/internal/domain"
	"pminsight/internal/normalize"
)

// TopN groups near-duplicate tickets and returns the n most reported
// issue groups and feature-request groups. Repeated reports of the same
// problem collapse onto one row that ranks by group size; ordering is
// count descending, then most recent report, then key ascending so the
// result is a total order. Unknown-kind tickets appear in neither list.
func TopN(tickets []domain.Ticket, n int) (issues, features []domain.RankedItem) {
	if n < 1 {
		return nil, nil
	}
	return rankKind(tickets, domain.KindIssue, n), rankKind(tickets, domain.KindFeatureRequest, n)
}

type dupGroup struct {
	key     string
	latest  domain.Ticket
	members []int64
}

func rankKind(tickets []domain.Ticket, kind domain.Kind, n int) []domain.RankedItem {
	byKey := make(map[string]*dupGroup)
	for _, t := range tickets {
		if t.Kind != kind {
			continue
		}
		key := normalize.TitleKey(t.Title, t.Body)
		if key == "" {
			continue
		}
		g := byKey[key]
		if g == nil {
			g = &dupGroup{key: key, latest: t}
			byKey[key] = g
		} else if t.ReportedAt().After(g.latest.ReportedAt()) {
			g.latest = t
		}
		g.members = append(g.members, t.ID)
	}

	groups := make([]*dupGroup, 0, len(byKey))
	for _, g := range byKey {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if len(a.members) != len(b.members) {
			return len(a.members) > len(b.members)
		}
		if !a.latest.ReportedAt().Equal(b.latest.ReportedAt()) {
			return a.latest.ReportedAt().After(b.latest.ReportedAt())
		}
		return a.key < b.key
	})
	if len(groups) > n {
		groups = groups[:n]
	}

	items := make([]domain.RankedItem, len(groups))
	for i, g := range groups {
		title := g.latest.Title
		if title == "" {
			title = g.key
		}
		items[i] = domain.RankedItem{
			Title:     title,
			Count:     len(g.members),
			Kind:      kind,
			Source:    g.latest.Source,
			URL:       g.latest.URL,
			LastSeen:  g.latest.ReportedAt(),
			TicketIDs: g.members,
		}
	}
	return items
}
