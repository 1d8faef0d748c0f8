package cluster

import (
	"sort"

	"pminsight/internal/domain"
)

// Build clusters tickets over their embedding vectors and assembles one
// theme per cluster. texts and vectors run parallel to tickets. Themes are
// ordered by size descending, then label ascending; an empty input yields
// no themes.
func Build(tickets []domain.Ticket, texts []string, vectors [][]float32, k int, seed int64) []domain.Theme {
	if len(tickets) == 0 {
		return nil
	}
	assignments := KMeans(vectors, k, seed)
	hints := Hints(texts, assignments)

	byLabel := make(map[int][]domain.Ticket)
	for i, t := range tickets {
		byLabel[assignments[i]] = append(byLabel[assignments[i]], t)
	}
	labels := make([]int, 0, len(byLabel))
	for label := range byLabel {
		labels = append(labels, label)
	}
	sort.Ints(labels)

	themes := make([]domain.Theme, 0, len(labels))
	for _, label := range labels {
		members := byLabel[label]
		themes = append(themes, domain.Theme{
			Label:    label,
			Kind:     majorityKind(members),
			Size:     len(members),
			Hint:     hints[label],
			Grouping: domain.GroupingEmbedding,
			Tickets:  themeTickets(members),
		})
	}
	sort.Slice(themes, func(i, j int) bool {
		if themes[i].Size != themes[j].Size {
			return themes[i].Size > themes[j].Size
		}
		return themes[i].Label < themes[j].Label
	})
	return themes
}

// Fallback groups tickets by their (kind, vertical) pair for runs where
// embedding vectors are unavailable. verticals runs parallel to tickets and
// carries each ticket's resolved vertical slug, empty when unclassified.
// Labels start at startLabel and continue upward in group-size order so
// they never collide with embedding-based labels from the same run.
func Fallback(tickets []domain.Ticket, verticals []string, startLabel int) []domain.Theme {
	if len(tickets) == 0 {
		return nil
	}

	type groupKey struct {
		kind     domain.Kind
		vertical string
	}
	groups := make(map[groupKey][]domain.Ticket)
	for i, t := range tickets {
		key := groupKey{kind: t.Kind, vertical: verticals[i]}
		groups[key] = append(groups[key], t)
	}

	keys := make([]groupKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if len(groups[a]) != len(groups[b]) {
			return len(groups[a]) > len(groups[b])
		}
		if a.kind != b.kind {
			return a.kind < b.kind
		}
		return a.vertical < b.vertical
	})

	themes := make([]domain.Theme, 0, len(keys))
	for i, key := range keys {
		members := groups[key]
		hint := key.vertical
		if hint == "" {
			hint = "unclassified"
		}
		themes = append(themes, domain.Theme{
			Label:    startLabel + i,
			Kind:     key.kind,
			Size:     len(members),
			Hint:     hint,
			Grouping: domain.GroupingFallback,
			Vertical: key.vertical,
			Tickets:  themeTickets(members),
		})
	}
	return themes
}

// majorityKind picks the most frequent kind among members; ties go to the
// earlier entry in the priority order issue, feature_request, unknown.
func majorityKind(tickets []domain.Ticket) domain.Kind {
	counts := make(map[domain.Kind]int, 3)
	for _, t := range tickets {
		counts[t.Kind]++
	}
	best, bestCount := domain.KindUnknown, -1
	for _, kind := range []domain.Kind{domain.KindIssue, domain.KindFeatureRequest, domain.KindUnknown} {
		if counts[kind] > bestCount {
			best, bestCount = kind, counts[kind]
		}
	}
	return best
}

func themeTickets(tickets []domain.Ticket) []domain.ThemeTicket {
	out := make([]domain.ThemeTicket, len(tickets))
	for i, t := range tickets {
		out[i] = domain.ThemeTicket{
			ID:     t.ID,
			Title:  t.Title,
			Source: t.Source,
			URL:    t.URL,
			Kind:   t.Kind,
		}
	}
	return out
}
