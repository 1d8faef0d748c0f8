// Package review implements the human audit loop: stratified sampling
// of predictions across confidence bins, label submission as append-only
// overrides, and the coverage stats behind the review dashboard.
package review

import (
	"database/sql"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"pminsight/internal/domain"
	"pminsight/internal/normalize"
	"pminsight/internal/storage/sqlite"
	"pminsight/internal/vertical"
)

// Bin is a half-open confidence interval [Lo, Hi).
type Bin struct {
	Lo float64
	Hi float64
}

// DefaultBins spans the full confidence range, aligned with the buckets
// in classification stats. The top bin closes at 1.01 so an exact 1.0
// still lands in it, and the bottom bin catches abstained predictions
// at confidence 0.
func DefaultBins() []Bin {
	return []Bin{{0, 0.5}, {0.5, 0.65}, {0.65, 0.8}, {0.8, 0.9}, {0.9, 1.01}}
}

// ParseBins reads a "0.5-0.65,0.65-0.8" spec. Malformed parts are
// skipped; an empty or fully malformed spec falls back to DefaultBins.
func ParseBins(spec string) []Bin {
	if strings.TrimSpace(spec) == "" {
		return DefaultBins()
	}
	var out []Bin
	for _, part := range strings.Split(spec, ",") {
		lo, hi, ok := strings.Cut(strings.TrimSpace(part), "-")
		if !ok {
			continue
		}
		loF, errLo := strconv.ParseFloat(lo, 64)
		hiF, errHi := strconv.ParseFloat(hi, 64)
		if errLo != nil || errHi != nil || hiF <= loF {
			continue
		}
		out = append(out, Bin{Lo: loF, Hi: hiF})
	}
	if len(out) == 0 {
		return DefaultBins()
	}
	return out
}

// Item is one row of a review sheet: a ticket plus its current
// prediction before any cutoff gating, so low-confidence and abstained
// predictions surface for audit too.
type Item struct {
	TicketID   int64
	Source     domain.Source
	ExternalID string
	URL        string
	Title      string
	Vertical   string
	Name       string
	Confidence float64
	Basis      string
}

// Label is one human verdict from a filled review sheet. Vertical
// accepts either the slug or the display name.
type Label struct {
	TicketID int64
	Vertical string
	Note     string
}

// Stats combines classification coverage with recent override activity.
type Stats struct {
	sqlite.ClassificationStats
	RecentOverrides []domain.Override
}

// Service runs the review workflow against the ticket store.
type Service struct {
	db         *sql.DB
	classifier *vertical.Classifier
	perBin     int
	seed       int64
}

func NewService(db *sql.DB, classifier *vertical.Classifier, perBin int, seed int64) *Service {
	if perBin < 1 {
		perBin = 1
	}
	return &Service{db: db, classifier: classifier, perBin: perBin, seed: seed}
}

// Sample draws a stratified review sheet: tickets matching f are
// classified fresh, bucketed by confidence, shuffled with the service
// seed, and capped per bin. No confidence cutoff applies here; the
// uncertain predictions are the point of the review. A vertical filter
// matches the raw prediction so a single vertical can be audited.
func (s *Service) Sample(f domain.Filters, bins []Bin) ([]Item, error) {
	f = f.Normalized()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if f.Vertical != domain.FilterAll {
		if _, ok := s.classifier.Rule(f.Vertical); !ok {
			return nil, fmt.Errorf("%w: unknown vertical %q", domain.ErrInvalidFilter, f.Vertical)
		}
	}
	if len(bins) == 0 {
		bins = DefaultBins()
	}

	q := sqlite.TicketQuery{Since: f.Since(time.Now().UTC()), IncludeInternal: f.IncludeInternal}
	if f.Source != domain.FilterAll {
		q.Source = f.Source
	}
	if f.Kind != domain.FilterAll {
		q.Kind = f.Kind
	}
	tickets, err := sqlite.ListTickets(s.db, q)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}

	items := make([]Item, 0, len(tickets))
	for _, t := range tickets {
		p := s.classifier.Classify(t, normalize.Text(t.Title, t.Body))
		if f.Vertical != domain.FilterAll && p.Vertical != f.Vertical {
			continue
		}
		items = append(items, Item{
			TicketID:   t.ID,
			Source:     t.Source,
			ExternalID: t.ExternalID,
			URL:        t.URL,
			Title:      strings.TrimSpace(strings.ReplaceAll(t.Title, "\n", " ")),
			Vertical:   p.Vertical,
			Name:       p.Name,
			Confidence: p.Confidence,
			Basis:      p.Basis,
		})
	}

	rng := rand.New(rand.NewSource(s.seed))
	var sampled []Item
	for _, b := range bins {
		var bucket []Item
		for _, it := range items {
			if it.Confidence >= b.Lo && it.Confidence < b.Hi {
				bucket = append(bucket, it)
			}
		}
		rng.Shuffle(len(bucket), func(i, j int) { bucket[i], bucket[j] = bucket[j], bucket[i] })
		if len(bucket) > s.perBin {
			bucket = bucket[:s.perBin]
		}
		sampled = append(sampled, bucket...)
	}
	return sampled, nil
}

// RecordLabel appends one override for a ticket. Unknown verticals and
// tickets are rejected; store failures propagate rather than silently
// dropping a human correction.
func (s *Service) RecordLabel(ticketID int64, verticalName, reviewer, note string) (domain.Override, error) {
	r, ok := s.resolveRule(verticalName)
	if !ok {
		return domain.Override{}, fmt.Errorf("%w: unknown vertical %q", domain.ErrInvalidFilter, verticalName)
	}
	if _, err := sqlite.GetTicketByID(s.db, ticketID); err != nil {
		return domain.Override{}, fmt.Errorf("load ticket %d: %w", ticketID, err)
	}
	o := domain.Override{TicketID: ticketID, Vertical: r.Slug, Reviewer: reviewer, Note: note}
	id, err := sqlite.InsertOverride(s.db, o)
	if err != nil {
		return domain.Override{}, fmt.Errorf("record label for ticket %d: %w", ticketID, err)
	}
	o.ID = id
	return o, nil
}

// RecordLabels applies a batch from a filled review sheet. Rows naming
// no or an unknown vertical are skipped, which is how half-filled
// sheets come back; store errors abort the batch.
func (s *Service) RecordLabels(labels []Label, reviewer string) (int, error) {
	applied := 0
	for _, l := range labels {
		r, ok := s.resolveRule(l.Vertical)
		if !ok {
			continue
		}
		o := domain.Override{TicketID: l.TicketID, Vertical: r.Slug, Reviewer: reviewer, Note: l.Note}
		if _, err := sqlite.InsertOverride(s.db, o); err != nil {
			return applied, fmt.Errorf("record label for ticket %d: %w", l.TicketID, err)
		}
		applied++
	}
	return applied, nil
}

// Stats reports classification coverage over the filter window plus the
// most recent overrides.
func (s *Service) Stats(f domain.Filters) (Stats, error) {
	f = f.Normalized()
	if err := f.Validate(); err != nil {
		return Stats{}, err
	}
	cs, err := sqlite.GetClassificationStats(s.db, f.Since(time.Now().UTC()))
	if err != nil {
		return Stats{}, fmt.Errorf("classification stats: %w", err)
	}
	recent, err := sqlite.ListRecentOverrides(s.db, 20)
	if err != nil {
		return Stats{}, fmt.Errorf("recent overrides: %w", err)
	}
	return Stats{ClassificationStats: cs, RecentOverrides: recent}, nil
}

// resolveRule accepts a slug or a display name, case-insensitively.
func (s *Service) resolveRule(v string) (vertical.Rule, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return vertical.Rule{}, false
	}
	if r, ok := s.classifier.Rule(strings.ToLower(v)); ok {
		return r, true
	}
	for _, r := range s.classifier.Rules() {
		if strings.EqualFold(r.Name, v) {
			return r, true
		}
	}
	return vertical.Rule{}, false
}
