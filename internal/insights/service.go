// Package insights assembles filtered ticket sets and drives the
// clustering, ranking, and classification pipeline for one request.
package insights

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"pminsight/internal/cluster"
	"pminsight/internal/domain"
	"pminsight/internal/embed"
	"pminsight/internal/normalize"
	"pminsight/internal/rank"
	"pminsight/internal/storage/sqlite"
	"pminsight/internal/vertical"
)

// DefaultTopN is the ranking length used by the standard endpoints.
const DefaultTopN = 10

// Service runs insight queries over the ticket store. Requests are
// independent; themes are computed fresh per call, never shared.
type Service struct {
	db         *sql.DB
	classifier *vertical.Classifier
	provider   embed.Provider // nil when embeddings are not configured
	cutoff     float64
	seed       int64
}

func NewService(db *sql.DB, classifier *vertical.Classifier, provider embed.Provider, cutoff float64, seed int64) *Service {
	return &Service{
		db:         db,
		classifier: classifier,
		provider:   provider,
		cutoff:     cutoff,
		seed:       seed,
	}
}

// ThemesResult is one clustering run over a filtered ticket set. The
// Top-N lists are computed over the identical subset as the themes, so
// membership and rankings always agree within one response. Degraded
// marks runs where the embedding provider could not serve fresh vectors.
type ThemesResult struct {
	RunID       string
	Degraded    bool
	Themes      []domain.Theme
	TopIssues   []domain.RankedItem
	TopFeatures []domain.RankedItem
}

// Themes clusters the filtered ticket set into k themes and ranks the
// same subset. An empty filter match returns zero themes, not an error.
func (s *Service) Themes(ctx context.Context, f domain.Filters, k int) (ThemesResult, error) {
	f = f.Normalized()
	if err := f.Validate(); err != nil {
		return ThemesResult{}, err
	}
	if err := domain.ValidateK(k); err != nil {
		return ThemesResult{}, err
	}

	tickets, overrides, err := s.filteredTickets(f)
	if err != nil {
		return ThemesResult{}, err
	}
	if len(tickets) == 0 {
		return ThemesResult{}, nil
	}

	texts := make([]string, len(tickets))
	for i, t := range tickets {
		texts[i] = normalize.Text(t.Title, t.Body)
	}
	vectors, degraded := s.ensureEmbeddings(ctx, tickets, texts)

	var embedded, missing []domain.Ticket
	var embeddedTexts []string
	var embeddedVecs [][]float32
	var missingVerticals []string
	for i, t := range tickets {
		if v, ok := vectors[t.ID]; ok {
			embedded = append(embedded, t)
			embeddedTexts = append(embeddedTexts, texts[i])
			embeddedVecs = append(embeddedVecs, v)
		} else {
			missing = append(missing, t)
			missingVerticals = append(missingVerticals, EffectiveVertical(t, overrides[t.ID].Vertical, s.cutoff))
		}
	}

	themes := cluster.Build(embedded, embeddedTexts, embeddedVecs, k, s.seed)
	themes = append(themes, cluster.Fallback(missing, missingVerticals, len(themes))...)
	if len(missing) > 0 {
		degraded = true
	}

	issues, features := rank.TopN(tickets, DefaultTopN)
	return ThemesResult{
		RunID:       newRunID(),
		Degraded:    degraded,
		Themes:      themes,
		TopIssues:   issues,
		TopFeatures: features,
	}, nil
}

// TopN ranks the filtered ticket set without clustering it.
func (s *Service) TopN(f domain.Filters, n int) (issues, features []domain.RankedItem, err error) {
	f = f.Normalized()
	if err := f.Validate(); err != nil {
		return nil, nil, err
	}
	if err := domain.ValidateTopN(n); err != nil {
		return nil, nil, err
	}
	tickets, _, err := s.filteredTickets(f)
	if err != nil {
		return nil, nil, err
	}
	issues, features = rank.TopN(tickets, n)
	return issues, features, nil
}

// Filtered returns the ticket subset matching f plus the active
// overrides, for sibling services that run over the same selection.
func (s *Service) Filtered(f domain.Filters) ([]domain.Ticket, map[int64]domain.Override, error) {
	f = f.Normalized()
	if err := f.Validate(); err != nil {
		return nil, nil, err
	}
	return s.filteredTickets(f)
}

// Vectors returns one embedding per ticket where available, reusing the
// cache and computing the rest. The flag reports degraded service.
func (s *Service) Vectors(ctx context.Context, tickets []domain.Ticket, texts []string) (map[int64][]float32, bool) {
	return s.ensureEmbeddings(ctx, tickets, texts)
}

// filteredTickets loads the ticket subset for f, lazily classifying any
// ticket without a cached prediction, and applies the vertical filter
// using overrides plus cutoff-gated predictions.
func (s *Service) filteredTickets(f domain.Filters) ([]domain.Ticket, map[int64]domain.Override, error) {
	if f.Vertical != domain.FilterAll {
		if _, ok := s.classifier.Rule(f.Vertical); !ok {
			return nil, nil, fmt.Errorf("%w: unknown vertical %q", domain.ErrInvalidFilter, f.Vertical)
		}
	}

	q := sqlite.TicketQuery{
		Since:           f.Since(nowUTC()),
		IncludeInternal: f.IncludeInternal,
	}
	if f.Source != domain.FilterAll {
		q.Source = f.Source
	}
	if f.Kind != domain.FilterAll {
		q.Kind = f.Kind
	}

	tickets, err := sqlite.ListTickets(s.db, q)
	if err != nil {
		return nil, nil, fmt.Errorf("list tickets: %w", err)
	}
	overrides, err := sqlite.ListActiveOverrides(s.db)
	if err != nil {
		return nil, nil, fmt.Errorf("load overrides: %w", err)
	}

	s.ensureClassified(tickets)

	if f.Vertical != domain.FilterAll {
		var matched []domain.Ticket
		for _, t := range tickets {
			if EffectiveVertical(t, overrides[t.ID].Vertical, s.cutoff) == f.Vertical {
				matched = append(matched, t)
			}
		}
		tickets = matched
	}
	return tickets, overrides, nil
}

// ensureClassified fills missing predictions in place and caches the
// non-abstaining ones. Cache write failures are logged, not fatal: the
// read path still has the in-memory result, and classification is
// deterministic so the next writer converges to the same value.
func (s *Service) ensureClassified(tickets []domain.Ticket) {
	pending := make(map[int64]domain.Prediction)
	for i := range tickets {
		if tickets[i].PredictedBasis != "" {
			continue
		}
		p := s.classifier.Classify(tickets[i], normalize.Text(tickets[i].Title, tickets[i].Body))
		tickets[i].PredictedVertical = p.Vertical
		tickets[i].PredictedConfidence = p.Confidence
		tickets[i].PredictedBasis = p.Basis
		if p.Basis != "" {
			pending[tickets[i].ID] = p
		}
	}
	if len(pending) == 0 {
		return
	}
	if err := sqlite.SavePredictions(s.db, pending); err != nil {
		log.Printf("Prediction cache write failed for %d tickets: %v", len(pending), err)
	}
}

// ensureEmbeddings returns one vector per ticket id where possible,
// computing and caching missing or stale vectors. When the provider is
// unavailable, cached vectors still serve even if stale, and the
// degraded flag is set whenever fresh vectors were needed but could not
// be computed.
func (s *Service) ensureEmbeddings(ctx context.Context, tickets []domain.Ticket, texts []string) (map[int64][]float32, bool) {
	ids := make([]int64, len(tickets))
	for i, t := range tickets {
		ids[i] = t.ID
	}
	cached, err := sqlite.GetEmbeddings(s.db, ids)
	if err != nil {
		log.Printf("Embedding cache read failed: %v", err)
		cached = map[int64]sqlite.StoredEmbedding{}
	}

	vectors := make(map[int64][]float32, len(tickets))
	var needIdx []int
	for i, t := range tickets {
		e, ok := cached[t.ID]
		if ok && e.TextHash == embed.TextHash(texts[i]) && (s.provider == nil || e.Model == s.provider.Model()) {
			vectors[t.ID] = e.Vector
			continue
		}
		needIdx = append(needIdx, i)
	}
	if len(needIdx) == 0 {
		return vectors, false
	}

	if s.provider == nil {
		reuseStale(tickets, needIdx, cached, vectors)
		return vectors, true
	}

	needTexts := make([]string, len(needIdx))
	for j, i := range needIdx {
		needTexts[j] = texts[i]
	}
	vecs, err := s.provider.Embed(ctx, needTexts)
	if err != nil {
		log.Printf("Embedding provider failed, continuing degraded: %v", err)
		reuseStale(tickets, needIdx, cached, vectors)
		return vectors, true
	}

	stored := make([]sqlite.StoredEmbedding, 0, len(needIdx))
	for j, i := range needIdx {
		t := tickets[i]
		vectors[t.ID] = vecs[j]
		stored = append(stored, sqlite.StoredEmbedding{
			TicketID: t.ID,
			Model:    s.provider.Model(),
			Dim:      len(vecs[j]),
			TextHash: embed.TextHash(texts[i]),
			Vector:   vecs[j],
		})
	}
	if err := sqlite.UpsertEmbeddings(s.db, stored); err != nil {
		log.Printf("Embedding cache write failed for %d tickets: %v", len(stored), err)
	}
	return vectors, false
}

// reuseStale serves outdated cached vectors for tickets whose fresh
// embedding could not be computed.
func reuseStale(tickets []domain.Ticket, needIdx []int, cached map[int64]sqlite.StoredEmbedding, vectors map[int64][]float32) {
	for _, i := range needIdx {
		if e, ok := cached[tickets[i].ID]; ok {
			vectors[tickets[i].ID] = e.Vector
		}
	}
}

// EffectiveVertical resolves the vertical a ticket reports under: a
// human override always wins; otherwise the cached prediction counts
// only at or above the confidence cutoff.
func EffectiveVertical(t domain.Ticket, override string, cutoff float64) string {
	if override != "" {
		return override
	}
	if t.PredictedBasis != "" && t.PredictedVertical != "" && t.PredictedConfidence >= cutoff {
		return t.PredictedVertical
	}
	return ""
}

func newRunID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
