// Package search answers free-text questions over the ticket store:
// cosine similarity against the embedding cache picks the supporting
// tickets, and a composer (or a deterministic fallback) phrases the
// reply.
package search

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"pminsight/internal/domain"
	"pminsight/internal/embed"
	"pminsight/internal/insights"
	"pminsight/internal/normalize"
)

// DefaultTopK is the number of matches returned when the caller does
// not ask for a specific count.
const DefaultTopK = 5

// Result is one semantic match.
type Result struct {
	TicketID   int64
	Title      string
	Source     domain.Source
	URL        string
	Kind       domain.Kind
	Similarity float64
}

// Answer is a composed reply plus the matches that support it.
type Answer struct {
	Text    string
	Results []Result
}

// Composer phrases an answer from a question and its supporting
// matches. Implementations may call an external model; Ask falls back
// to a deterministic summary when none is configured or it fails.
type Composer interface {
	Compose(ctx context.Context, question string, matches []Result) (string, error)
}

// Service runs semantic queries on top of the insight pipeline's
// filtered subsets and embedding cache.
type Service struct {
	pipeline *insights.Service
	provider embed.Provider // nil when embeddings are not configured
	composer Composer       // nil means the deterministic fallback only
}

func NewService(pipeline *insights.Service, provider embed.Provider, composer Composer) *Service {
	return &Service{pipeline: pipeline, provider: provider, composer: composer}
}

// Search returns the topK tickets most similar to the query within the
// filtered subset. Tickets without a cached or computable vector are
// not searchable and silently drop out of the candidate set.
func (s *Service) Search(ctx context.Context, query string, f domain.Filters, topK int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", domain.ErrInvalidFilter)
	}
	if topK < 1 {
		topK = DefaultTopK
	}
	if topK > domain.MaxTopN {
		topK = domain.MaxTopN
	}
	if s.provider == nil {
		return nil, embed.ErrUnavailable
	}

	tickets, _, err := s.pipeline.Filtered(f)
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, nil
	}

	texts := make([]string, len(tickets))
	for i, t := range tickets {
		texts[i] = normalize.Text(t.Title, t.Body)
	}
	vectors, _ := s.pipeline.Vectors(ctx, tickets, texts)
	if len(vectors) == 0 {
		return nil, embed.ErrUnavailable
	}

	qvecs, err := s.provider.Embed(ctx, []string{normalize.Text(query, "")})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	qvec := qvecs[0]

	results := make([]Result, 0, len(tickets))
	for _, t := range tickets {
		v, ok := vectors[t.ID]
		if !ok {
			continue
		}
		results = append(results, Result{
			TicketID:   t.ID,
			Title:      t.Title,
			Source:     t.Source,
			URL:        t.URL,
			Kind:       t.Kind,
			Similarity: embed.Dot(v, qvec),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].TicketID < results[j].TicketID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Ask runs Search and phrases the outcome. Degraded states come back as
// explanatory answers, not errors: a read path should return something
// useful even when embeddings are unavailable.
func (s *Service) Ask(ctx context.Context, question string, f domain.Filters, topK int) (Answer, error) {
	if strings.TrimSpace(question) == "" {
		return Answer{Text: "Please provide a question."}, nil
	}

	results, err := s.Search(ctx, question, f, topK)
	switch {
	case errors.Is(err, domain.ErrInvalidFilter):
		return Answer{}, err
	case err != nil:
		return Answer{Text: "No embeddings available to search."}, nil
	}
	if len(results) == 0 {
		return Answer{Text: "No tickets matched the selected filters."}, nil
	}

	if s.composer != nil {
		text, err := s.composer.Compose(ctx, question, results)
		if err == nil && strings.TrimSpace(text) != "" {
			return Answer{Text: text, Results: results}, nil
		}
		if err != nil {
			log.Printf("Answer composer failed, using fallback: %v", err)
		}
	}
	return Answer{Text: fallbackAnswer(results), Results: results}, nil
}

// fallbackAnswer lists the top matches in one sentence.
func fallbackAnswer(results []Result) string {
	titles := make([]string, len(results))
	for i, r := range results {
		switch {
		case strings.TrimSpace(r.Title) != "":
			titles[i] = strings.TrimSpace(r.Title)
		case r.URL != "":
			titles[i] = r.URL
		default:
			titles[i] = "(untitled)"
		}
	}
	return fmt.Sprintf("I found %d relevant items. Top matches: %s. Use the links for details.",
		len(results), strings.Join(titles, "; "))
}
