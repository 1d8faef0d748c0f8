package search

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pminsight/internal/domain"
	"pminsight/internal/embed"
	"pminsight/internal/insights"
	"pminsight/internal/storage/sqlite"
	"pminsight/internal/vertical"
)

type stubProvider struct {
	fail bool
}

func (p *stubProvider) Model() string { return "stub-embedder" }
func (p *stubProvider) Dim() int      { return 3 }

func (p *stubProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if p.fail {
		return nil, embed.ErrUnavailable
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		switch {
		case strings.Contains(text, "refund"):
			out[i] = []float32{1, 0, 0}
		case strings.Contains(text, "export"):
			out[i] = []float32{0, 1, 0}
		default:
			out[i] = []float32{0, 0, 1}
		}
	}
	return out, nil
}

type stubComposer struct {
	text       string
	err        error
	gotMatches int
}

func (c *stubComposer) Compose(_ context.Context, _ string, matches []Result) (string, error) {
	c.gotMatches = len(matches)
	return c.text, c.err
}

func newTestSearch(t *testing.T, provider embed.Provider, composer Composer) (*Service, *sql.DB) {
	t.Helper()
	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "search-test.db"))
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	classifier := vertical.NewClassifier(vertical.DefaultRules(), vertical.DefaultScoring())
	pipeline := insights.NewService(db, classifier, provider, 0.65, 42)
	return NewService(pipeline, provider, composer), db
}

func seedTickets(t *testing.T, db *sql.DB, tickets []domain.Ticket) {
	t.Helper()
	now := time.Now().UTC()
	for i := range tickets {
		if tickets[i].SourceCreatedAt.IsZero() {
			tickets[i].SourceCreatedAt = now.AddDate(0, 0, -2)
		}
	}
	if _, _, err := sqlite.UpsertTickets(db, tickets); err != nil {
		t.Fatalf("seed tickets: %v", err)
	}
}

func TestSearchRanksBySimilarity(t *testing.T) {
	svc, db := newTestSearch(t, &stubProvider{}, nil)
	seedTickets(t, db, []domain.Ticket{
		{Source: domain.SourceHelpdesk, ExternalID: "zd-1", Title: "refund stuck", Kind: domain.KindIssue},
		{Source: domain.SourceTracker, ExternalID: "jr-1", Title: "export filters", Kind: domain.KindFeatureRequest},
		{Source: domain.SourceChat, ExternalID: "sl-1", Title: "refund broken", Kind: domain.KindIssue},
	})

	results, err := svc.Search(context.Background(), "refund", domain.Filters{}, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Similarity != 1.0 || results[1].Similarity != 1.0 {
		t.Fatalf("refund tickets should score 1.0, got %v, %v", results[0].Similarity, results[1].Similarity)
	}
	if results[0].TicketID > results[1].TicketID {
		t.Fatal("equal similarity must break ties by ticket id")
	}
	if results[2].Title != "export filters" {
		t.Fatalf("least similar ticket should rank last, got %q", results[2].Title)
	}
}

func TestSearchTruncatesToTopK(t *testing.T) {
	svc, db := newTestSearch(t, &stubProvider{}, nil)
	seedTickets(t, db, []domain.Ticket{
		{Source: domain.SourceHelpdesk, ExternalID: "zd-1", Title: "refund a", Kind: domain.KindIssue},
		{Source: domain.SourceHelpdesk, ExternalID: "zd-2", Title: "refund b", Kind: domain.KindIssue},
		{Source: domain.SourceHelpdesk, ExternalID: "zd-3", Title: "refund c", Kind: domain.KindIssue},
	})

	results, err := svc.Search(context.Background(), "refund", domain.Filters{}, 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	svc, _ := newTestSearch(t, &stubProvider{}, nil)
	if _, err := svc.Search(context.Background(), "   ", domain.Filters{}, 5); !errors.Is(err, domain.ErrInvalidFilter) {
		t.Fatalf("expected ErrInvalidFilter, got %v", err)
	}
}

func TestSearchWithoutProvider(t *testing.T) {
	svc, db := newTestSearch(t, nil, nil)
	seedTickets(t, db, []domain.Ticket{
		{Source: domain.SourceHelpdesk, ExternalID: "zd-1", Title: "refund stuck", Kind: domain.KindIssue},
	})
	if _, err := svc.Search(context.Background(), "refund", domain.Filters{}, 5); !errors.Is(err, embed.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestAskFallbackAnswer(t *testing.T) {
	svc, db := newTestSearch(t, &stubProvider{}, nil)
	seedTickets(t, db, []domain.Ticket{
		{Source: domain.SourceHelpdesk, ExternalID: "zd-1", Title: "refund stuck", Kind: domain.KindIssue},
		{Source: domain.SourceChat, ExternalID: "sl-1", Title: "refund broken", Kind: domain.KindIssue},
	})

	a, err := svc.Ask(context.Background(), "why do refunds fail", domain.Filters{}, 5)
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if len(a.Results) != 2 {
		t.Fatalf("expected 2 supporting results, got %d", len(a.Results))
	}
	if !strings.HasPrefix(a.Text, "I found 2 relevant items. Top matches: ") {
		t.Fatalf("unexpected fallback answer: %q", a.Text)
	}
	if !strings.Contains(a.Text, "refund stuck") || !strings.Contains(a.Text, "refund broken") {
		t.Fatalf("fallback answer should list titles: %q", a.Text)
	}
}

func TestAskUsesComposer(t *testing.T) {
	composer := &stubComposer{text: "Refunds fail because of X."}
	svc, db := newTestSearch(t, &stubProvider{}, composer)
	seedTickets(t, db, []domain.Ticket{
		{Source: domain.SourceHelpdesk, ExternalID: "zd-1", Title: "refund stuck", Kind: domain.KindIssue},
	})

	a, err := svc.Ask(context.Background(), "why do refunds fail", domain.Filters{}, 5)
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if a.Text != "Refunds fail because of X." {
		t.Fatalf("composer text should win, got %q", a.Text)
	}
	if composer.gotMatches != 1 {
		t.Fatalf("composer should see the matches, got %d", composer.gotMatches)
	}
}

func TestAskComposerFailureFallsBack(t *testing.T) {
	composer := &stubComposer{err: errors.New("model offline")}
	svc, db := newTestSearch(t, &stubProvider{}, composer)
	seedTickets(t, db, []domain.Ticket{
		{Source: domain.SourceHelpdesk, ExternalID: "zd-1", Title: "refund stuck", Kind: domain.KindIssue},
	})

	a, err := svc.Ask(context.Background(), "why do refunds fail", domain.Filters{}, 5)
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if !strings.HasPrefix(a.Text, "I found 1 relevant items.") {
		t.Fatalf("expected fallback answer, got %q", a.Text)
	}
}

func TestAskDegradedStates(t *testing.T) {
	t.Run("empty question", func(t *testing.T) {
		svc, _ := newTestSearch(t, &stubProvider{}, nil)
		a, err := svc.Ask(context.Background(), "", domain.Filters{}, 5)
		if err != nil || a.Text != "Please provide a question." {
			t.Fatalf("got %+v, %v", a, err)
		}
	})
	t.Run("no provider", func(t *testing.T) {
		svc, db := newTestSearch(t, nil, nil)
		seedTickets(t, db, []domain.Ticket{
			{Source: domain.SourceHelpdesk, ExternalID: "zd-1", Title: "refund", Kind: domain.KindIssue},
		})
		a, err := svc.Ask(context.Background(), "refunds", domain.Filters{}, 5)
		if err != nil || a.Text != "No embeddings available to search." {
			t.Fatalf("got %+v, %v", a, err)
		}
	})
	t.Run("provider down", func(t *testing.T) {
		svc, db := newTestSearch(t, &stubProvider{fail: true}, nil)
		seedTickets(t, db, []domain.Ticket{
			{Source: domain.SourceHelpdesk, ExternalID: "zd-1", Title: "refund", Kind: domain.KindIssue},
		})
		a, err := svc.Ask(context.Background(), "refunds", domain.Filters{}, 5)
		if err != nil || a.Text != "No embeddings available to search." {
			t.Fatalf("got %+v, %v", a, err)
		}
	})
	t.Run("no matching tickets", func(t *testing.T) {
		svc, _ := newTestSearch(t, &stubProvider{}, nil)
		a, err := svc.Ask(context.Background(), "refunds", domain.Filters{}, 5)
		if err != nil || a.Text != "No tickets matched the selected filters." {
			t.Fatalf("got %+v, %v", a, err)
		}
	})
	t.Run("invalid filter propagates", func(t *testing.T) {
		svc, _ := newTestSearch(t, &stubProvider{}, nil)
		if _, err := svc.Ask(context.Background(), "refunds", domain.Filters{Days: -1}, 5); !errors.Is(err, domain.ErrInvalidFilter) {
			t.Fatalf("expected ErrInvalidFilter, got %v", err)
		}
	})
}
