package httpapi

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"pminsight/internal/domain"
	"pminsight/internal/fetch"
	"pminsight/internal/insights"
	"pminsight/internal/review"
	"pminsight/internal/storage/sqlite"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type themeTicketJSON struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Source string `json:"source"`
	URL    string `json:"url"`
	Kind   string `json:"kind"`
}

type themeJSON struct {
	Label    int               `json:"label"`
	Kind     string            `json:"kind"`
	Size     int               `json:"size"`
	Hint     string            `json:"hint"`
	Grouping string            `json:"grouping"`
	Vertical string            `json:"vertical,omitempty"`
	Tickets  []themeTicketJSON `json:"tickets"`
}

type rankedItemJSON struct {
	Title     string    `json:"title"`
	Count     int       `json:"count"`
	Kind      string    `json:"kind"`
	Source    string    `json:"source"`
	URL       string    `json:"url"`
	LastSeen  time.Time `json:"last_seen"`
	TicketIDs []int64   `json:"ticket_ids"`
}

type themesResponse struct {
	RunID       string           `json:"run_id"`
	Degraded    bool             `json:"degraded"`
	Themes      []themeJSON      `json:"themes"`
	TopIssues   []rankedItemJSON `json:"top_issues"`
	TopFeatures []rankedItemJSON `json:"top_features"`
}

func themesResponseFrom(res insights.ThemesResult) themesResponse {
	out := themesResponse{
		RunID:       res.RunID,
		Degraded:    res.Degraded,
		Themes:      make([]themeJSON, 0, len(res.Themes)),
		TopIssues:   rankedItemsFrom(res.TopIssues),
		TopFeatures: rankedItemsFrom(res.TopFeatures),
	}
	for _, th := range res.Themes {
		tickets := make([]themeTicketJSON, 0, len(th.Tickets))
		for _, t := range th.Tickets {
			tickets = append(tickets, themeTicketJSON{
				ID: t.ID, Title: t.Title, Source: string(t.Source), URL: t.URL, Kind: string(t.Kind),
			})
		}
		out.Themes = append(out.Themes, themeJSON{
			Label:    th.Label,
			Kind:     string(th.Kind),
			Size:     th.Size,
			Hint:     th.Hint,
			Grouping: th.Grouping,
			Vertical: th.Vertical,
			Tickets:  tickets,
		})
	}
	return out
}

func rankedItemsFrom(items []domain.RankedItem) []rankedItemJSON {
	out := make([]rankedItemJSON, 0, len(items))
	for _, it := range items {
		out = append(out, rankedItemJSON{
			Title: it.Title, Count: it.Count, Kind: string(it.Kind), Source: string(it.Source),
			URL: it.URL, LastSeen: it.LastSeen, TicketIDs: it.TicketIDs,
		})
	}
	return out
}

func themesCacheKey(f domain.Filters, k int) string {
	return fmt.Sprintf("themes:%d:%d:%s:%s:%s:%t", f.Days, k, f.Source, f.Kind, f.Vertical, f.IncludeInternal)
}

func (s *Server) handleThemes(w http.ResponseWriter, r *http.Request) {
	f, err := filtersFromQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	k, err := queryInt(r, "k", defaultK)
	if err != nil {
		s.writeError(w, err)
		return
	}

	key := themesCacheKey(f, k)
	if resp, ok := s.cache.get(key); ok {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	res, err := s.insights.Themes(r.Context(), f, k)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := themesResponseFrom(res)
	s.cache.set(key, resp)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTop10(w http.ResponseWriter, r *http.Request) {
	f, err := filtersFromQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	n, err := queryInt(r, "n", defaultTopN)
	if err != nil {
		s.writeError(w, err)
		return
	}

	issues, features, err := s.insights.TopN(f, n)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"top_issues":   rankedItemsFrom(issues),
		"top_features": rankedItemsFrom(features),
	})
}

func (s *Server) handleExportTop10(w http.ResponseWriter, r *http.Request) {
	f, err := filtersFromQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	n, err := queryInt(r, "n", defaultTopN)
	if err != nil {
		s.writeError(w, err)
		return
	}
	issues, features, err := s.insights.TopN(f, n)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	cw := csv.NewWriter(w)
	cw.Write([]string{"rank", "kind", "title", "source", "url", "count"})
	for i, it := range issues {
		cw.Write([]string{strconv.Itoa(i + 1), string(domain.KindIssue), it.Title, string(it.Source), it.URL, strconv.Itoa(it.Count)})
	}
	for i, it := range features {
		cw.Write([]string{strconv.Itoa(i + 1), string(domain.KindFeatureRequest), it.Title, string(it.Source), it.URL, strconv.Itoa(it.Count)})
	}
	cw.Flush()
}

func (s *Server) handleExportThemes(w http.ResponseWriter, r *http.Request) {
	f, err := filtersFromQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	k, err := queryInt(r, "k", defaultK)
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.insights.Themes(r.Context(), f, k)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	cw := csv.NewWriter(w)
	cw.Write([]string{"theme_label", "kind", "size", "hint", "ticket_id", "ticket_title", "ticket_source", "ticket_url"})
	for _, th := range res.Themes {
		for _, t := range th.Tickets {
			cw.Write([]string{
				strconv.Itoa(th.Label), string(th.Kind), strconv.Itoa(th.Size), th.Hint,
				strconv.FormatInt(t.ID, 10), t.Title, string(t.Source), t.URL,
			})
		}
	}
	cw.Flush()
}

type syncResultJSON struct {
	Fetched   int    `json:"fetched"`
	Created   int    `json:"created"`
	Updated   int    `json:"updated"`
	Watermark string `json:"watermark,omitempty"`
	Error     string `json:"error,omitempty"`
}

func syncResultFrom(res fetch.Result) syncResultJSON {
	out := syncResultJSON{Fetched: res.Fetched, Created: res.Created, Updated: res.Updated}
	if !res.LastUpdatedAt.IsZero() {
		out.Watermark = res.LastUpdatedAt.UTC().Format(time.RFC3339)
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

// handleSyncRun triggers a sync of all sources, or one when ?source= is
// given. Per-source failures land in the result map, not the status.
func (s *Server) handleSyncRun(w http.ResponseWriter, r *http.Request) {
	if src := r.URL.Query().Get("source"); src != "" {
		res, err := s.engine.SyncSource(r.Context(), domain.Source(src))
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"result": map[string]syncResultJSON{src: syncResultFrom(res)},
		})
		return
	}

	results := s.engine.SyncAll(r.Context())
	out := make(map[string]syncResultJSON, len(results))
	for _, res := range results {
		out[string(res.Source)] = syncResultFrom(res)
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": out})
}

type predictionJSON struct {
	TicketID   int64    `json:"ticket_id"`
	Vertical   string   `json:"vertical"`
	Name       string   `json:"name"`
	Confidence float64  `json:"confidence"`
	Basis      string   `json:"basis"`
	Matched    []string `json:"matched,omitempty"`
}

func (s *Server) handleClassifyTicket(w http.ResponseWriter, r *http.Request) {
	idParam := r.URL.Query().Get("id")
	id, err := strconv.ParseInt(idParam, 10, 64)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: id must be a ticket id, got %q", domain.ErrInvalidFilter, idParam))
		return
	}
	p, err := s.insights.Classify(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, predictionJSON{
		TicketID: p.TicketID, Vertical: p.Vertical, Name: p.Name,
		Confidence: p.Confidence, Basis: p.Basis, Matched: p.Matched,
	})
}

func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	f, err := filtersFromQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := f.Validate(); err != nil {
		s.writeError(w, err)
		return
	}

	reclassified, err := s.insights.Reclassify(f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	since := f.Since(time.Now().UTC())
	kindsScanned, kindsUpdated, err := fetch.BackfillKinds(s.db, since)
	if err != nil {
		s.writeError(w, err)
		return
	}
	flagsScanned, flagsUpdated, err := fetch.BackfillInternalFlags(s.db, since, s.internalDomains)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reclassified":   reclassified,
		"kinds":          map[string]int{"scanned": kindsScanned, "updated": kindsUpdated},
		"internal_flags": map[string]int{"scanned": flagsScanned, "updated": flagsUpdated},
	})
}

type calibrationPointJSON struct {
	Threshold float64 `json:"threshold"`
	Precision float64 `json:"precision"`
	Coverage  float64 `json:"coverage"`
	Assigned  int     `json:"assigned"`
	Correct   int     `json:"correct"`
}

type verticalMetricsJSON struct {
	Slug        string  `json:"slug"`
	GroundTruth int     `json:"ground_truth"`
	Assigned    int     `json:"assigned"`
	Correct     int     `json:"correct"`
	Precision   float64 `json:"precision"`
	Recall      float64 `json:"recall"`
}

func (s *Server) handleCalibration(w http.ResponseWriter, r *http.Request) {
	f, err := filtersFromQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	report, err := s.insights.Calibration(f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	byVertical, err := s.insights.CalibrationByVertical(f)
	if err != nil {
		s.writeError(w, err)
		return
	}

	points := make([]calibrationPointJSON, 0, len(report.ByThreshold))
	for _, p := range report.ByThreshold {
		points = append(points, calibrationPointJSON{
			Threshold: p.Threshold, Precision: p.Precision, Coverage: p.Coverage,
			Assigned: p.Assigned, Correct: p.Correct,
		})
	}
	metrics := make([]verticalMetricsJSON, 0, len(byVertical))
	for _, m := range byVertical {
		metrics = append(metrics, verticalMetricsJSON{
			Slug: m.Slug, GroundTruth: m.GroundTruth, Assigned: m.Assigned,
			Correct: m.Correct, Precision: m.Precision, Recall: m.Recall,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_labeled": report.TotalLabeled,
		"threshold":     s.insights.Cutoff(),
		"by_threshold":  points,
		"label_dist":    report.LabelDist,
		"by_vertical":   metrics,
	})
}

type reviewItemJSON struct {
	TicketID   int64   `json:"ticket_id"`
	Source     string  `json:"source"`
	ExternalID string  `json:"external_id"`
	URL        string  `json:"url"`
	Title      string  `json:"title"`
	Vertical   string  `json:"pred_vertical_slug"`
	Name       string  `json:"pred_vertical_name"`
	Confidence float64 `json:"confidence"`
	Basis      string  `json:"basis"`
}

func (s *Server) handleReviewSample(w http.ResponseWriter, r *http.Request) {
	f, err := filtersFromQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	bins := review.ParseBins(r.URL.Query().Get("bins"))
	items, err := s.review.Sample(f, bins)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		cw := csv.NewWriter(w)
		cw.Write([]string{
			"ticket_id", "source", "external_id", "url", "title",
			"pred_vertical_slug", "pred_vertical_name", "confidence",
			"gold_vertical_slug", "gold_vertical_name",
		})
		for _, it := range items {
			cw.Write([]string{
				strconv.FormatInt(it.TicketID, 10), string(it.Source), it.ExternalID, it.URL, it.Title,
				it.Vertical, it.Name, strconv.FormatFloat(it.Confidence, 'f', 4, 64),
				"", "",
			})
		}
		cw.Flush()
		return
	}

	out := make([]reviewItemJSON, 0, len(items))
	for _, it := range items {
		out = append(out, reviewItemJSON{
			TicketID: it.TicketID, Source: string(it.Source), ExternalID: it.ExternalID,
			URL: it.URL, Title: it.Title, Vertical: it.Vertical, Name: it.Name,
			Confidence: it.Confidence, Basis: it.Basis,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

type labelItemJSON struct {
	TicketID int64  `json:"ticket_id"`
	Vertical string `json:"vertical"`
	Note     string `json:"note"`
}

type labelsRequest struct {
	Items    []labelItemJSON `json:"items"`
	Reviewer string          `json:"reviewer"`
}

func (s *Server) handleReviewLabels(w http.ResponseWriter, r *http.Request) {
	var req labelsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid JSON body: %v", domain.ErrInvalidFilter, err))
		return
	}
	labels := make([]review.Label, 0, len(req.Items))
	for _, it := range req.Items {
		labels = append(labels, review.Label{TicketID: it.TicketID, Vertical: it.Vertical, Note: it.Note})
	}
	updated, err := s.review.RecordLabels(labels, req.Reviewer)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

type overrideJSON struct {
	TicketID  int64     `json:"ticket_id"`
	Vertical  string    `json:"vertical"`
	Reviewer  string    `json:"reviewer"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleReviewStats(w http.ResponseWriter, r *http.Request) {
	f, err := filtersFromQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	stats, err := s.review.Stats(f)
	if err != nil {
		s.writeError(w, err)
		return
	}

	recent := make([]overrideJSON, 0, len(stats.RecentOverrides))
	for _, o := range stats.RecentOverrides {
		recent = append(recent, overrideJSON{
			TicketID: o.TicketID, Vertical: o.Vertical, Reviewer: o.Reviewer,
			Note: o.Note, CreatedAt: o.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_tickets":  stats.TotalTickets,
		"classified":     stats.Classified,
		"avg_confidence": stats.AvgConfidence,
		"buckets": map[string]int{
			"below_50": stats.BucketBelow50,
			"50_65":    stats.Bucket50to65,
			"65_80":    stats.Bucket65to80,
			"80_90":    stats.Bucket80to90,
			"90_plus":  stats.Bucket90Plus,
		},
		"overrides":        stats.Overrides,
		"by_basis":         stats.ByBasis,
		"recent_overrides": recent,
	})
}

func (s *Server) handleLabelAnalytics(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", analyticsWindow)
	if err != nil {
		s.writeError(w, err)
		return
	}
	minCount, err := queryInt(r, "min_count", 1)
	if err != nil {
		s.writeError(w, err)
		return
	}
	top, err := queryInt(r, "top", 0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	f := domain.Filters{
		Days:            days,
		IncludeInternal: r.URL.Query().Get("include_internal") == "true",
	}.Normalized()
	if err := f.Validate(); err != nil {
		s.writeError(w, err)
		return
	}

	stats, total, err := sqlite.LabelFrequencies(s.db, sqlite.TicketQuery{
		Since:           f.Since(time.Now().UTC()),
		Source:          string(domain.SourceHelpdesk),
		IncludeInternal: f.IncludeInternal,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	unique := len(stats)
	items := make([]map[string]any, 0, len(stats))
	for _, st := range stats {
		if st.Count < minCount {
			continue
		}
		if top > 0 && len(items) >= top {
			break
		}
		items = append(items, map[string]any{"label": st.Label, "count": st.Count})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_tickets": total,
		"unique_labels": unique,
		"items":         items,
	})
}

type askResultJSON struct {
	ID         int64   `json:"id"`
	Title      string  `json:"title"`
	Source     string  `json:"source"`
	URL        string  `json:"url"`
	Kind       string  `json:"kind"`
	Similarity float64 `json:"similarity"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	f, err := filtersFromQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	topK, err := queryInt(r, "top_k", defaultTopK)
	if err != nil {
		s.writeError(w, err)
		return
	}

	answer, err := s.search.Ask(r.Context(), r.URL.Query().Get("q"), f, topK)
	if err != nil {
		s.writeError(w, err)
		return
	}
	results := make([]askResultJSON, 0, len(answer.Results))
	for _, res := range answer.Results {
		kind := res.Kind
		if kind == "" {
			kind = domain.KindUnknown
		}
		results = append(results, askResultJSON{
			ID: res.TicketID, Title: res.Title, Source: string(res.Source),
			URL: res.URL, Kind: string(kind), Similarity: res.Similarity,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"answer": answer.Text, "results": results})
}
