// Package httpapi exposes the insight pipeline over HTTP: themes and
// rankings, CSV exports, sync triggers, classification utilities, the
// review workflow, label analytics, and semantic ask.
package httpapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"pminsight/internal/domain"
	"pminsight/internal/fetch"
	"pminsight/internal/insights"
	"pminsight/internal/review"
	"pminsight/internal/search"
)

const (
	defaultK        = 12
	defaultTopN     = 10
	defaultTopK     = 5
	themesCacheTTL  = 2 * time.Minute
	analyticsWindow = 90
)

type Server struct {
	db              *sql.DB
	insights        *insights.Service
	review          *review.Service
	search          *search.Service
	engine          *fetch.Engine
	internalDomains []string
	cache           *ttlCache
	mux             *http.ServeMux
}

func NewServer(db *sql.DB, insightsSvc *insights.Service, reviewSvc *review.Service, searchSvc *search.Service, engine *fetch.Engine, internalDomains []string) *Server {
	s := &Server{
		db:              db,
		insights:        insightsSvc,
		review:          reviewSvc,
		search:          searchSvc,
		engine:          engine,
		internalDomains: internalDomains,
		cache:           newTTLCache(themesCacheTTL),
		mux:             http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /{$}", s.handleHealth)
	s.mux.HandleFunc("GET /insights/themes", s.handleThemes)
	s.mux.HandleFunc("GET /insights/top10", s.handleTop10)
	s.mux.HandleFunc("GET /export/top10.csv", s.handleExportTop10)
	s.mux.HandleFunc("GET /export/themes.csv", s.handleExportThemes)
	s.mux.HandleFunc("POST /sync/run", s.handleSyncRun)
	s.mux.HandleFunc("GET /classify/ticket", s.handleClassifyTicket)
	s.mux.HandleFunc("POST /classify/backfill", s.handleBackfill)
	s.mux.HandleFunc("GET /classify/calibration", s.handleCalibration)
	s.mux.HandleFunc("GET /review/sample", s.handleReviewSample)
	s.mux.HandleFunc("POST /review/labels", s.handleReviewLabels)
	s.mux.HandleFunc("GET /review/stats", s.handleReviewStats)
	s.mux.HandleFunc("GET /analytics/labels", s.handleLabelAnalytics)
	s.mux.HandleFunc("GET /ask", s.handleAsk)
}

// Handler wraps the mux with request logging.
func (s *Server) Handler() http.Handler {
	return loggingMiddleware(s.mux)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("[%s] %s completed in %v", r.Method, r.URL.Path, time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidFilter):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		log.Printf("http error: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

// queryInt reads an integer query parameter, returning def when absent.
func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %q", domain.ErrInvalidFilter, key, v)
	}
	return n, nil
}

func filtersFromQuery(r *http.Request) (domain.Filters, error) {
	days, err := queryInt(r, "days", 0)
	if err != nil {
		return domain.Filters{}, err
	}
	q := r.URL.Query()
	f := domain.Filters{
		Days:            days,
		Source:          q.Get("source"),
		Kind:            q.Get("kind"),
		Vertical:        q.Get("vertical"),
		IncludeInternal: q.Get("include_internal") == "true",
	}
	return f.Normalized(), nil
}
