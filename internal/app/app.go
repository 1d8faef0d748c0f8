// Package app wires configuration, storage, the insight services, the
// source connectors, the cron schedules, and the HTTP server into a
// running process.
package app

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"time"

	"github.com/slack-go/slack"

	"pminsight/internal/config"
	"pminsight/internal/domain"
	"pminsight/internal/embed"
	"pminsight/internal/fetch"
	"pminsight/internal/httpapi"
	"pminsight/internal/httpx"
	"pminsight/internal/insights"
	"pminsight/internal/integrations/chat"
	"pminsight/internal/integrations/helpdesk"
	"pminsight/internal/integrations/llm"
	"pminsight/internal/integrations/tracker"
	"pminsight/internal/review"
	"pminsight/internal/search"
	"pminsight/internal/storage/sqlite"
	"pminsight/internal/vertical"
)

func Main() {
	cfg := config.LoadConfig()
	appliedHTTPTimeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	log.Printf(
		"Config loaded. Addr=%s DB=%s ConfidenceCutoff=%.2f ClusterSeed=%d Timezone=%s ExternalHTTPTimeout=%s",
		cfg.HTTPAddr,
		cfg.DBPath,
		cfg.ConfidenceCutoff,
		cfg.ClusterSeed,
		cfg.Timezone,
		appliedHTTPTimeout,
	)

	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	log.Printf("Database initialized at %s", cfg.DBPath)
	defer db.Close()

	rules := vertical.DefaultRules()
	if cfg.VerticalsPath != "" {
		rules, err = vertical.LoadRules(cfg.VerticalsPath)
		if err != nil {
			log.Fatalf("Failed to load verticals from %s: %v", cfg.VerticalsPath, err)
		}
		log.Printf("Loaded %d verticals from %s", len(rules), cfg.VerticalsPath)
	}
	classifier := vertical.NewClassifier(rules, vertical.DefaultScoring())

	var provider embed.Provider
	if cfg.EmbedConfigured() {
		provider = embed.NewHTTPProvider(cfg.EmbedBaseURL, cfg.EmbedAPIKey, cfg.EmbedModel, cfg.EmbedDim)
		log.Printf("Embeddings enabled: model=%s dim=%d", cfg.EmbedModel, cfg.EmbedDim)
	} else {
		log.Println("Embeddings not configured, themes fall back to kind/vertical grouping")
	}

	insightsSvc := insights.NewService(db, classifier, provider, cfg.ConfidenceCutoff, int64(cfg.ClusterSeed))
	reviewSvc := review.NewService(db, classifier, cfg.ReviewPerBin, int64(cfg.ClusterSeed))

	var composer search.Composer
	if cfg.AnswerConfigured() {
		composer = llm.NewAnswerer(cfg.AnthropicAPIKey, cfg.AnswerModel)
		log.Printf("Answer composer enabled: model=%s", cfg.AnswerModel)
	}
	searchSvc := search.NewService(insightsSvc, provider, composer)

	var connectors []fetch.Connector
	if cfg.ChatConfigured() {
		api := slack.New(cfg.ChatToken)
		connectors = append(connectors, chat.New(api, cfg.ChatChannels))
	}
	if cfg.HelpdeskConfigured() {
		connectors = append(connectors, helpdesk.New(cfg.HelpdeskBaseURL, cfg.HelpdeskEmail, cfg.HelpdeskToken, cfg.InternalEmailDomains))
	}
	if cfg.TrackerConfigured() {
		connectors = append(connectors, tracker.New(cfg.TrackerBaseURL, cfg.TrackerEmail, cfg.TrackerToken, cfg.TrackerProjects))
	}
	engine := fetch.NewEngine(db, cfg.SyncHistoryDays, connectors...)
	log.Printf("Sync engine ready: sources=%d historyDays=%d", len(engine.Sources()), cfg.SyncHistoryDays)

	fetch.StartSchedule("sync", cfg.SyncSchedule, cfg.Location, func() {
		engine.SyncAll(context.Background())
	})
	fetch.StartSchedule("reclassify", cfg.ReclassifySchedule, cfg.Location, func() {
		runReclassifyPass(db, insightsSvc, cfg.InternalEmailDomains)
	})

	server := httpapi.NewServer(db, insightsSvc, reviewSvc, searchSvc, engine, cfg.InternalEmailDomains)

	log.Printf("Ticket insights API listening on %s", cfg.HTTPAddr)
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      server.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// runReclassifyPass is the nightly maintenance job: refresh predictions
// against the current rules, then re-derive kinds and internal flags.
func runReclassifyPass(db *sql.DB, insightsSvc *insights.Service, internalDomains []string) {
	f := domain.DefaultFilters()
	changed, err := insightsSvc.Reclassify(f)
	if err != nil {
		log.Printf("reclassify error: %v", err)
		return
	}
	since := f.Since(time.Now().UTC())
	_, kinds, err := fetch.BackfillKinds(db, since)
	if err != nil {
		log.Printf("kind backfill error: %v", err)
	}
	_, flags, err := fetch.BackfillInternalFlags(db, since, internalDomains)
	if err != nil {
		log.Printf("internal flag backfill error: %v", err)
	}
	log.Printf("reclassify pass: changed=%d kinds=%d flags=%d", changed, kinds, flags)
}
