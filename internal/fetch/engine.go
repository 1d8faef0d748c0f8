// Package fetch orchestrates ticket ingestion: connectors pull changed
// records from each source since a per-source watermark, the engine
// dedups them into the store, and the scheduler reruns the whole thing
// on a cron expression.
package fetch

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"pminsight/internal/domain"
	"pminsight/internal/storage/sqlite"
)

// Connector pulls records from one ticket source. Fetch returns every
// record changed at or after since, already mapped to the normalized
// ticket shape with Source and ExternalID set.
type Connector interface {
	Source() domain.Source
	Fetch(ctx context.Context, since time.Time) ([]domain.Ticket, error)
}

// Result is one source's sync outcome. A failed source carries its
// error here instead of aborting the whole run.
type Result struct {
	Source        domain.Source
	Fetched       int
	Created       int
	Updated       int
	LastUpdatedAt time.Time
	Err           error
}

// Engine runs incremental syncs. Each source keeps its own watermark:
// the newest upstream update time seen, so reruns only pull changes.
type Engine struct {
	db          *sql.DB
	connectors  map[domain.Source]Connector
	order       []domain.Source
	historyDays int
}

func NewEngine(db *sql.DB, historyDays int, connectors ...Connector) *Engine {
	if historyDays < 1 {
		historyDays = 30
	}
	e := &Engine{
		db:          db,
		connectors:  make(map[domain.Source]Connector, len(connectors)),
		historyDays: historyDays,
	}
	for _, c := range connectors {
		if _, dup := e.connectors[c.Source()]; dup {
			continue
		}
		e.connectors[c.Source()] = c
		e.order = append(e.order, c.Source())
	}
	return e
}

// Sources lists the configured sources in registration order.
func (e *Engine) Sources() []domain.Source {
	return e.order
}

// SyncAll syncs every configured source. One source failing does not
// stop the others; inspect each Result.
func (e *Engine) SyncAll(ctx context.Context) []Result {
	results := make([]Result, 0, len(e.order))
	for _, src := range e.order {
		results = append(results, e.syncOne(ctx, e.connectors[src]))
	}
	return results
}

// SyncSource syncs a single source by name.
func (e *Engine) SyncSource(ctx context.Context, source domain.Source) (Result, error) {
	c, ok := e.connectors[source]
	if !ok {
		return Result{}, fmt.Errorf("%w: source %q is not configured", domain.ErrInvalidFilter, source)
	}
	return e.syncOne(ctx, c), nil
}

func (e *Engine) syncOne(ctx context.Context, c Connector) Result {
	src := c.Source()
	res := Result{Source: src}

	state, _, err := sqlite.GetSyncState(e.db, string(src))
	if err != nil {
		res.Err = fmt.Errorf("load sync state: %w", err)
		log.Printf("sync source=%s error: %v", src, res.Err)
		return res
	}
	since := state.LastUpdatedAt
	if since.IsZero() {
		since = time.Now().UTC().AddDate(0, 0, -e.historyDays)
	}

	items, err := c.Fetch(ctx, since)
	if err != nil {
		res.Err = fmt.Errorf("fetch: %w", err)
		log.Printf("sync source=%s error: %v", src, res.Err)
		return res
	}
	res.Fetched = len(items)

	latest := since
	for i := range items {
		items[i].Source = src
		if items[i].Kind == "" {
			items[i].Kind = InferKind(items[i])
		}
		if items[i].SourceUpdatedAt.After(latest) {
			latest = items[i].SourceUpdatedAt
		}
	}

	created, updated, err := sqlite.UpsertTickets(e.db, items)
	res.Created, res.Updated = created, updated
	if err != nil {
		res.Err = fmt.Errorf("store tickets: %w", err)
		log.Printf("sync source=%s error: %v", src, res.Err)
		return res
	}

	res.LastUpdatedAt = latest
	err = sqlite.SaveSyncState(e.db, sqlite.SyncState{
		Source:        string(src),
		LastRunAt:     time.Now().UTC(),
		LastUpdatedAt: latest,
	})
	if err != nil {
		res.Err = fmt.Errorf("save sync state: %w", err)
		log.Printf("sync source=%s error: %v", src, res.Err)
		return res
	}

	log.Printf("sync source=%s fetched=%d created=%d updated=%d watermark=%s",
		src, res.Fetched, res.Created, res.Updated, latest.Format(time.RFC3339))
	return res
}
