// Package fetch fans out retrieval across the graph, search, and market
// backends concurrently, tolerating partial failure.
package fetch

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/nuri428/ontology-chat/internal/backends"
	"github.com/nuri428/ontology-chat/internal/contexteng"
	"github.com/nuri428/ontology-chat/internal/errkind"
	"github.com/nuri428/ontology-chat/internal/resilience"
)

// Request names the work for one fan-out. Nil sub-requests skip that branch.
type Request struct {
	Graph  *GraphRequest
	Search *SearchRequest
	Market *MarketRequest
}

type GraphRequest struct {
	Cypher string
	Params map[string]any
}

type SearchRequest struct {
	Query backends.SearchQuery
}

type MarketRequest struct {
	Symbol string
}

// Result aggregates per-branch outcomes. A branch either has data or an
// error; the fan-out as a whole succeeds if any branch does.
type Result struct {
	GraphRows []backends.GraphRow
	GraphErr  error

	Hits      []backends.NewsHit
	SearchErr error

	Snapshot  *backends.StockSnapshot
	MarketErr error

	Timings map[string]time.Duration
}

// Partial reports whether any requested branch failed.
func (r *Result) Partial(req Request) bool {
	return (req.Graph != nil && r.GraphErr != nil) ||
		(req.Search != nil && r.SearchErr != nil) ||
		(req.Market != nil && r.MarketErr != nil)
}

// Empty reports whether no branch returned data.
func (r *Result) Empty() bool {
	return len(r.GraphRows) == 0 && len(r.Hits) == 0 && r.Snapshot == nil
}

// Guards bundles the breaker+retry pair per backend.
type Guards struct {
	Graph  *resilience.Guard
	Search *resilience.Guard
	Market *resilience.Guard
}

// Fetcher runs guarded fan-outs. A weighted semaphore bounds total in-flight
// backend calls across all requests; per-backend limiters smooth bursts.
type Fetcher struct {
	graph  backends.Graph
	search backends.Search
	market backends.Market
	guards Guards

	slots    *semaphore.Weighted
	limiters map[string]*rate.Limiter
}

// New builds a Fetcher. slots bounds concurrent backend calls process-wide.
func New(graph backends.Graph, search backends.Search, market backends.Market, guards Guards, slots int) *Fetcher {
	if slots <= 0 {
		slots = 16
	}
	return &Fetcher{
		graph:  graph,
		search: search,
		market: market,
		guards: guards,
		slots:  semaphore.NewWeighted(int64(slots)),
		limiters: map[string]*rate.Limiter{
			"graph":  rate.NewLimiter(rate.Limit(50), 25),
			"search": rate.NewLimiter(rate.Limit(50), 25),
			"market": rate.NewLimiter(rate.Limit(20), 10),
		},
	}
}

// Do runs the requested branches concurrently and merges deterministically:
// graph, then search, then market. The group context is NOT cancelled on
// branch failure; each branch runs to completion or deadline.
func (f *Fetcher) Do(ctx context.Context, req Request) *Result {
	res := &Result{Timings: make(map[string]time.Duration, 3)}
	g, gctx := errgroup.WithContext(ctx)

	if req.Graph != nil && f.graph != nil {
		g.Go(func() error {
			start := time.Now()
			res.GraphErr = f.run(gctx, "graph", f.guards.Graph, func(ctx context.Context) error {
				rows, err := f.graph.Query(ctx, req.Graph.Cypher, req.Graph.Params)
				if err != nil {
					return err
				}
				res.GraphRows = rows
				return nil
			})
			res.Timings["graph"] = time.Since(start)
			return nil
		})
	}
	if req.Search != nil && f.search != nil {
		g.Go(func() error {
			start := time.Now()
			res.SearchErr = f.run(gctx, "search", f.guards.Search, func(ctx context.Context) error {
				hits, err := f.search.Hybrid(ctx, req.Search.Query)
				if err != nil {
					return err
				}
				res.Hits = hits
				return nil
			})
			res.Timings["search"] = time.Since(start)
			return nil
		})
	}
	if req.Market != nil && f.market != nil {
		g.Go(func() error {
			start := time.Now()
			res.MarketErr = f.run(gctx, "market", f.guards.Market, func(ctx context.Context) error {
				snap, err := f.market.Quote(ctx, req.Market.Symbol)
				if err != nil {
					return err
				}
				res.Snapshot = snap
				return nil
			})
			res.Timings["market"] = time.Since(start)
			return nil
		})
	}

	_ = g.Wait()

	if res.GraphErr != nil {
		log.Warn().Err(res.GraphErr).Msg("graph branch failed")
	}
	if res.SearchErr != nil {
		log.Warn().Err(res.SearchErr).Msg("search branch failed")
	}
	if res.MarketErr != nil {
		log.Warn().Err(res.MarketErr).Msg("market branch failed")
	}
	return res
}

func (f *Fetcher) run(ctx context.Context, name string, guard *resilience.Guard, fn func(ctx context.Context) error) error {
	if err := f.slots.Acquire(ctx, 1); err != nil {
		return errkind.Wrap(errkind.ErrOverload, "%s: no backend slot", name)
	}
	defer f.slots.Release(1)

	if lim := f.limiters[name]; lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return errkind.FromContext(err)
		}
	}
	if guard != nil {
		return guard.Do(ctx, fn)
	}
	return fn(ctx)
}

// ToItems converts a fetch result into context items in deterministic merge
// order: graph rows, then search hits, then the market snapshot.
func ToItems(res *Result) []*contexteng.Item {
	items := make([]*contexteng.Item, 0, len(res.GraphRows)+len(res.Hits)+1)

	for _, row := range res.GraphRows {
		items = append(items, &contexteng.Item{
			Source:     contexteng.SourceGraph,
			Type:       graphItemType(row.Labels),
			Content:    rowContent(row),
			Timestamp:  row.TS,
			Confidence: 0.7,
		})
	}
	for _, hit := range res.Hits {
		it := &contexteng.Item{
			Source: contexteng.SourceSearch,
			Type:   contexteng.TypeNews,
			Content: map[string]any{
				"title":   hit.Title,
				"body":    hit.Content,
				"summary": hit.Summary,
				"url":     hit.URL,
				"source":  hit.Source,
			},
			Timestamp:  hit.CreatedAt,
			Confidence: 0.6,
		}
		applyHybridMetadata(it, hit.Metadata)
		items = append(items, it)
	}
	if res.Snapshot != nil {
		s := res.Snapshot
		items = append(items, &contexteng.Item{
			Source: contexteng.SourceMarket,
			Type:   contexteng.TypeStock,
			Content: map[string]any{
				"title":      s.Name + " 시세",
				"symbol":     s.Symbol,
				"price":      s.Price,
				"change_pct": s.ChangePct,
				"volume":     s.Volume,
			},
			Timestamp:  s.AsOf,
			Confidence: 0.8,
		})
	}
	return items
}

func graphItemType(labels []string) contexteng.ItemType {
	for _, l := range labels {
		switch l {
		case "Company", "Agency":
			return contexteng.TypeCompany
		case "News":
			return contexteng.TypeNews
		case "Event", "Program":
			return contexteng.TypeEvent
		}
	}
	return contexteng.TypeCompany
}

func rowContent(row backends.GraphRow) map[string]any {
	content := make(map[string]any, len(row.Props)+1)
	for k, v := range row.Props {
		content[k] = v
	}
	if _, ok := content["title"]; !ok {
		if name, ok := content["name"].(string); ok {
			content["title"] = name
		}
	}
	return content
}

// applyHybridMetadata promotes forward-only quality metadata from the search
// document when present.
func applyHybridMetadata(it *contexteng.Item, meta map[string]any) {
	if meta == nil {
		return
	}
	if q, ok := toFloat(meta["quality_score"]); ok {
		it.QualityScore = q
		it.HasQuality = true
	}
	if b, ok := meta["is_featured"].(bool); ok {
		it.IsFeatured = b
	}
	if b, ok := meta["synced"].(bool); ok {
		it.Synced = b
	}
	if s, ok := meta["ontology_status"].(string); ok {
		it.OntologyStatus = s
	}
	if d, ok := toFloat(meta["graph_degree"]); ok {
		it.GraphDegree = int(d)
	}
	if s, ok := meta["event_chain_id"].(string); ok {
		it.EventChainID = s
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
