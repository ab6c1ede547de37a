// Package app assembles the engine: backends, resilience, cache, both query
// paths, and the HTTP server, with a graceful shutdown that persists the hot
// cache.
package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nuri428/ontology-chat/internal/backends"
	"github.com/nuri428/ontology-chat/internal/cache"
	"github.com/nuri428/ontology-chat/internal/config"
	"github.com/nuri428/ontology-chat/internal/contexteng"
	"github.com/nuri428/ontology-chat/internal/fetch"
	"github.com/nuri428/ontology-chat/internal/graphquery"
	"github.com/nuri428/ontology-chat/internal/handlers"
	"github.com/nuri428/ontology-chat/internal/httpsrv"
	"github.com/nuri428/ontology-chat/internal/resilience"
	"github.com/nuri428/ontology-chat/internal/router"
	"github.com/nuri428/ontology-chat/internal/telemetry"
	"github.com/nuri428/ontology-chat/internal/workflow"
)

// App is the assembled engine.
type App struct {
	Config   *config.Config
	Metrics  *telemetry.Metrics
	Tracer   telemetry.Tracer
	Cache    *cache.MultiLevel
	Breakers *resilience.Registry
	Router   *router.Router
	Server   *httpsrv.Server

	graph backends.Graph
}

// New wires the engine from config. Backend clients are constructed lazily
// where their drivers allow it: a dead backend trips its breaker at first use
// instead of failing startup.
func New(cfg *config.Config) (*App, error) {
	metrics := telemetry.NewMetrics()

	var tracer telemetry.Tracer
	if cfg.Tracing.Enabled {
		tracer = telemetry.NewTracer("ontology-chat")
	} else {
		tracer = telemetry.NewNoopTracer()
	}

	breakers := resilience.NewRegistry(cfg, resilience.WithStateHook(func(name, state string) {
		metrics.SetBreakerState(name, stateValue(state))
	}))
	guard := func(name string) *resilience.Guard {
		return resilience.NewGuard(
			breakers.Get(name),
			resilience.NewRetryer(name, cfg.RetryPolicy(name), resilience.WithRetryHook(func(backend string) {
				metrics.RetryTotal.WithLabelValues(backend).Inc()
			})),
		)
	}

	c, err := cache.New(cfg.Cache, metrics)
	if err != nil {
		return nil, err
	}

	graph, err := backends.NewNeo4jGraph(cfg.Backends.Graph)
	if err != nil {
		return nil, err
	}
	search, err := backends.NewOpenSearch(cfg.Backends.Search)
	if err != nil {
		return nil, err
	}
	market := backends.NewHTTPMarket(cfg.Backends.Market)
	lm := backends.LM(&guardedLM{lm: backends.NewOpenAILM(cfg.LM), guard: guard("lm")})
	embedder := backends.Embedder(&guardedEmbedder{
		embedder: backends.NewOpenAIEmbedder(cfg.Embedder),
		guard:    guard("embed"),
	})

	fetcher := fetch.New(graph, search, market, fetch.Guards{
		Graph:  guard("graph"),
		Search: guard("search"),
		Market: guard("market"),
	}, cfg.Router.BackendSlots)

	engineer := contexteng.New(embedder)
	cypher := graphquery.NewBuilder(cfg.Context.GraphSearchKeys)
	lookback := time.Duration(cfg.Context.LookbackDays) * 24 * time.Hour

	handlerDeps := handlers.Deps{
		Fetcher:  fetcher,
		Engineer: engineer,
		Cypher:   cypher,
		Market:   market,
		LM:       lm,
		Embedder: embedder,
		Lookback: lookback,
	}
	deep := workflow.New(workflow.Deps{
		Fetcher:  fetcher,
		Engineer: engineer,
		Cypher:   cypher,
		LM:       lm,
		Embedder: embedder,
		Cache:    c,
		Metrics:  metrics,
		Tracer:   tracer,
		Lookback: lookback,
	})

	rt := router.New(router.Deps{
		Config:   cfg,
		News:     handlers.NewNews(handlerDeps),
		Stock:    handlers.NewStock(handlerDeps),
		General:  handlers.NewGeneral(handlerDeps),
		Deep:     deep,
		Breakers: breakers,
		Metrics:  metrics,
		Market:   market,
	})

	srv := httpsrv.New(cfg.Server, httpsrv.Deps{
		Router:   rt,
		Cache:    c,
		Breakers: breakers,
		Metrics:  metrics,
	})

	return &App{
		Config:   cfg,
		Metrics:  metrics,
		Tracer:   tracer,
		Cache:    c,
		Breakers: breakers,
		Router:   rt,
		Server:   srv,
		graph:    graph,
	}, nil
}

// Run serves HTTP until the server stops.
func (a *App) Run() error {
	return a.Server.Start()
}

// Shutdown drains the server, persists hot cache entries, and closes the
// graph driver.
func (a *App) Shutdown(ctx context.Context) error {
	var firstErr error
	if err := a.Server.Shutdown(ctx); err != nil {
		firstErr = err
	}
	if err := a.Cache.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("cache close failed")
		if firstErr == nil {
			firstErr = err
		}
	}
	if a.graph != nil {
		if err := a.graph.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("graph driver close failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if err := a.Tracer.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func stateValue(state string) float64 {
	switch state {
	case "closed":
		return 0
	case "half-open":
		return 1
	default:
		return 2
	}
}
