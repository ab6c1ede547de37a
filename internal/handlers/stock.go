package handlers

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nuri428/ontology-chat/internal/backends"
	"github.com/nuri428/ontology-chat/internal/fetch"
	"github.com/nuri428/ontology-chat/internal/render"
)

// StockHandler answers stock analysis and comparison queries from market
// plus search.
type StockHandler struct {
	deps Deps
}

// NewStock builds the stock handler.
func NewStock(deps Deps) *StockHandler { return &StockHandler{deps: deps} }

func (h *StockHandler) Handle(ctx context.Context, in Input) (*Output, error) {
	ctx, cancel := context.WithTimeout(ctx, softBudget)
	defer cancel()

	keywords := refinedKeywords(ctx, h.deps.LM, in)
	req := fetch.Request{
		Search: &fetch.SearchRequest{Query: backends.SearchQuery{
			Text:         primaryKeyword(keywords),
			Vector:       h.deps.queryVector(ctx, in.Query),
			Size:         20,
			LookbackDays: int(h.deps.Lookback.Hours() / 24),
		}},
	}
	if symbol := h.resolveSymbol(ctx, in); symbol != "" {
		req.Market = &fetch.MarketRequest{Symbol: symbol}
	}
	res := h.deps.Fetcher.Do(ctx, req)

	items := h.deps.Engineer.FilterRerank(ctx, in.Query, fetch.ToItems(res))
	sources := render.Sources(items, maxCitations)

	return &Output{
		Type:         string(in.Result.Intent),
		Markdown:     render.FastMarkdown(in.Query, items, res.Snapshot, sources),
		Sources:      sources,
		GraphSamples: render.GraphSamples(res.GraphRows, maxGraphSamples),
		Partial:      res.Partial(req),
	}, nil
}

// resolveSymbol prefers an explicit ticker, then a name lookup on the first
// extracted company. Lookup failures just drop the market branch.
func (h *StockHandler) resolveSymbol(ctx context.Context, in Input) string {
	if len(in.Result.Entities.Tickers) > 0 {
		return in.Result.Entities.Tickers[0]
	}
	if h.deps.Market == nil || len(in.Result.Entities.Companies) == 0 {
		return ""
	}
	lookupCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	syms, err := h.deps.Market.SearchSymbols(lookupCtx, in.Result.Entities.Companies[0])
	if err != nil || len(syms) == 0 {
		if err != nil {
			log.Debug().Err(err).Msg("symbol lookup failed")
		}
		return ""
	}
	return syms[0].Code
}
