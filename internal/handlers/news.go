package handlers

import (
	"context"

	"github.com/nuri428/ontology-chat/internal/backends"
	"github.com/nuri428/ontology-chat/internal/fetch"
	"github.com/nuri428/ontology-chat/internal/render"
)

// NewsHandler answers news and trend queries from graph plus search.
type NewsHandler struct {
	deps Deps
}

// NewNews builds the news handler.
func NewNews(deps Deps) *NewsHandler { return &NewsHandler{deps: deps} }

func (h *NewsHandler) Handle(ctx context.Context, in Input) (*Output, error) {
	ctx, cancel := context.WithTimeout(ctx, softBudget)
	defer cancel()

	keywords := refinedKeywords(ctx, h.deps.LM, in)
	req := fetch.Request{
		Graph: h.deps.graphRequest(keywords),
		Search: &fetch.SearchRequest{Query: backends.SearchQuery{
			Text:         primaryKeyword(keywords),
			Vector:       h.deps.queryVector(ctx, in.Query),
			Size:         20,
			LookbackDays: int(h.deps.Lookback.Hours() / 24),
		}},
	}
	res := h.deps.Fetcher.Do(ctx, req)

	items := h.deps.Engineer.FilterRerank(ctx, in.Query, fetch.ToItems(res))
	sources := render.Sources(items, maxCitations)
	samples := render.GraphSamples(res.GraphRows, maxGraphSamples)

	return &Output{
		Type:         string(in.Result.Intent),
		Markdown:     render.FastMarkdown(in.Query, items, nil, sources),
		Sources:      sources,
		GraphSamples: samples,
		Partial:      res.Partial(req),
	}, nil
}
