package handlers

import (
	"context"
	"sort"
	"strings"

	"github.com/nuri428/ontology-chat/internal/backends"
	"github.com/nuri428/ontology-chat/internal/fetch"
	"github.com/nuri428/ontology-chat/internal/render"
)

// glossary holds canned explanations for common financial terms so a
// definition question never needs a backend.
var glossary = map[string]string{
	"per": "PER(주가수익비율)은 주가를 주당순이익(EPS)으로 나눈 값입니다. " +
		"수치가 낮을수록 이익 대비 주가가 저평가되어 있다고 해석하지만, 업종별 평균과 함께 봐야 합니다.",
	"pbr": "PBR(주가순자산비율)은 주가를 주당순자산(BPS)으로 나눈 값입니다. " +
		"1배 미만이면 장부가치보다 싸게 거래된다는 뜻이지만, 자산의 질을 함께 확인해야 합니다.",
	"roe": "ROE(자기자본이익률)는 순이익을 자기자본으로 나눈 수익성 지표입니다. " +
		"높을수록 주주 자본을 효율적으로 활용한다는 의미이며, 부채로 부풀려질 수 있어 부채비율과 같이 봅니다.",
	"배당": "배당은 기업이 벌어들인 이익의 일부를 주주에게 돌려주는 것입니다. " +
		"배당수익률은 주당배당금을 주가로 나눈 값이며, 배당성향은 순이익 중 배당으로 지급한 비율입니다.",
}

// glossaryTerm returns the canonical term when the query is a definition
// question about one. Terms are matched in sorted order so a query naming
// several always resolves to the same one.
func glossaryTerm(query string) (string, string, bool) {
	q := strings.ToLower(query)
	terms := make([]string, 0, len(glossary))
	for term := range glossary {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	for _, term := range terms {
		if strings.Contains(q, term) {
			display := strings.ToUpper(term)
			if term == "배당" {
				display = term
			}
			return display, glossary[term], true
		}
	}
	return "", "", false
}

// GeneralHandler answers everything without a specialized handler: glossary
// terms first, then retrieval across all backends.
type GeneralHandler struct {
	deps Deps
}

// NewGeneral builds the general handler.
func NewGeneral(deps Deps) *GeneralHandler { return &GeneralHandler{deps: deps} }

func (h *GeneralHandler) Handle(ctx context.Context, in Input) (*Output, error) {
	if term, expl, ok := glossaryTerm(in.Query); ok {
		return &Output{
			Type:     string(in.Result.Intent),
			Markdown: render.GlossaryMarkdown(term, expl),
			Sources:  []render.Citation{},
		}, nil
	}

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
	if len(in.Result.Entities.Tickers) > 0 {
		req.Market = &fetch.MarketRequest{Symbol: in.Result.Entities.Tickers[0]}
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
