// Package handlers implements the fast path: intent-matched handlers that
// answer within a soft budget from rule-based retrieval, marking the
// response partial instead of failing when a backend branch misses.
package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nuri428/ontology-chat/internal/backends"
	"github.com/nuri428/ontology-chat/internal/contexteng"
	"github.com/nuri428/ontology-chat/internal/fetch"
	"github.com/nuri428/ontology-chat/internal/graphquery"
	"github.com/nuri428/ontology-chat/internal/intent"
	"github.com/nuri428/ontology-chat/internal/render"
)

const (
	softBudget      = 1500 * time.Millisecond
	lmRefineBudget  = time.Second
	maxCitations    = 5
	maxGraphSamples = 5
)

// Deps wires a handler to retrieval and rendering.
type Deps struct {
	Fetcher  *fetch.Fetcher
	Engineer *contexteng.Engineer
	Cypher   *graphquery.Builder
	Market   backends.Market   // symbol lookup, stock handler only
	LM       backends.LM       // optional keyword refinement
	Embedder backends.Embedder // optional, turns the search leg hybrid
	Lookback time.Duration
}

// Input is one classified query.
type Input struct {
	Query  string
	Result intent.Result
}

// Output is a handler's contribution to the response envelope.
type Output struct {
	Type         string
	Markdown     string
	Sources      []render.Citation
	GraphSamples []map[string]any
	Partial      bool
}

// Handler answers one intent family on the fast path.
type Handler interface {
	Handle(ctx context.Context, in Input) (*Output, error)
}

// ForIntent picks the handler matching a routed intent.
func ForIntent(it intent.Intent, news, stock, general Handler) Handler {
	switch it {
	case intent.NewsInquiry, intent.Trend:
		return news
	case intent.StockAnalysis, intent.Comparison:
		return stock
	default:
		return general
	}
}

// refinedKeywords returns rule-based keywords, falling back to one bounded
// LM call and finally to the raw query.
func refinedKeywords(ctx context.Context, lm backends.LM, in Input) []string {
	if len(in.Result.Keywords) > 0 {
		return in.Result.Keywords
	}
	if lm != nil {
		lmCtx, cancel := context.WithTimeout(ctx, lmRefineBudget)
		defer cancel()
		text, err := lm.Generate(lmCtx, "",
			"다음 질문에서 검색 키워드를 최대 5개, 쉼표로 구분해 출력하라: "+in.Query,
			backends.GenOptions{MaxTokens: 64})
		if err == nil {
			var kws []string
			for _, part := range strings.Split(text, ",") {
				if k := strings.TrimSpace(part); k != "" {
					kws = append(kws, k)
				}
			}
			if len(kws) > 0 {
				return kws
			}
		} else {
			log.Debug().Err(err).Msg("keyword refinement skipped")
		}
	}
	return []string{strings.TrimSpace(in.Query)}
}

// primaryKeyword picks the search text: the leading keyword, or the leading
// two when the first is a single entity token. Joining every keyword
// collapses recall.
func primaryKeyword(keywords []string) string {
	switch len(keywords) {
	case 0:
		return ""
	case 1:
		return keywords[0]
	default:
		return keywords[0] + " " + keywords[1]
	}
}

// queryVector embeds the query for the hybrid search leg. Embedding failures
// degrade to lexical-only retrieval inside the soft budget.
func (d Deps) queryVector(ctx context.Context, query string) []float32 {
	if d.Embedder == nil {
		return nil
	}
	embCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	vec, err := d.Embedder.Embed(embCtx, query)
	if err != nil {
		log.Debug().Err(err).Msg("query embedding failed, lexical search only")
		return nil
	}
	return vec
}

func (d Deps) graphRequest(keywords []string) *fetch.GraphRequest {
	if d.Cypher == nil || len(keywords) == 0 {
		return nil
	}
	q, err := d.Cypher.Keyword(keywords[0], 30, d.Lookback, time.Now())
	if err != nil {
		return nil
	}
	return &fetch.GraphRequest{Cypher: q.Cypher, Params: q.Params}
}
