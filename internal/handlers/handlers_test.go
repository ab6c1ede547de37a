package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuri428/ontology-chat/internal/backends"
	"github.com/nuri428/ontology-chat/internal/contexteng"
	"github.com/nuri428/ontology-chat/internal/fetch"
	"github.com/nuri428/ontology-chat/internal/graphquery"
	"github.com/nuri428/ontology-chat/internal/intent"
)

type stubGraph struct {
	rows []backends.GraphRow
	err  error
}

func (s *stubGraph) Query(ctx context.Context, cypher string, params map[string]any) ([]backends.GraphRow, error) {
	return s.rows, s.err
}
func (s *stubGraph) Ping(ctx context.Context) error  { return nil }
func (s *stubGraph) Close(ctx context.Context) error { return nil }

type stubSearch struct {
	hits []backends.NewsHit
	err  error
	got  backends.SearchQuery
}

func (s *stubSearch) Hybrid(ctx context.Context, q backends.SearchQuery) ([]backends.NewsHit, error) {
	s.got = q
	return s.hits, s.err
}
func (s *stubSearch) Ping(ctx context.Context) error { return nil }

type stubMarket struct {
	snap *backends.StockSnapshot
	syms []backends.Symbol
}

func (s *stubMarket) Quote(ctx context.Context, symbol string) (*backends.StockSnapshot, error) {
	return s.snap, nil
}
func (s *stubMarket) SearchSymbols(ctx context.Context, name string) ([]backends.Symbol, error) {
	return s.syms, nil
}

func testDeps(graph *stubGraph, search *stubSearch, market *stubMarket) Deps {
	f := fetch.New(graph, search, market, fetch.Guards{}, 8)
	return Deps{
		Fetcher:  f,
		Engineer: contexteng.New(nil),
		Cypher: graphquery.NewBuilder(map[string][]string{
			"Company": {"name"},
			"News":    {"title", "content"},
		}),
		Market:   market,
		Lookback: 180 * 24 * time.Hour,
	}
}

func classify(q string) Input {
	c := intent.NewClassifier()
	return Input{Query: q, Result: c.Classify(q)}
}

func TestNewsHandlerHappyPath(t *testing.T) {
	search := &stubSearch{hits: []backends.NewsHit{
		{ID: "1", Title: "삼성전자 신제품 발표", Content: "본문", URL: "https://example.com/1", Score: 9, CreatedAt: time.Now()},
	}}
	graph := &stubGraph{rows: []backends.GraphRow{
		{Labels: []string{"Company"}, Props: map[string]any{"name": "삼성전자"}},
	}}
	h := NewNews(testDeps(graph, search, &stubMarket{}))

	out, err := h.Handle(context.Background(), classify("삼성전자 관련 최근 뉴스 보여줘"))
	require.NoError(t, err)
	assert.Equal(t, "news_inquiry", out.Type)
	assert.False(t, out.Partial)
	assert.NotEmpty(t, out.Sources)
	assert.NotEmpty(t, out.GraphSamples)
	assert.Contains(t, out.Markdown, "참고 자료")

	// primary keyword search, not an AND-join of everything
	assert.NotContains(t, search.got.Text, " AND ")
	assert.NotEmpty(t, search.got.Text)
}

type stubEmbedder struct {
	vec []float32
	err error
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.vec, s.err
}
func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = s.vec
	}
	return out, s.err
}
func (s *stubEmbedder) Dim() int { return len(s.vec) }

func TestNewsHandlerSearchCarriesQueryVector(t *testing.T) {
	search := &stubSearch{hits: []backends.NewsHit{
		{ID: "1", Title: "삼성전자 신제품 발표", CreatedAt: time.Now()},
	}}
	deps := testDeps(&stubGraph{}, search, &stubMarket{})
	deps.Embedder = &stubEmbedder{vec: []float32{0.5, 0.5}}
	h := NewNews(deps)

	_, err := h.Handle(context.Background(), classify("삼성전자 관련 최근 뉴스 보여줘"))
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5}, search.got.Vector)
}

func TestStockHandlerLexicalOnlyWhenEmbedderFails(t *testing.T) {
	search := &stubSearch{}
	deps := testDeps(&stubGraph{}, search, &stubMarket{})
	deps.Embedder = &stubEmbedder{err: context.DeadlineExceeded}
	h := NewStock(deps)

	out, err := h.Handle(context.Background(), classify("삼성전자 주가 전망 어때"))
	require.NoError(t, err)
	assert.Nil(t, search.got.Vector)
	assert.NotEmpty(t, out.Markdown)
}

func TestNewsHandlerPartialOnGraphFailure(t *testing.T) {
	search := &stubSearch{hits: []backends.NewsHit{{ID: "1", Title: "기사", CreatedAt: time.Now()}}}
	graph := &stubGraph{err: context.DeadlineExceeded}
	h := NewNews(testDeps(graph, search, &stubMarket{}))

	out, err := h.Handle(context.Background(), classify("반도체 뉴스 알려줘"))
	require.NoError(t, err)
	assert.True(t, out.Partial)
	assert.NotEmpty(t, out.Markdown)
}

func TestStockHandlerResolvesSymbol(t *testing.T) {
	market := &stubMarket{
		snap: &backends.StockSnapshot{Symbol: "005930", Name: "삼성전자", Price: 71200, AsOf: time.Now()},
		syms: []backends.Symbol{{Code: "005930", Name: "삼성전자"}},
	}
	search := &stubSearch{}
	h := NewStock(testDeps(&stubGraph{}, search, market))

	out, err := h.Handle(context.Background(), classify("삼성전자 주가 전망 어때"))
	require.NoError(t, err)
	assert.Contains(t, out.Markdown, "### 시세")
	assert.Contains(t, out.Markdown, "005930")
}

func TestStockHandlerExplicitTicker(t *testing.T) {
	market := &stubMarket{snap: &backends.StockSnapshot{Symbol: "005930", Name: "삼성전자", AsOf: time.Now()}}
	h := NewStock(testDeps(&stubGraph{}, &stubSearch{}, market))

	in := classify("005930 분석 해줘")
	require.Contains(t, in.Result.Entities.Tickers, "005930")
	out, err := h.Handle(context.Background(), in)
	require.NoError(t, err)
	assert.Contains(t, out.Markdown, "시세")
}

func TestGeneralHandlerGlossary(t *testing.T) {
	h := NewGeneral(testDeps(&stubGraph{}, &stubSearch{}, &stubMarket{}))

	for _, q := range []string{"PER이 뭐야", "pbr 설명해줘", "배당이 무엇인가"} {
		out, err := h.Handle(context.Background(), classify(q))
		require.NoError(t, err)
		assert.False(t, out.Partial)
		assert.NotEmpty(t, out.Markdown, q)
	}

	out, _ := h.Handle(context.Background(), classify("PER이 뭐야"))
	assert.Contains(t, out.Markdown, "주가수익비율")
}

func TestGeneralHandlerGlossaryStableOnMultipleTerms(t *testing.T) {
	h := NewGeneral(testDeps(&stubGraph{}, &stubSearch{}, &stubMarket{}))

	// two known terms in one query always resolve to the same entry
	for i := 0; i < 10; i++ {
		out, err := h.Handle(context.Background(), classify("PER과 PBR 차이가 뭐야"))
		require.NoError(t, err)
		assert.Contains(t, out.Markdown, "주가순자산비율", "iteration %d", i)
	}
}

func TestGeneralHandlerFallsThroughToRetrieval(t *testing.T) {
	search := &stubSearch{hits: []backends.NewsHit{{ID: "1", Title: "기사", CreatedAt: time.Now()}}}
	h := NewGeneral(testDeps(&stubGraph{}, search, &stubMarket{}))

	out, err := h.Handle(context.Background(), classify("요즘 시장 분위기 어때"))
	require.NoError(t, err)
	assert.NotEmpty(t, search.got.Text)
	assert.NotEmpty(t, out.Markdown)
}

func TestForIntentRouting(t *testing.T) {
	news := NewNews(Deps{})
	stock := NewStock(Deps{})
	general := NewGeneral(Deps{})

	assert.Equal(t, Handler(news), ForIntent(intent.NewsInquiry, news, stock, general))
	assert.Equal(t, Handler(news), ForIntent(intent.Trend, news, stock, general))
	assert.Equal(t, Handler(stock), ForIntent(intent.StockAnalysis, news, stock, general))
	assert.Equal(t, Handler(stock), ForIntent(intent.Comparison, news, stock, general))
	assert.Equal(t, Handler(general), ForIntent(intent.GeneralQA, news, stock, general))
	assert.Equal(t, Handler(general), ForIntent(intent.Unknown, news, stock, general))
}

func TestRefinedKeywordsRuleFirst(t *testing.T) {
	in := classify("삼성전자 뉴스 보여줘")
	kws := refinedKeywords(context.Background(), nil, in)
	assert.Contains(t, kws, "삼성전자")
}

func TestRefinedKeywordsFallbackToQuery(t *testing.T) {
	in := Input{Query: "  hello  ", Result: intent.Result{}}
	kws := refinedKeywords(context.Background(), nil, in)
	assert.Equal(t, []string{"hello"}, kws)
}

func TestPrimaryKeyword(t *testing.T) {
	assert.Equal(t, "", primaryKeyword(nil))
	assert.Equal(t, "삼성전자", primaryKeyword([]string{"삼성전자"}))
	assert.Equal(t, "삼성전자 HBM", primaryKeyword([]string{"삼성전자", "HBM", "실적", "전망"}))
}
