package workflow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuri428/ontology-chat/internal/backends"
	"github.com/nuri428/ontology-chat/internal/cache"
	"github.com/nuri428/ontology-chat/internal/contexteng"
	"github.com/nuri428/ontology-chat/internal/fetch"
	"github.com/nuri428/ontology-chat/internal/intent"
)

type scriptedLM struct {
	calls int
	fn    func(prompt string) (string, error)
}

func (s *scriptedLM) Generate(ctx context.Context, system, prompt string, opts backends.GenOptions) (string, error) {
	s.calls++
	return s.fn(prompt)
}
func (s *scriptedLM) ChatModel() string   { return "chat" }
func (s *scriptedLM) ReportModel() string { return "report" }

// answerByNode dispatches on distinctive prompt fragments.
func answerByNode(prompt string) (string, error) {
	switch {
	case strings.Contains(prompt, "다음 질문을 분석해"):
		return `{"keywords":["삼성전자","SK하이닉스","HBM"],"entities":["삼성전자","SK하이닉스"],
			"complexity":"complex","focus_areas":["HBM"],"expected_output_type":"report"}`, nil
	case strings.Contains(prompt, "분석 계획"):
		return `{"primary_focus":["삼성전자","SK하이닉스"],"comparison_axes":["HBM 점유율"],
			"required_data_types":["news","stock"],"key_questions":["누가 앞서는가"],"approach":"비교 분석"}`, nil
	case strings.Contains(prompt, "핵심 인사이트를 도출"):
		return `{"insights":[
			{"title":"HBM 주도권","type":"comparative","finding":"SK하이닉스가 HBM3 공급을 주도",
			 "evidence":["[1] 공급 계약","[2] 증설"],"significance":"실적 격차","confidence":0.8},
			{"title":"수요 전망","type":"temporal","finding":"HBM 수요가 내년까지 증가",
			 "evidence":["[3] 수요 전망"],"significance":"성장 여력","confidence":0.7}]}`, nil
	case strings.Contains(prompt, "관계를 추출"):
		return `{"relationships":[{"kind":"competitive","entities":["삼성전자","SK하이닉스"],
			"description":"HBM 시장 경쟁","impact":"high","implication":"점유율 경쟁 심화"}]}`, nil
	case strings.Contains(prompt, "심층 추론을 JSON"):
		return `{"why":{"causes":["AI 수요"],"analysis":"가속기 수요가 HBM 수요를 견인"},
			"how":{"mechanisms":["증설","선단 공정"]},
			"what_if":{"scenarios":[{"scenario":"공급 과잉","probability":0.3,"impact":"가격 하락"}]},
			"so_what":{"investor_implications":"공급 계약 공시를 주시","actionable":"분기 실적 확인"}}`, nil
	case strings.Contains(prompt, "보고서를 작성"):
		return "## Executive Summary\n요약\n## Market Context\n맥락\n## Key Findings\n발견\n" +
			"## Relationship & Competitive Analysis\n관계\n## Deep Reasoning\n추론\n## Investment Perspective\n관점\n", nil
	case strings.Contains(prompt, "기준에 미달"):
		return "## Executive Summary\n보강된 보고서\n", nil
	}
	return "", assert.AnError
}

type stubGraph struct{ rows []backends.GraphRow }

func (s *stubGraph) Query(ctx context.Context, cypher string, params map[string]any) ([]backends.GraphRow, error) {
	return s.rows, nil
}
func (s *stubGraph) Ping(ctx context.Context) error  { return nil }
func (s *stubGraph) Close(ctx context.Context) error { return nil }

type stubSearch struct {
	hits    []backends.NewsHit
	queries []string
	vectors [][]float32
}

func (s *stubSearch) Hybrid(ctx context.Context, q backends.SearchQuery) ([]backends.NewsHit, error) {
	s.queries = append(s.queries, q.Text)
	s.vectors = append(s.vectors, q.Vector)
	return s.hits, nil
}
func (s *stubSearch) Ping(ctx context.Context) error { return nil }

type stubMarket struct{ snap *backends.StockSnapshot }

func (s *stubMarket) Quote(ctx context.Context, symbol string) (*backends.StockSnapshot, error) {
	return s.snap, nil
}
func (s *stubMarket) SearchSymbols(ctx context.Context, name string) ([]backends.Symbol, error) {
	return nil, nil
}

func newsHits(n int) []backends.NewsHit {
	titles := []string{
		"SK하이닉스 HBM3 공급 계약 체결",
		"삼성전자 HBM 증설 투자 발표",
		"HBM 수요 전망 상향",
		"반도체 업황 회복 조짐",
		"메모리 가격 반등 분석",
	}
	var hits []backends.NewsHit
	for i := 0; i < n && i < len(titles); i++ {
		hits = append(hits, backends.NewsHit{
			ID:        titles[i],
			Title:     titles[i],
			Content:   titles[i] + "에 대한 상세 본문이며 매출과 점유율 수치를 다룬다.",
			URL:       "https://news.example.com/" + string(rune('a'+i)),
			Score:     10 - float64(i),
			CreatedAt: time.Now().Add(-time.Duration(i) * 24 * time.Hour),
		})
	}
	return hits
}

func testWorkflow(lm backends.LM, search *stubSearch, c *cache.MultiLevel) *Workflow {
	f := fetch.New(&stubGraph{}, search, &stubMarket{}, fetch.Guards{}, 8)
	return New(Deps{
		Fetcher:  f,
		Engineer: contexteng.New(nil),
		LM:       lm,
		Cache:    c,
		Lookback: 180 * 24 * time.Hour,
	})
}

func classify(q string) intent.Result {
	return intent.NewClassifier().Classify(q)
}

func TestRunProducesReport(t *testing.T) {
	lm := &scriptedLM{fn: answerByNode}
	search := &stubSearch{hits: newsHits(5)}
	w := testWorkflow(lm, search, nil)

	query := "삼성전자와 SK하이닉스 HBM 경쟁력 비교 분석"
	st := NewState(query, classify(query), intent.DepthDeep)

	var events []Event
	out, err := w.Run(context.Background(), st, func(e Event) { events = append(events, e) })
	require.NoError(t, err)

	require.NotNil(t, out.QueryAnalysis)
	assert.Equal(t, []string{"삼성전자", "SK하이닉스", "HBM"}, out.QueryAnalysis.Keywords)
	require.NotNil(t, out.Plan)
	assert.NotEmpty(t, out.Contexts)
	assert.Len(t, out.Insights, 2)
	assert.Len(t, out.Relationships, 1)
	require.NotNil(t, out.Reasoning)
	assert.False(t, out.Reasoning.Empty())

	for _, sec := range reportSections {
		assert.Contains(t, out.Draft, "## "+sec)
	}
	assert.Greater(t, out.QualityScore, qualityFloor)
	assert.Zero(t, out.RetryCount)

	// every node timed, progress monotonically non-decreasing to 1.0
	assert.Len(t, out.Timings, 11)
	require.NotEmpty(t, events)
	last := 0.0
	for _, e := range events {
		assert.GreaterOrEqual(t, e.Progress, last)
		last = e.Progress
	}
	assert.Equal(t, 1.0, last)
}

func TestRunWidensSearchAtDeepDepth(t *testing.T) {
	lm := &scriptedLM{fn: answerByNode}
	search := &stubSearch{hits: newsHits(3)}
	w := testWorkflow(lm, search, nil)

	query := "삼성전자와 SK하이닉스 HBM 경쟁력 비교 분석"
	_, err := w.Run(context.Background(), NewState(query, classify(query), intent.DepthComprehensive), nil)
	require.NoError(t, err)

	// primary query plus widening passes for the remaining keywords
	require.GreaterOrEqual(t, len(search.queries), 2)
	assert.Equal(t, "삼성전자", search.queries[0])
	assert.Contains(t, search.queries, "SK하이닉스")
}

func TestRunNoWideningAtStandardDepth(t *testing.T) {
	lm := &scriptedLM{fn: answerByNode}
	search := &stubSearch{hits: newsHits(3)}
	w := testWorkflow(lm, search, nil)

	query := "삼성전자 실적 분석"
	_, err := w.Run(context.Background(), NewState(query, classify(query), intent.DepthStandard), nil)
	require.NoError(t, err)
	assert.Len(t, search.queries, 1)
}

type fixedEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (f *fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	return f.vec, f.err
}
func (f *fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = f.vec
	}
	return out, f.err
}
func (f *fixedEmbedder) Dim() int { return len(f.vec) }

func TestRunSearchCarriesQueryVector(t *testing.T) {
	lm := &scriptedLM{fn: answerByNode}
	search := &stubSearch{hits: newsHits(5)}
	emb := &fixedEmbedder{vec: []float32{0.1, 0.2, 0.3}}
	w := testWorkflow(lm, search, nil)
	w.deps.Embedder = emb

	query := "삼성전자와 SK하이닉스 HBM 경쟁력 비교 분석"
	_, err := w.Run(context.Background(), NewState(query, classify(query), intent.DepthDeep), nil)
	require.NoError(t, err)

	// one embedding call feeds the primary and widening passes alike
	assert.Equal(t, 1, emb.calls)
	require.NotEmpty(t, search.vectors)
	for _, v := range search.vectors {
		assert.Equal(t, []float32{0.1, 0.2, 0.3}, v)
	}
}

func TestRunSearchFallsBackToLexicalWhenEmbedderFails(t *testing.T) {
	lm := &scriptedLM{fn: answerByNode}
	search := &stubSearch{hits: newsHits(5)}
	w := testWorkflow(lm, search, nil)
	w.deps.Embedder = &fixedEmbedder{err: assert.AnError}

	query := "삼성전자 실적 분석"
	out, err := w.Run(context.Background(), NewState(query, classify(query), intent.DepthStandard), nil)
	require.NoError(t, err)

	require.NotEmpty(t, search.vectors)
	assert.Nil(t, search.vectors[0])
	assert.NotEmpty(t, out.Diagnostics)
}

func TestRunDegradesOnLMParseFailure(t *testing.T) {
	lm := &scriptedLM{fn: func(prompt string) (string, error) {
		if strings.Contains(prompt, "보고서를 작성") || strings.Contains(prompt, "기준에 미달") {
			return "", assert.AnError
		}
		return "JSON이 아닌 응답", nil
	}}
	search := &stubSearch{hits: newsHits(4)}
	w := testWorkflow(lm, search, nil)

	query := "삼성전자 전망 분석 보고서"
	out, err := w.Run(context.Background(), NewState(query, classify(query), intent.DepthDeep), nil)
	require.NoError(t, err)

	// rule-based fallbacks carried the run to a mechanical report
	require.NotNil(t, out.QueryAnalysis)
	assert.NotEmpty(t, out.QueryAnalysis.Keywords)
	assert.Empty(t, out.Insights)
	assert.Contains(t, out.Draft, "## Executive Summary")
	assert.Contains(t, out.Draft, "## Investment Perspective")
	assert.NotEmpty(t, out.Diagnostics)
	assert.Equal(t, 1, out.RetryCount)
}

func TestRunRequiresLM(t *testing.T) {
	w := testWorkflow(nil, &stubSearch{}, nil)
	w.deps.LM = nil
	_, err := w.Run(context.Background(), NewState("q", intent.Result{}, intent.DepthStandard), nil)
	require.Error(t, err)
}

func TestAnalyzeAndPlanCached(t *testing.T) {
	c := cache.NewWithLayers(cache.NewL1(100, 8, time.Minute), nil, nil, nil)
	search := &stubSearch{hits: newsHits(5)}
	query := "삼성전자와 SK하이닉스 HBM 경쟁력 비교 분석"

	lm1 := &scriptedLM{fn: answerByNode}
	_, err := testWorkflow(lm1, search, c).Run(context.Background(),
		NewState(query, classify(query), intent.DepthDeep), nil)
	require.NoError(t, err)

	lm2 := &scriptedLM{fn: answerByNode}
	_, err = testWorkflow(lm2, &stubSearch{hits: newsHits(5)}, c).Run(context.Background(),
		NewState(query, classify(query), intent.DepthDeep), nil)
	require.NoError(t, err)

	// second run reuses the cached analysis and plan
	assert.Equal(t, lm1.calls-2, lm2.calls)
}

func TestScoreQualityWeights(t *testing.T) {
	assert.Zero(t, scoreQuality(&State{}))

	rich := &State{
		Diversity: 1.0,
		Insights: []Insight{
			{Confidence: 1, Evidence: []string{"a", "b", "c"}},
			{Confidence: 1, Evidence: []string{"a", "b", "c"}},
			{Confidence: 1, Evidence: []string{"a", "b", "c"}},
			{Confidence: 1, Evidence: []string{"a", "b", "c"}},
			{Confidence: 1, Evidence: []string{"a", "b", "c"}},
		},
		Relationships: []Relationship{{}, {}, {}, {}},
	}
	rich.Reasoning = &DeepReasoning{}
	rich.Reasoning.Why.Analysis = "분석"

	// no contexts: 0.3 weight lost on avg quality term, diversity ignored too
	got := scoreQuality(rich)
	assert.InDelta(t, 0.4+0.2+0.1, got, 1e-9)
}

func TestMissingPartsNamesEmptySections(t *testing.T) {
	st := &State{Draft: "## Executive Summary\n내용"}
	missing := missingParts(st)
	assert.Contains(t, missing, "핵심 인사이트")
	assert.Contains(t, missing, "Deep Reasoning 섹션")
	assert.NotContains(t, missing, "Executive Summary 섹션")
}

func TestComposeFallbackReportSections(t *testing.T) {
	st := &State{Snapshot: &backends.StockSnapshot{Name: "삼성전자", Symbol: "005930", Price: 71000}}
	body := composeFallbackReport(st)
	for _, sec := range reportSections {
		assert.Contains(t, body, "## "+sec)
	}
	assert.Contains(t, body, "005930")
}
