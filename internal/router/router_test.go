package router

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuri428/ontology-chat/internal/backends"
	"github.com/nuri428/ontology-chat/internal/config"
	"github.com/nuri428/ontology-chat/internal/contexteng"
	"github.com/nuri428/ontology-chat/internal/errkind"
	"github.com/nuri428/ontology-chat/internal/fetch"
	"github.com/nuri428/ontology-chat/internal/handlers"
	"github.com/nuri428/ontology-chat/internal/workflow"
)

type fakeHandler struct {
	out   *handlers.Output
	err   error
	calls int
}

func (f *fakeHandler) Handle(ctx context.Context, in handlers.Input) (*handlers.Output, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.out != nil {
		return f.out, nil
	}
	return &handlers.Output{Type: string(in.Result.Intent), Markdown: "## " + in.Query}, nil
}

type stubGraph struct{}

func (stubGraph) Query(ctx context.Context, cypher string, params map[string]any) ([]backends.GraphRow, error) {
	return nil, nil
}
func (stubGraph) Ping(ctx context.Context) error  { return nil }
func (stubGraph) Close(ctx context.Context) error { return nil }

type stubSearch struct{}

func (stubSearch) Hybrid(ctx context.Context, q backends.SearchQuery) ([]backends.NewsHit, error) {
	return []backends.NewsHit{{
		ID: "1", Title: "SK하이닉스 HBM3 공급 확대", Content: "본문",
		URL: "https://news.example.com/1", CreatedAt: time.Now(),
	}}, nil
}
func (stubSearch) Ping(ctx context.Context) error { return nil }

type stubMarket struct{}

func (stubMarket) Quote(ctx context.Context, symbol string) (*backends.StockSnapshot, error) {
	return &backends.StockSnapshot{Symbol: symbol, Name: "종목", AsOf: time.Now()}, nil
}
func (stubMarket) SearchSymbols(ctx context.Context, name string) ([]backends.Symbol, error) {
	return []backends.Symbol{{Code: "005930", Name: name}}, nil
}

type cannedLM struct{ calls int }

func (c *cannedLM) Generate(ctx context.Context, system, prompt string, opts backends.GenOptions) (string, error) {
	c.calls++
	switch {
	case strings.Contains(prompt, "다음 질문을 분석해"):
		return `{"keywords":["삼성전자","HBM"],"entities":["삼성전자"],"complexity":"complex"}`, nil
	case strings.Contains(prompt, "분석 계획"):
		return `{"primary_focus":["삼성전자"],"required_data_types":["news"]}`, nil
	case strings.Contains(prompt, "핵심 인사이트를 도출"):
		return `{"insights":[{"title":"t","type":"qualitative","finding":"f","evidence":["[1]"],"confidence":0.8}]}`, nil
	case strings.Contains(prompt, "관계를 추출"):
		return `{"relationships":[{"kind":"competitive","entities":["a","b"],"description":"d","impact":"high"}]}`, nil
	case strings.Contains(prompt, "심층 추론을 JSON"):
		return `{"why":{"causes":["c"],"analysis":"a"},"so_what":{"investor_implications":"i"}}`, nil
	default:
		return "## Executive Summary\n요약\n## Market Context\n맥락\n## Key Findings\n발견\n" +
			"## Relationship & Competitive Analysis\n관계\n## Deep Reasoning\n추론\n## Investment Perspective\n관점\n", nil
	}
}

func (c *cannedLM) ChatModel() string   { return "chat" }
func (c *cannedLM) ReportModel() string { return "report" }

func newTestRouter(t *testing.T, lm backends.LM) (*Router, *fakeHandler) {
	t.Helper()
	cfg := config.Default()
	fast := &fakeHandler{}
	deps := Deps{
		Config:  cfg,
		News:    fast,
		Stock:   fast,
		General: fast,
		Market:  stubMarket{},
	}
	if lm != nil {
		f := fetch.New(stubGraph{}, stubSearch{}, stubMarket{}, fetch.Guards{}, 8)
		deps.Deep = workflow.New(workflow.Deps{
			Fetcher:  f,
			Engineer: contexteng.New(nil),
			LM:       lm,
			Lookback: 180 * 24 * time.Hour,
		})
	}
	return New(deps), fast
}

func TestRouteRejectsEmptyQuery(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	_, err := r.Route(context.Background(), Query{Text: "   "}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errkind.ErrValidation)
}

func TestRouteSimpleQueryStaysFast(t *testing.T) {
	r, fast := newTestRouter(t, &cannedLM{})
	resp, err := r.Route(context.Background(), Query{Text: "삼성전자 뉴스"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "fast_handler", resp.Meta.ProcessingMethod)
	assert.Equal(t, 1, fast.calls)
	assert.False(t, resp.Meta.FallbackUsed)
	assert.Nil(t, resp.Meta.QualityScore)
}

func TestRouteComplexQueryGoesDeep(t *testing.T) {
	r, fast := newTestRouter(t, &cannedLM{})
	resp, err := r.Route(context.Background(),
		Query{Text: "삼성전자와 SK하이닉스 HBM 경쟁력 비교 분석"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "deep_analysis", resp.Type)
	assert.Equal(t, "deep_workflow", resp.Meta.ProcessingMethod)
	require.NotNil(t, resp.Meta.QualityScore)
	assert.Zero(t, fast.calls)
	assert.GreaterOrEqual(t, resp.Meta.ComplexityScore, 0.85)
	assert.Contains(t, resp.Markdown, "Executive Summary")
}

func TestDeepMarkerForcesDeep(t *testing.T) {
	r, fast := newTestRouter(t, &cannedLM{})
	resp, err := r.Route(context.Background(), Query{Text: "삼성전자 심층 보고서"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "deep_workflow", resp.Meta.ProcessingMethod)
	assert.Zero(t, fast.calls)
}

func TestForceDeepFlag(t *testing.T) {
	r, _ := newTestRouter(t, &cannedLM{})
	resp, err := r.Route(context.Background(), Query{Text: "삼성전자 뉴스", ForceDeep: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, "deep_workflow", resp.Meta.ProcessingMethod)
}

func TestDeepFailureFallsBackToFast(t *testing.T) {
	// a router whose deep path cannot run at all still answers
	r, fast := newTestRouter(t, &cannedLM{})
	r.deps.Deep = workflow.New(workflow.Deps{}) // no LM
	resp, err := r.Route(context.Background(),
		Query{Text: "삼성전자와 SK하이닉스 HBM 경쟁력 비교 분석"}, nil)
	require.NoError(t, err)
	assert.True(t, resp.Meta.FallbackUsed)
	assert.Equal(t, "fast_handler", resp.Meta.ProcessingMethod)
	assert.Equal(t, 1, fast.calls)
}

func TestDeepAdmissionCapFallsBack(t *testing.T) {
	r, fast := newTestRouter(t, &cannedLM{})
	for i := 0; i < cap(r.deepSlots); i++ {
		r.deepSlots <- struct{}{}
	}
	resp, err := r.Route(context.Background(),
		Query{Text: "삼성전자와 SK하이닉스 HBM 경쟁력 비교 분석"}, nil)
	require.NoError(t, err)
	assert.True(t, resp.Meta.FallbackUsed)
	assert.Equal(t, 1, fast.calls)
}

func TestRouteDeepExplicitDepth(t *testing.T) {
	r, _ := newTestRouter(t, &cannedLM{})
	resp, err := r.RouteDeep(context.Background(),
		Query{Text: "삼성전자 HBM 전망", Depth: "comprehensive"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "comprehensive", resp.Meta.AnalysisDepth)
	assert.Equal(t, "deep_workflow", resp.Meta.ProcessingMethod)
}

func TestRouteDeepRejectsUnknownDepth(t *testing.T) {
	r, _ := newTestRouter(t, &cannedLM{})
	_, err := r.RouteDeep(context.Background(), Query{Text: "질문", Depth: "extreme"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errkind.ErrValidation)
}

func TestResolveSymbolOrder(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	ctx := context.Background()

	res := r.classifier.Classify("005930 분석")
	assert.Equal(t, "000660", r.resolveSymbol(ctx, Query{Symbol: "000660"}, res))
	assert.Equal(t, "005930", r.resolveSymbol(ctx, Query{}, res))

	res = r.classifier.Classify("삼성전자 분석")
	assert.Equal(t, "005930", r.resolveSymbol(ctx, Query{}, res))
}
