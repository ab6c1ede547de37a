package contexteng

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newsItem(title, body string, conf float64, age time.Duration) *Item {
	return &Item{
		Source:     SourceSearch,
		Type:       TypeNews,
		Content:    map[string]any{"title": title, "body": body},
		Timestamp:  time.Now().Add(-age),
		Confidence: conf,
	}
}

func TestRelevanceCascadeFloorAndWeights(t *testing.T) {
	e := New(nil)
	items := []*Item{
		{Source: SourceGraph, Type: TypeCompany, Content: map[string]any{"title": "삼성전자"}, Confidence: 0.5},
		{Source: SourceMarket, Type: TypeStock, Content: map[string]any{"title": "시세"}, Confidence: 0.3},
		{Source: SourceSearch, Type: TypeNews, Content: map[string]any{"title": "뉴스"}, Confidence: 0.1},
	}
	kept := e.relevanceCascade(items)

	// graph boosted (0.5*1.3), market demoted but above floor (0.3*0.8=0.24 < 0.3 -> dropped),
	// search 0.1 dropped
	require.Len(t, kept, 1)
	assert.Equal(t, SourceGraph, kept[0].Source)
	assert.InDelta(t, 0.65, kept[0].Confidence, 1e-9)
}

func TestRecencyDecayHalfLife(t *testing.T) {
	now := time.Now()
	fresh := recencyFactor(now, now)
	old := recencyFactor(now.Add(-60*24*time.Hour), now)
	assert.InDelta(t, 1.0, fresh, 1e-9)
	assert.InDelta(t, 0.5, old, 0.01)
}

func TestDeduplicateExactTitle(t *testing.T) {
	e := New(nil)
	a := newsItem("삼성전자 실적 발표", "짧은 본문", 0.8, time.Hour)
	b := newsItem("삼성전자  실적   발표", "훨씬 길고 풍부한 본문이라 품질 점수가 더 높게 계산되는 쪽입니다. 매출 79조원, 영업이익 10.4조원을 기록했고 전년 대비 12% 증가했습니다.", 0.8, time.Hour)
	out := e.deduplicate([]*Item{a, b})
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Body(), "79조원")
}

func TestDeduplicateSemanticWindow(t *testing.T) {
	e := New(nil)
	a := newsItem("HBM 수요 급증", "SK하이닉스 HBM3 출하량이 크게 늘었다는 소식입니다", 0.8, time.Hour)
	b := newsItem("HBM 수요 급증!", "SK하이닉스 HBM3 출하량이 크게 늘었다는 소식입니다!", 0.8, time.Hour)
	c := newsItem("2차전지 투자", "LG에너지솔루션이 북미 공장 증설을 발표했습니다", 0.8, time.Hour)
	out := e.deduplicate([]*Item{a, b, c})
	assert.Len(t, out, 2)
}

func TestFallbackQualityComponents(t *testing.T) {
	rich := &Item{Content: map[string]any{
		"title":   "삼성전자 3분기 실적 분석",
		"summary": "요약 제공",
		"body":    "삼성전자 매출은 79조원으로 전년 대비 12% 증가했으며 영업이익도 늘었다. " + string(make([]rune, 0)),
	}}
	poor := &Item{Content: map[string]any{"title": "무", "body": "짧다"}}

	assert.Greater(t, FallbackQuality(rich), FallbackQuality(poor))
	assert.LessOrEqual(t, FallbackQuality(rich), 1.0)
}

func TestRerankMonotonicity(t *testing.T) {
	// featured + synced + high-degree item must outrank an otherwise equal one
	plain := &Item{Source: SourceSearch, Type: TypeNews, Relevance: 0.5, Confidence: 0.5,
		Content: map[string]any{"title": "기사 제목", "body": "본문"}, HasQuality: true, QualityScore: 0.5}
	hybrid := &Item{Source: SourceSearch, Type: TypeNews, Relevance: 0.5, Confidence: 0.5,
		Content: map[string]any{"title": "기사 제목 둘", "body": "다른 본문"}, HasQuality: true, QualityScore: 0.5,
		IsFeatured: true, Synced: true, GraphDegree: 10}

	assert.Greater(t, rerankScore(hybrid, nil), rerankScore(plain, nil))
}

func TestRerankPlanAlignment(t *testing.T) {
	plan := &PlanHints{PrimaryFocus: []string{"HBM"}, RequiredTypes: []ItemType{TypeFinancial}}
	onPlan := &Item{Source: SourceSearch, Type: TypeFinancial, Relevance: 0.5, Confidence: 0.5,
		Content: map[string]any{"title": "HBM 매출", "body": "HBM 관련 실적"}, HasQuality: true, QualityScore: 0.5}
	offPlan := &Item{Source: SourceSearch, Type: TypeNews, Relevance: 0.5, Confidence: 0.5,
		Content: map[string]any{"title": "무관한 기사", "body": "다른 주제"}, HasQuality: true, QualityScore: 0.5}

	assert.Greater(t, rerankScore(onPlan, plan), rerankScore(offPlan, plan))
	// alignment is capped at 0.20
	assert.LessOrEqual(t, rerankScore(onPlan, plan)-rerankScore(onPlan, nil), 0.20+1e-9)
}

func TestSequencingOrder(t *testing.T) {
	items := []*Item{
		{Source: SourceMarket, Type: TypeStock, Content: map[string]any{"title": "시세"}},
		{Source: SourceSearch, Type: TypeNews, Content: map[string]any{"title": "뉴스"}},
		{Source: SourceSearch, Type: TypeAnalysis, Content: map[string]any{"title": "분석"}},
		{Source: SourceGraph, Type: TypeCompany, Content: map[string]any{"title": "회사"}},
	}
	out := sequence(items, "질의")
	assert.Equal(t, TypeCompany, out[0].Type)
	assert.Equal(t, TypeNews, out[1].Type)
	assert.Equal(t, TypeAnalysis, out[2].Type)
	assert.Equal(t, TypeStock, out[3].Type)
}

func TestProcessPrunesToThirty(t *testing.T) {
	e := New(nil)
	var items []*Item
	for i := 0; i < 60; i++ {
		items = append(items, newsItem(
			uniqueTitle(i), uniqueBody(i), 0.9, time.Duration(i)*time.Hour))
	}
	res := e.Process(context.Background(), "반도체 시장", items, nil)
	assert.LessOrEqual(t, len(res.Items), 30)
	assert.Greater(t, res.Diversity, 0.0)
}

func TestDiversityDegenerate(t *testing.T) {
	e := New(nil)
	assert.Equal(t, 1.0, e.diversity(nil))
	one := []*Item{newsItem("하나", "본문", 0.9, 0)}
	assert.Equal(t, 1.0, e.diversity(one))
}

func TestCrossValidateDepthCaps(t *testing.T) {
	var items []*Item
	for i := 0; i < 100; i++ {
		items = append(items, newsItem(uniqueTitle(i), uniqueBody(i), 0.9, 0))
	}
	kept, _ := CrossValidate(items, "shallow")
	assert.Len(t, kept, 20)
	kept, _ = CrossValidate(items, "deep")
	assert.Len(t, kept, 80)
	kept, _ = CrossValidate(items, "bogus")
	assert.Len(t, kept, 40)
}

func TestCrossValidateDropsLowConfidence(t *testing.T) {
	items := []*Item{
		newsItem("제목 하나", "본문", 0.9, 0),
		newsItem("제목 둘", "본문", 0.1, 0),
	}
	kept, _ := CrossValidate(items, "standard")
	assert.Len(t, kept, 1)
}

func TestCrossValidateFlagsContradiction(t *testing.T) {
	a := newsItem("실적 기사 A", "삼성전자 매출 79조 기록", 0.9, 0)
	b := newsItem("실적 기사 B", "삼성전자 매출 5000억 기록", 0.9, 0)
	kept, diags := CrossValidate([]*Item{a, b}, "standard")
	require.Len(t, kept, 2)
	require.NotEmpty(t, diags)
	assert.Contains(t, diags[0], "매출")
	assert.Less(t, a.Confidence, 0.9)
}

func uniqueTitle(i int) string {
	subjects := []string{"반도체", "배터리", "자동차", "게임", "바이오", "금융"}
	return subjects[i%len(subjects)] + " 시장 동향 " + string(rune('가'+i))
}

func uniqueBody(i int) string {
	return "서로 다른 내용의 본문 " + string(rune('가'+i)) + " 기업 동향과 시장 흐름에 대한 상세한 서술이 이어집니다"
}
