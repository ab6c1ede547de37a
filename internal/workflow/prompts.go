package workflow

import (
	"fmt"
	"strings"

	"github.com/nuri428/ontology-chat/internal/contexteng"
)

const analystSystem = "당신은 한국 주식 시장 전문 애널리스트다. 근거 없는 수치를 만들지 말고, 주어진 자료 안에서만 답하라."

func analyzePrompt(query string) string {
	return fmt.Sprintf(`다음 질문을 분석해 JSON으로만 답하라.

질문: %s

형식:
{"keywords": [...], "entities": [...], "complexity": "simple|moderate|complex",
 "analysis_requirements": [...], "focus_areas": [...],
 "expected_output_type": "brief|standard|report"}`, query)
}

func planPrompt(query string, qa *QueryAnalysis, depth string) string {
	return fmt.Sprintf(`질문과 분석 결과를 바탕으로 %s 수준의 분석 계획을 JSON으로만 답하라.

질문: %s
핵심 키워드: %s
주요 대상: %s

형식:
{"primary_focus": [...], "comparison_axes": [...],
 "required_data_types": ["news"|"financial"|"stock"|"event"|"company"],
 "key_questions": [...], "approach": "..."}`,
		depth, query,
		strings.Join(qa.Keywords, ", "),
		strings.Join(qa.Entities, ", "))
}

func insightsPrompt(query, digest string) string {
	return fmt.Sprintf(`아래 수집 자료에서 질문에 답하는 핵심 인사이트를 도출해 JSON으로만 답하라.
각 인사이트의 evidence에는 자료 번호([1], [3] 형식)를 넣어라.

질문: %s

자료:
%s

형식:
{"insights": [{"title": "...", "type": "quantitative|qualitative|temporal|comparative",
 "finding": "...", "evidence": ["[1] ..."], "significance": "...", "confidence": 0.0}]}`,
		query, digest)
}

func relationshipsPrompt(query string, entities []string, digest string) string {
	return fmt.Sprintf(`아래 자료에서 대상 간 관계를 추출해 JSON으로만 답하라.

질문: %s
대상: %s

자료:
%s

형식:
{"relationships": [{"kind": "news-entity|financial-news|event-market|supply-chain|competitive",
 "entities": [...], "description": "...", "impact": "high|medium|low", "implication": "..."}]}`,
		query, strings.Join(entities, ", "), digest)
}

func reasoningPrompt(query string, insights []Insight) string {
	var sb strings.Builder
	for _, in := range insights {
		fmt.Fprintf(&sb, "- %s: %s\n", in.Title, in.Finding)
	}
	return fmt.Sprintf(`아래 인사이트를 바탕으로 심층 추론을 JSON으로만 답하라.

질문: %s

인사이트:
%s
형식:
{"why": {"causes": [...], "analysis": "..."},
 "how": {"mechanisms": [...]},
 "what_if": {"scenarios": [{"scenario": "...", "probability": 0.0, "impact": "..."}]},
 "so_what": {"investor_implications": "...", "actionable": "..."}}`, query, sb.String())
}

// reportSections are mandatory in every synthesized report, in this order.
var reportSections = []string{
	"Executive Summary",
	"Market Context",
	"Key Findings",
	"Relationship & Competitive Analysis",
	"Deep Reasoning",
	"Investment Perspective",
}

func synthesizePrompt(st *State, digest string) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("질문: %s\n", st.Query))
	if len(st.Insights) > 0 {
		var sb strings.Builder
		for _, in := range st.Insights {
			fmt.Fprintf(&sb, "- [%s] %s: %s (근거: %s)\n",
				in.Type, in.Title, in.Finding, strings.Join(in.Evidence, "; "))
		}
		parts = append(parts, "인사이트:\n"+sb.String())
	}
	if len(st.Relationships) > 0 {
		var sb strings.Builder
		for _, r := range st.Relationships {
			fmt.Fprintf(&sb, "- [%s/%s] %s: %s\n",
				r.Kind, r.Impact, strings.Join(r.Entities, "↔"), r.Description)
		}
		parts = append(parts, "관계 분석:\n"+sb.String())
	}
	if st.Reasoning != nil && !st.Reasoning.Empty() {
		var sb strings.Builder
		if st.Reasoning.Why.Analysis != "" {
			fmt.Fprintf(&sb, "원인 분석: %s\n", st.Reasoning.Why.Analysis)
		}
		for _, s := range st.Reasoning.WhatIf.Scenarios {
			fmt.Fprintf(&sb, "시나리오(%.0f%%): %s - %s\n", s.Probability*100, s.Scenario, s.Impact)
		}
		if st.Reasoning.SoWhat.InvestorImplications != "" {
			fmt.Fprintf(&sb, "투자 시사점: %s\n", st.Reasoning.SoWhat.InvestorImplications)
		}
		parts = append(parts, "심층 추론:\n"+sb.String())
	}
	parts = append(parts, "참고 자료:\n"+digest)

	return fmt.Sprintf(`아래 분석 결과를 종합해 한국어 마크다운 보고서를 작성하라.
반드시 다음 섹션을 이 순서대로 "## 섹션명" 형식으로 포함하라:
%s

수치를 인용할 때는 자료 번호를 함께 표기하라. 자료에 없는 수치는 쓰지 마라.

%s`, "## "+strings.Join(reportSections, "\n## "), strings.Join(parts, "\n"))
}

func enhancePrompt(query, draft string, missing []string) string {
	return fmt.Sprintf(`아래 보고서 초안의 품질이 기준에 미달한다. 부족한 부분: %s.
같은 섹션 구조를 유지하면서 근거 인용을 보강하고 빈 섹션을 채워 다시 작성하라.

질문: %s

초안:
%s`, strings.Join(missing, ", "), query, draft)
}

// digest renders the validated context items as numbered evidence lines the
// prompts can cite back.
func digest(items []*contexteng.Item, maxItems, maxRunes int) string {
	var sb strings.Builder
	for i, it := range items {
		if i >= maxItems {
			break
		}
		line := it.Title()
		if body := it.Body(); body != "" {
			if line != "" {
				line += " - "
			}
			line += body
		}
		line = strings.Join(strings.Fields(line), " ")
		if r := []rune(line); len(r) > maxRunes {
			line = string(r[:maxRunes]) + "…"
		}
		fmt.Fprintf(&sb, "[%d] %s\n", i+1, line)
	}
	if sb.Len() == 0 {
		return "(수집된 자료 없음)"
	}
	return sb.String()
}
