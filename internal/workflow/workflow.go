package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nuri428/ontology-chat/internal/backends"
	"github.com/nuri428/ontology-chat/internal/cache"
	"github.com/nuri428/ontology-chat/internal/contexteng"
	"github.com/nuri428/ontology-chat/internal/errkind"
	"github.com/nuri428/ontology-chat/internal/fetch"
	"github.com/nuri428/ontology-chat/internal/graphquery"
	"github.com/nuri428/ontology-chat/internal/telemetry"
)

const (
	// lmNodeBudget caps any single LM call; the run deadline still wins when
	// less time remains.
	lmNodeBudget = 45 * time.Second

	planCacheTTL = 24 * time.Hour

	qualityFloor = 0.4
	maxWidening  = 3

	digestItems = 20
	digestRunes = 240
)

// Event is one progress notification, suitable for SSE streaming.
type Event struct {
	Node     string  `json:"node"`
	Progress float64 `json:"progress"`
	Message  string  `json:"message,omitempty"`
}

// Notify receives progress events; nil disables notifications.
type Notify func(Event)

// nodeProgress maps each node to its cumulative progress fraction.
var nodeProgress = map[string]float64{
	"analyze_query":             0.08,
	"plan_analysis":             0.12,
	"collect_parallel_data":     0.18,
	"apply_context_engineering": 0.25,
	"cross_validate_contexts":   0.30,
	"generate_insights":         0.45,
	"analyze_relationships":     0.60,
	"deep_reasoning":            0.75,
	"synthesize_report":         0.85,
	"quality_check":             0.95,
	"enhance_report":            1.00,
}

// Deps wires the workflow to retrieval, the LM, and bookkeeping.
type Deps struct {
	Fetcher  *fetch.Fetcher
	Engineer *contexteng.Engineer
	Cypher   *graphquery.Builder
	LM       backends.LM
	Embedder backends.Embedder
	Cache    *cache.MultiLevel
	Metrics  *telemetry.Metrics
	Tracer   telemetry.Tracer
	Lookback time.Duration
}

// Workflow runs the deep analysis pipeline.
type Workflow struct {
	deps Deps
	now  func() time.Time
}

// New builds a workflow. LM and Fetcher are required; Cache, Metrics, and
// Tracer may be nil.
func New(deps Deps) *Workflow {
	return &Workflow{deps: deps, now: time.Now}
}

// Run executes all nodes in order. It returns an error only when the run as a
// whole cannot produce a report (context expired before synthesis, or no LM);
// individual node failures degrade into diagnostics.
func (w *Workflow) Run(ctx context.Context, st *State, notify Notify) (*State, error) {
	if w.deps.LM == nil {
		return nil, errkind.Wrap(errkind.ErrBackendUnavailable, "deep analysis requires a language model")
	}

	type node struct {
		name string
		fn   func(context.Context, *State) error
	}
	nodes := []node{
		{"analyze_query", w.analyzeQuery},
		{"plan_analysis", w.planAnalysis},
		{"collect_parallel_data", w.collectData},
		{"apply_context_engineering", w.engineerContext},
		{"cross_validate_contexts", w.crossValidate},
		{"generate_insights", w.generateInsights},
		{"analyze_relationships", w.analyzeRelationships},
		{"deep_reasoning", w.deepReasoning},
		{"synthesize_report", w.synthesizeReport},
		{"quality_check", w.qualityCheck},
		{"enhance_report", w.enhanceReport},
	}

	for _, n := range nodes {
		if err := ctx.Err(); err != nil {
			return nil, errkind.FromContext(err)
		}
		start := w.now()
		err := n.fn(ctx, st)
		elapsed := time.Since(start)
		st.Timings[n.name] = elapsed
		if w.deps.Metrics != nil {
			w.deps.Metrics.StageDuration.WithLabelValues(n.name).Observe(elapsed.Seconds())
		}
		if w.deps.Tracer != nil {
			w.deps.Tracer.Record(ctx, n.name, map[string]string{
				"elapsed": elapsed.String(),
			})
		}
		if err != nil {
			// Nothing to report without a synthesized body; every
			// earlier node degrades instead of failing.
			return nil, err
		}
		emit(notify, n.name, messageFor(n.name, st))
		log.Debug().Str("node", n.name).Dur("elapsed", elapsed).Msg("workflow node completed")
	}

	if w.deps.Metrics != nil {
		w.deps.Metrics.WorkflowQuality.Observe(st.QualityScore)
	}
	return st, nil
}

func emit(notify Notify, node, msg string) {
	if notify == nil {
		return
	}
	notify(Event{Node: node, Progress: nodeProgress[node], Message: msg})
}

func messageFor(node string, st *State) string {
	switch node {
	case "collect_parallel_data":
		return fmt.Sprintf("%d개 자료 수집", len(st.Contexts))
	case "cross_validate_contexts":
		return fmt.Sprintf("%d개 자료 검증", len(st.Contexts))
	case "generate_insights":
		return fmt.Sprintf("인사이트 %d건", len(st.Insights))
	case "quality_check":
		return fmt.Sprintf("품질 %.2f", st.QualityScore)
	}
	return ""
}

// generate runs one LM call under the per-node budget. The nested timeout
// makes the effective deadline min(budget, remaining run time).
func (w *Workflow) generate(ctx context.Context, system, prompt string, opts backends.GenOptions) (string, error) {
	lmCtx, cancel := context.WithTimeout(ctx, lmNodeBudget)
	defer cancel()
	return w.deps.LM.Generate(lmCtx, system, prompt, opts)
}

// cachedJSON loads a cached JSON payload into dst, or runs produce and caches
// its result. Cache misses and failures never fail the node.
func (w *Workflow) cachedJSON(ctx context.Context, key string, dst any, produce func() (any, error)) error {
	if w.deps.Cache != nil {
		if raw, ok := w.deps.Cache.Get(ctx, key); ok {
			if json.Unmarshal(raw, dst) == nil {
				return nil
			}
			w.deps.Cache.Delete(ctx, key)
		}
	}
	v, err := produce()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err == nil {
		if w.deps.Cache != nil {
			w.deps.Cache.Set(ctx, key, raw, planCacheTTL)
		}
		// produce returns the same concrete type dst points at
		_ = json.Unmarshal(raw, dst)
	}
	return nil
}

// analyzeQuery asks the chat model for a structured reading of the query,
// falling back to the rule-based classification.
func (w *Workflow) analyzeQuery(ctx context.Context, st *State) error {
	key := cache.Fingerprint("analysis", st.Query, nil, w.now())
	var qa QueryAnalysis
	err := w.cachedJSON(ctx, key, &qa, func() (any, error) {
		text, err := w.generate(ctx, analystSystem, analyzePrompt(st.Query),
			backends.GenOptions{JSONMode: true, MaxTokens: 512})
		if err != nil {
			return nil, err
		}
		var out QueryAnalysis
		if !decodeObject(text, &out) {
			return nil, errkind.Wrap(errkind.ErrParse, "query analysis: no JSON object in output")
		}
		return out, nil
	})
	if err != nil || len(qa.Keywords) == 0 {
		if err != nil {
			st.diag("query analysis fell back to rules: " + err.Error())
		}
		qa = w.fallbackAnalysis(st)
	}
	st.QueryAnalysis = &qa
	return nil
}

func (w *Workflow) fallbackAnalysis(st *State) QueryAnalysis {
	entities := append([]string{}, st.Intent.Entities.Companies...)
	entities = append(entities, st.Intent.Entities.Products...)
	complexity := "moderate"
	switch st.Depth {
	case "shallow":
		complexity = "simple"
	case "deep", "comprehensive":
		complexity = "complex"
	}
	keywords := st.Intent.Keywords
	if len(keywords) == 0 {
		keywords = []string{strings.TrimSpace(st.Query)}
	}
	return QueryAnalysis{
		Keywords:           keywords,
		Entities:           entities,
		Complexity:         complexity,
		FocusAreas:         entities,
		ExpectedOutputType: "report",
	}
}

// planAnalysis turns the query analysis into a retrieval and reporting plan.
func (w *Workflow) planAnalysis(ctx context.Context, st *State) error {
	key := cache.Fingerprint("plan", st.Query, map[string]any{"depth": string(st.Depth)}, w.now())
	var plan AnalysisPlan
	err := w.cachedJSON(ctx, key, &plan, func() (any, error) {
		text, err := w.generate(ctx, analystSystem,
			planPrompt(st.Query, st.QueryAnalysis, string(st.Depth)),
			backends.GenOptions{JSONMode: true, MaxTokens: 512})
		if err != nil {
			return nil, err
		}
		var out AnalysisPlan
		if !decodeObject(text, &out) {
			return nil, errkind.Wrap(errkind.ErrParse, "analysis plan: no JSON object in output")
		}
		return out, nil
	})
	if err != nil || len(plan.PrimaryFocus) == 0 {
		if err != nil {
			st.diag("analysis plan fell back to defaults: " + err.Error())
		}
		plan = AnalysisPlan{
			PrimaryFocus:      st.QueryAnalysis.Entities,
			RequiredDataTypes: []string{"news", "company"},
			Approach:          "collected evidence first, then reasoning",
		}
		if len(plan.PrimaryFocus) == 0 {
			plan.PrimaryFocus = st.QueryAnalysis.Keywords
		}
	}
	st.Plan = &plan
	return nil
}

// embedQuery vectorizes the user query so the search leg runs hybrid. A dead
// embedder degrades to lexical-only retrieval instead of failing the node.
func (w *Workflow) embedQuery(ctx context.Context, st *State) []float32 {
	if w.deps.Embedder == nil {
		return nil
	}
	embCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	vec, err := w.deps.Embedder.Embed(embCtx, st.Query)
	if err != nil {
		st.diag("query embedding failed, lexical search only: " + err.Error())
		return nil
	}
	return vec
}

// collectData fans out across graph, search, and market, widening the search
// with extra keyword queries at deep and comprehensive depths.
func (w *Workflow) collectData(ctx context.Context, st *State) error {
	keywords := st.QueryAnalysis.Keywords
	primary := st.Query
	if len(keywords) > 0 {
		primary = keywords[0]
	}

	vec := w.embedQuery(ctx, st)
	req := fetch.Request{
		Search: &fetch.SearchRequest{Query: backends.SearchQuery{
			Text:         primary,
			Vector:       vec,
			Size:         30,
			LookbackDays: int(w.deps.Lookback.Hours() / 24),
		}},
	}
	if w.deps.Cypher != nil {
		if q, err := w.deps.Cypher.Keyword(primary, 30, w.deps.Lookback, w.now()); err == nil {
			req.Graph = &fetch.GraphRequest{Cypher: q.Cypher, Params: q.Params}
		}
	}
	if st.Symbol != "" {
		req.Market = &fetch.MarketRequest{Symbol: st.Symbol}
	}

	res := w.deps.Fetcher.Do(ctx, req)
	st.GraphRows = res.GraphRows
	st.Snapshot = res.Snapshot
	st.Partial = res.Partial(req)
	items := fetch.ToItems(res)

	// widen with the remaining keywords once the primary pass is in
	if st.Depth == "deep" || st.Depth == "comprehensive" {
		for i, kw := range keywords[1:] {
			if i >= maxWidening || ctx.Err() != nil {
				break
			}
			wreq := fetch.Request{Search: &fetch.SearchRequest{Query: backends.SearchQuery{
				Text:         kw,
				Vector:       vec,
				Size:         15,
				LookbackDays: int(w.deps.Lookback.Hours() / 24),
			}}}
			wres := w.deps.Fetcher.Do(ctx, wreq)
			items = append(items, fetch.ToItems(wres)...)
		}
	}

	if len(items) == 0 {
		st.diag("no data collected from any backend")
	}
	st.Contexts = items
	return nil
}

func (w *Workflow) engineerContext(ctx context.Context, st *State) error {
	hints := &contexteng.PlanHints{
		PrimaryFocus:  st.Plan.PrimaryFocus,
		RequiredTypes: requiredTypes(st.Plan.RequiredDataTypes),
	}
	res := w.deps.Engineer.Process(ctx, st.Query, st.Contexts, hints)
	st.Contexts = res.Items
	st.Diversity = res.Diversity
	return nil
}

func requiredTypes(names []string) []contexteng.ItemType {
	var out []contexteng.ItemType
	for _, n := range names {
		switch strings.ToLower(strings.TrimSpace(n)) {
		case "news":
			out = append(out, contexteng.TypeNews)
		case "financial":
			out = append(out, contexteng.TypeFinancial)
		case "stock":
			out = append(out, contexteng.TypeStock)
		case "event":
			out = append(out, contexteng.TypeEvent)
		case "company":
			out = append(out, contexteng.TypeCompany)
		case "analysis":
			out = append(out, contexteng.TypeAnalysis)
		}
	}
	return out
}

func (w *Workflow) crossValidate(_ context.Context, st *State) error {
	kept, diags := contexteng.CrossValidate(st.Contexts, string(st.Depth))
	st.Contexts = kept
	st.Diagnostics = append(st.Diagnostics, diags...)
	return nil
}

func (w *Workflow) generateInsights(ctx context.Context, st *State) error {
	text, err := w.generate(ctx, analystSystem,
		insightsPrompt(st.Query, digest(st.Contexts, digestItems, digestRunes)),
		backends.GenOptions{JSONMode: true, MaxTokens: 1536})
	if err != nil {
		st.diag("insight generation failed: " + err.Error())
		return nil
	}
	var out struct {
		Insights []Insight `json:"insights"`
	}
	if !decodeObject(text, &out) {
		st.diag("insight generation produced no parseable JSON")
		return nil
	}
	for i := range out.Insights {
		if out.Insights[i].Confidence < 0 {
			out.Insights[i].Confidence = 0
		}
		if out.Insights[i].Confidence > 1 {
			out.Insights[i].Confidence = 1
		}
	}
	st.Insights = out.Insights
	return nil
}

func (w *Workflow) analyzeRelationships(ctx context.Context, st *State) error {
	entities := st.QueryAnalysis.Entities
	if len(entities) < 2 && len(st.Contexts) == 0 {
		return nil
	}
	text, err := w.generate(ctx, analystSystem,
		relationshipsPrompt(st.Query, entities, digest(st.Contexts, digestItems, digestRunes)),
		backends.GenOptions{JSONMode: true, MaxTokens: 1024})
	if err != nil {
		st.diag("relationship analysis failed: " + err.Error())
		return nil
	}
	var out struct {
		Relationships []Relationship `json:"relationships"`
	}
	if !decodeObject(text, &out) {
		st.diag("relationship analysis produced no parseable JSON")
		return nil
	}
	st.Relationships = out.Relationships
	return nil
}

func (w *Workflow) deepReasoning(ctx context.Context, st *State) error {
	text, err := w.generate(ctx, analystSystem,
		reasoningPrompt(st.Query, st.Insights),
		backends.GenOptions{JSONMode: true, MaxTokens: 1536})
	if err != nil {
		st.diag("deep reasoning failed: " + err.Error())
		return nil
	}
	var dr DeepReasoning
	if !decodeReasoning(text, &dr) {
		st.diag("deep reasoning produced no parseable JSON")
		return nil
	}
	st.Reasoning = &dr
	return nil
}

// synthesizeReport is the one node that must produce something: when the
// report model fails, a mechanical composition of the earlier nodes stands in.
func (w *Workflow) synthesizeReport(ctx context.Context, st *State) error {
	text, err := w.generate(ctx, analystSystem,
		synthesizePrompt(st, digest(st.Contexts, digestItems, digestRunes)),
		backends.GenOptions{Model: w.deps.LM.ReportModel(), Temperature: 0.3, MaxTokens: 4096})
	if err == nil && strings.TrimSpace(text) != "" {
		st.Draft = text
		return nil
	}
	if err != nil {
		st.diag("report synthesis failed: " + err.Error())
	}
	st.Draft = composeFallbackReport(st)
	return nil
}

// composeFallbackReport renders the mandated sections directly from state so
// a dead report model still yields a structured answer.
func composeFallbackReport(st *State) string {
	var sb strings.Builder
	sb.WriteString("## Executive Summary\n\n")
	if len(st.Insights) > 0 {
		sb.WriteString(st.Insights[0].Finding + "\n\n")
	} else {
		sb.WriteString("수집된 자료가 충분하지 않아 요약을 생성하지 못했습니다.\n\n")
	}

	sb.WriteString("## Market Context\n\n")
	if st.Snapshot != nil {
		fmt.Fprintf(&sb, "%s(%s) 현재가 %.0f, 등락률 %+.2f%%.\n\n",
			st.Snapshot.Name, st.Snapshot.Symbol, st.Snapshot.Price, st.Snapshot.ChangePct)
	} else {
		fmt.Fprintf(&sb, "최근 %d건의 자료를 기준으로 분석했습니다.\n\n", len(st.Contexts))
	}

	sb.WriteString("## Key Findings\n\n")
	if len(st.Insights) == 0 {
		sb.WriteString("- 도출된 인사이트가 없습니다.\n")
	}
	for _, in := range st.Insights {
		fmt.Fprintf(&sb, "- **%s**: %s\n", in.Title, in.Finding)
	}
	sb.WriteString("\n## Relationship & Competitive Analysis\n\n")
	if len(st.Relationships) == 0 {
		sb.WriteString("식별된 관계가 없습니다.\n")
	}
	for _, r := range st.Relationships {
		fmt.Fprintf(&sb, "- %s: %s\n", strings.Join(r.Entities, " ↔ "), r.Description)
	}

	sb.WriteString("\n## Deep Reasoning\n\n")
	if st.Reasoning != nil && st.Reasoning.Why.Analysis != "" {
		sb.WriteString(st.Reasoning.Why.Analysis + "\n")
	} else {
		sb.WriteString("심층 추론 결과가 없습니다.\n")
	}

	sb.WriteString("\n## Investment Perspective\n\n")
	if st.Reasoning != nil && st.Reasoning.SoWhat.InvestorImplications != "" {
		sb.WriteString(st.Reasoning.SoWhat.InvestorImplications + "\n")
	} else {
		sb.WriteString("투자 판단에 참고할 근거가 부족합니다.\n")
	}
	return sb.String()
}

// qualityCheck scores the finished run.
func (w *Workflow) qualityCheck(_ context.Context, st *State) error {
	st.QualityScore = scoreQuality(st)
	return nil
}

// enhanceReport retries synthesis once when the score came in below the
// floor; a second failure ships the draft as-is.
func (w *Workflow) enhanceReport(ctx context.Context, st *State) error {
	if st.QualityScore >= qualityFloor || st.RetryCount > 0 {
		return nil
	}
	st.RetryCount++

	text, err := w.generate(ctx, analystSystem,
		enhancePrompt(st.Query, st.Draft, missingParts(st)),
		backends.GenOptions{Model: w.deps.LM.ReportModel(), Temperature: 0.3, MaxTokens: 4096})
	if err != nil || strings.TrimSpace(text) == "" {
		if err != nil {
			st.diag("report enhancement failed: " + err.Error())
		}
		return nil
	}
	st.Draft = text
	st.QualityScore = scoreQuality(st)
	return nil
}

// scoreQuality blends context quality (30%), insight quality (40%),
// relationship coverage (20%), and reasoning presence (10%).
func scoreQuality(st *State) float64 {
	ctxScore := 0.0
	if n := len(st.Contexts); n > 0 {
		var sum float64
		for _, it := range st.Contexts {
			sum += contexteng.EnsureQuality(it)
		}
		ctxScore = (sum/float64(n))*0.6 + st.Diversity*0.4
	}

	insScore := 0.0
	if n := len(st.Insights); n > 0 {
		countNorm := float64(n) / 5.0
		if countNorm > 1 {
			countNorm = 1
		}
		var confSum, evSum float64
		for _, in := range st.Insights {
			confSum += in.Confidence
			evSum += float64(len(in.Evidence))
		}
		evDensity := evSum / float64(n) / 3.0
		if evDensity > 1 {
			evDensity = 1
		}
		insScore = countNorm*0.4 + (confSum/float64(n))*0.3 + evDensity*0.3
	}

	relScore := float64(len(st.Relationships)) / 4.0
	if relScore > 1 {
		relScore = 1
	}

	reasonScore := 0.0
	if st.Reasoning != nil && !st.Reasoning.Empty() {
		reasonScore = 1
	}

	return ctxScore*0.3 + insScore*0.4 + relScore*0.2 + reasonScore*0.1
}

func missingParts(st *State) []string {
	var missing []string
	if len(st.Insights) == 0 {
		missing = append(missing, "핵심 인사이트")
	}
	if len(st.Relationships) == 0 {
		missing = append(missing, "관계 분석")
	}
	if st.Reasoning == nil || st.Reasoning.Empty() {
		missing = append(missing, "심층 추론")
	}
	for _, sec := range reportSections {
		if !strings.Contains(st.Draft, "## "+sec) {
			missing = append(missing, sec+" 섹션")
		}
	}
	if len(missing) == 0 {
		missing = append(missing, "근거 인용")
	}
	return missing
}
