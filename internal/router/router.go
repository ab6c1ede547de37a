// Package router decides, per query, between the fast intent handlers and the
// deep analysis workflow, and guarantees a response: any deep failure falls
// back to the matching fast handler instead of surfacing an error.
package router

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nuri428/ontology-chat/internal/backends"
	"github.com/nuri428/ontology-chat/internal/config"
	"github.com/nuri428/ontology-chat/internal/degrade"
	"github.com/nuri428/ontology-chat/internal/errkind"
	"github.com/nuri428/ontology-chat/internal/handlers"
	"github.com/nuri428/ontology-chat/internal/intent"
	"github.com/nuri428/ontology-chat/internal/render"
	"github.com/nuri428/ontology-chat/internal/resilience"
	"github.com/nuri428/ontology-chat/internal/telemetry"
	"github.com/nuri428/ontology-chat/internal/workflow"
)

// deepMarkers push a query over the deep threshold regardless of its
// computed complexity.
var deepMarkers = []string{"상세히", "자세히", "보고서", "심층"}

// Query is one routed request.
type Query struct {
	Text      string
	UserID    string
	SessionID string
	ForceDeep bool

	// deep-analysis endpoint extras
	Depth        string
	Symbol       string
	LookbackDays int
}

// Deps wires the router to both paths and the health signals.
type Deps struct {
	Config   *config.Config
	News     handlers.Handler
	Stock    handlers.Handler
	General  handlers.Handler
	Deep     *workflow.Workflow
	Breakers *resilience.Registry
	Metrics  *telemetry.Metrics
	Market   backends.Market
}

// Router routes queries. Deep admission is a soft cap: when every deep slot
// is taken the query degrades to the fast path instead of queueing.
type Router struct {
	deps       Deps
	classifier *intent.Classifier
	deepSlots  chan struct{}
}

// New builds a router.
func New(deps Deps) *Router {
	slots := deps.Config.Router.MaxDeepInFlight
	if slots <= 0 {
		slots = 4
	}
	return &Router{
		deps:       deps,
		classifier: intent.NewClassifier(),
		deepSlots:  make(chan struct{}, slots),
	}
}

// Level reports the current degradation level from breaker states.
func (r *Router) Level() degrade.Level {
	if r.deps.Breakers == nil {
		return degrade.Full
	}
	return degrade.FromStates(r.deps.Breakers.States())
}

// Route answers one chat query, choosing the path by complexity.
func (r *Router) Route(ctx context.Context, q Query, notify workflow.Notify) (*render.Response, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, errkind.Wrap(errkind.ErrValidation, "query must not be empty")
	}
	start := time.Now()
	if r.deps.Metrics != nil {
		r.deps.Metrics.ActiveRequests.Inc()
		defer r.deps.Metrics.ActiveRequests.Dec()
	}

	res := r.classifier.Classify(text)
	force := q.ForceDeep || hasDeepMarker(text)
	score := intent.Complexity(text, res, force)
	depth := intent.DepthFor(score)
	level := r.Level()

	wantDeep := score >= r.deps.Config.Router.DeepThreshold && r.deps.Deep != nil
	if wantDeep && !level.DeepAllowed() {
		log.Warn().Str("level", level.String()).Msg("deep path disabled by degradation level")
		wantDeep = false
	}

	if wantDeep {
		resp, err := r.runDeep(ctx, text, res, depth, q, notify)
		if err == nil {
			resp.Meta.ComplexityScore = score
			r.finish(resp, res, start, "ok")
			return resp, nil
		}
		log.Warn().Err(err).Str("depth", string(depth)).Msg("deep analysis failed, falling back to fast path")
		if r.deps.Metrics != nil {
			r.deps.Metrics.DeepFallbacks.Inc()
		}
		resp, ferr := r.runFast(ctx, text, res, depth, score)
		if ferr != nil {
			return nil, ferr
		}
		resp.Meta.FallbackUsed = true
		r.finish(resp, res, start, "fallback")
		return resp, nil
	}

	resp, err := r.runFast(ctx, text, res, depth, score)
	if err != nil {
		if r.deps.Metrics != nil {
			r.deps.Metrics.RecordQuery(string(res.Intent), "error", time.Since(start))
		}
		return nil, err
	}
	r.finish(resp, res, start, "ok")
	return resp, nil
}

// RouteDeep serves the explicit deep-analysis endpoint. The caller picks the
// depth; failures still fall back to the fast path.
func (r *Router) RouteDeep(ctx context.Context, q Query, notify workflow.Notify) (*render.Response, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, errkind.Wrap(errkind.ErrValidation, "query must not be empty")
	}
	depth, ok := intent.ParseDepth(q.Depth)
	if !ok {
		return nil, errkind.Wrap(errkind.ErrValidation, "unknown analysis depth %q", q.Depth)
	}
	q.ForceDeep = true
	start := time.Now()
	if r.deps.Metrics != nil {
		r.deps.Metrics.ActiveRequests.Inc()
		defer r.deps.Metrics.ActiveRequests.Dec()
	}

	res := r.classifier.Classify(text)
	score := intent.Complexity(text, res, true)

	if level := r.Level(); !level.DeepAllowed() || r.deps.Deep == nil {
		resp, err := r.runFast(ctx, text, res, depth, score)
		if err != nil {
			return nil, err
		}
		resp.Meta.FallbackUsed = true
		r.finish(resp, res, start, "fallback")
		return resp, nil
	}

	resp, err := r.runDeep(ctx, text, res, depth, q, notify)
	if err != nil {
		log.Warn().Err(err).Msg("requested deep analysis failed, falling back to fast path")
		if r.deps.Metrics != nil {
			r.deps.Metrics.DeepFallbacks.Inc()
		}
		resp, err = r.runFast(ctx, text, res, depth, score)
		if err != nil {
			return nil, err
		}
		resp.Meta.FallbackUsed = true
		r.finish(resp, res, start, "fallback")
		return resp, nil
	}
	resp.Meta.ComplexityScore = score
	r.finish(resp, res, start, "ok")
	return resp, nil
}

func (r *Router) runDeep(ctx context.Context, text string, res intent.Result, depth intent.Depth, q Query, notify workflow.Notify) (*render.Response, error) {
	select {
	case r.deepSlots <- struct{}{}:
		defer func() { <-r.deepSlots }()
	default:
		return nil, errkind.Wrap(errkind.ErrOverload, "deep analysis at capacity")
	}
	if r.deps.Metrics != nil {
		r.deps.Metrics.DeepInFlight.Inc()
		defer r.deps.Metrics.DeepInFlight.Dec()
	}

	runCtx, cancel := context.WithTimeout(ctx, r.deps.Config.DepthTimeout(string(depth)))
	defer cancel()

	st := workflow.NewState(text, res, depth)
	st.Symbol = r.resolveSymbol(runCtx, q, res)
	st, err := r.deps.Deep.Run(runCtx, st, notify)
	if err != nil {
		return nil, err
	}

	sources := render.Sources(st.Contexts, 10)
	samples := render.GraphSamples(st.GraphRows, 5)
	quality := st.QualityScore
	return &render.Response{
		Type:         "deep_analysis",
		Markdown:     render.DeepMarkdown(st.Draft, sources, len(samples)),
		Sources:      sources,
		GraphSamples: samples,
		Meta: render.Meta{
			AnalysisDepth:     string(depth),
			ProcessingMethod:  "deep_workflow",
			QualityScore:      &quality,
			Partial:           st.Partial,
			GraphSamplesShown: len(samples),
		},
	}, nil
}

func (r *Router) runFast(ctx context.Context, text string, res intent.Result, depth intent.Depth, score float64) (*render.Response, error) {
	h := handlers.ForIntent(res.Intent, r.deps.News, r.deps.Stock, r.deps.General)
	out, err := h.Handle(ctx, handlers.Input{Query: text, Result: res})
	if err != nil {
		return nil, err
	}
	return &render.Response{
		Type:         out.Type,
		Markdown:     out.Markdown,
		Sources:      out.Sources,
		GraphSamples: out.GraphSamples,
		Meta: render.Meta{
			ComplexityScore:   score,
			AnalysisDepth:     string(depth),
			ProcessingMethod:  "fast_handler",
			Partial:           out.Partial,
			GraphSamplesShown: len(out.GraphSamples),
		},
	}, nil
}

func (r *Router) finish(resp *render.Response, res intent.Result, start time.Time, status string) {
	resp.Meta.ProcessingTimeMS = time.Since(start).Milliseconds()
	resp.Meta.Intent = string(res.Intent)
	resp.Meta.Confidence = res.Confidence
	if r.deps.Metrics != nil {
		s := status
		if resp.Meta.Partial && s == "ok" {
			s = "partial"
		}
		r.deps.Metrics.RecordQuery(string(res.Intent), s, time.Since(start))
	}
}

// resolveSymbol prefers the explicit symbol, then a recognized ticker, then a
// bounded name lookup on the first extracted company.
func (r *Router) resolveSymbol(ctx context.Context, q Query, res intent.Result) string {
	if q.Symbol != "" {
		return q.Symbol
	}
	if len(res.Entities.Tickers) > 0 {
		return res.Entities.Tickers[0]
	}
	if r.deps.Market == nil || len(res.Entities.Companies) == 0 {
		return ""
	}
	lookupCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	syms, err := r.deps.Market.SearchSymbols(lookupCtx, res.Entities.Companies[0])
	if err != nil || len(syms) == 0 {
		return ""
	}
	return syms[0].Code
}

func hasDeepMarker(text string) bool {
	for _, m := range deepMarkers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}
