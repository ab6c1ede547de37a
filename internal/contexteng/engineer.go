package contexteng

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nuri428/ontology-chat/internal/backends"
)

const (
	confidenceFloor  = 0.3
	recencyHalfLife  = 60 * 24 * time.Hour
	dedupWindow      = 5
	dedupThreshold   = 0.85
	diversityMinDist = 0.15
	finalKeep        = 30
	semanticKeepDeep = 60
)

// PlanHints carries the parts of an analysis plan that reranking aligns to.
type PlanHints struct {
	PrimaryFocus  []string
	RequiredTypes []ItemType
}

// Result bundles the engineered items with their diversity score.
type Result struct {
	Items     []*Item
	Diversity float64
}

// Engineer applies the six-phase pipeline. The embedder is optional: without
// one, semantic scoring falls back to bigram overlap against the query.
type Engineer struct {
	embedder backends.Embedder
	now      func() time.Time
}

// New builds an Engineer; embedder may be nil.
func New(embedder backends.Embedder) *Engineer {
	return &Engineer{embedder: embedder, now: time.Now}
}

// Process runs all six phases. plan may be nil on the fast path.
func (e *Engineer) Process(ctx context.Context, query string, items []*Item, plan *PlanHints) Result {
	items = e.relevanceCascade(items)
	items = e.semanticFilter(ctx, query, items, semanticKeepDeep)
	items = e.deduplicate(items)
	items = e.rerank(query, items, plan)
	items = sequence(items, query)
	if len(items) > finalKeep {
		items = items[:finalKeep]
	}
	div := e.diversity(items)
	log.Debug().Int("kept", len(items)).Float64("diversity", div).Msg("context engineering completed")
	return Result{Items: items, Diversity: div}
}

// FilterRerank is the fast-path subset: cascade, dedup, rerank. No
// sequencing, no semantic top-M cut.
func (e *Engineer) FilterRerank(ctx context.Context, query string, items []*Item) []*Item {
	items = e.relevanceCascade(items)
	items = e.deduplicate(items)
	e.scoreRelevance(ctx, query, items)
	items = e.rerank(query, items, nil)
	return items
}

// relevanceCascade scales confidence by source priority and recency decay,
// then drops items below the floor.
func (e *Engineer) relevanceCascade(items []*Item) []*Item {
	now := e.now()
	kept := items[:0]
	for _, it := range items {
		c := it.Confidence * SourceWeight(it.Source) * recencyFactor(it.Timestamp, now)
		if c > 1 {
			c = 1
		}
		it.Confidence = c
		if c >= confidenceFloor {
			kept = append(kept, it)
		}
	}
	return kept
}

// recencyFactor decays with a ~60-day half life; undated items pass
// unweighted.
func recencyFactor(ts time.Time, now time.Time) float64 {
	if ts.IsZero() {
		return 1.0
	}
	age := now.Sub(ts)
	if age <= 0 {
		return 1.0
	}
	return math.Pow(0.5, float64(age)/float64(recencyHalfLife))
}

// scoreRelevance fills Relevance for each item against the query, preferring
// embeddings and falling back to bigram overlap.
func (e *Engineer) scoreRelevance(ctx context.Context, query string, items []*Item) {
	if len(items) == 0 {
		return
	}
	if e.embedder != nil {
		texts := make([]string, 0, len(items)+1)
		texts = append(texts, query)
		for _, it := range items {
			texts = append(texts, clip(it.Text(), 512))
		}
		vecs, err := e.embedder.EmbedBatch(ctx, texts)
		if err == nil {
			for i, it := range items {
				it.Relevance = Cosine(vecs[0], vecs[i+1])
			}
			return
		}
		log.Warn().Err(err).Msg("embedding failed, using lexical relevance")
	}
	for _, it := range items {
		it.Relevance = Jaccard(query, it.Text())
	}
}

// semanticFilter keeps the top-M most relevant items in diversity mode:
// greedy selection skipping candidates too close to an already kept item.
func (e *Engineer) semanticFilter(ctx context.Context, query string, items []*Item, m int) []*Item {
	e.scoreRelevance(ctx, query, items)
	sorted := append([]*Item(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Relevance > sorted[j].Relevance })

	var kept []*Item
	for _, cand := range sorted {
		if len(kept) >= m {
			break
		}
		tooClose := false
		for _, k := range kept {
			if 1-Jaccard(cand.Text(), k.Text()) < diversityMinDist {
				tooClose = true
				break
			}
		}
		if !tooClose {
			kept = append(kept, cand)
		}
	}
	return kept
}

// deduplicate drops exact title duplicates, then near-duplicates over a
// sliding window of recent items. The higher quality item survives.
func (e *Engineer) deduplicate(items []*Item) []*Item {
	seen := map[string]int{} // title hash -> index into kept
	var kept []*Item
	for _, it := range items {
		if h := titleHash(it.Title()); h != "" {
			if prev, ok := seen[h]; ok {
				if EnsureQuality(it) > EnsureQuality(kept[prev]) {
					kept[prev] = it
				}
				continue
			}
			seen[h] = len(kept)
		}
		kept = append(kept, it)
	}

	var out []*Item
	for _, it := range kept {
		dup := -1
		start := len(out) - dedupWindow
		if start < 0 {
			start = 0
		}
		for i := start; i < len(out); i++ {
			if Jaccard(it.Text(), out[i].Text()) >= dedupThreshold {
				dup = i
				break
			}
		}
		if dup >= 0 {
			if EnsureQuality(it) > EnsureQuality(out[dup]) {
				out[dup] = it
			}
			continue
		}
		out = append(out, it)
	}
	return out
}

func titleHash(title string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(title)), " ")
	if norm == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:8])
}

// rerank orders items by the weighted blend of base relevance, hybrid schema
// metadata, and plan alignment.
func (e *Engineer) rerank(query string, items []*Item, plan *PlanHints) []*Item {
	type scored struct {
		it    *Item
		score float64
	}
	out := make([]scored, len(items))
	for i, it := range items {
		out[i] = scored{it: it, score: rerankScore(it, plan)}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	ranked := make([]*Item, len(out))
	for i, s := range out {
		ranked[i] = s.it
	}
	return ranked
}

// rerankScore: base 50% (semantic 30 + source 12 + recency 8), schema 30%,
// plan alignment 20%.
func rerankScore(it *Item, plan *PlanHints) float64 {
	base := it.Relevance*0.30 +
		(SourceWeight(it.Source)/1.3)*0.12 +
		it.Confidence*0.08

	schema := EnsureQuality(it) * 0.15
	if it.IsFeatured {
		schema += 0.10
	}
	if it.Synced {
		schema += 0.05
	}
	schema += math.Min(float64(it.GraphDegree)/10.0, 1.0) * 0.10
	if schema > 0.30 {
		schema = 0.30
	}

	align := 0.0
	if plan != nil {
		body := strings.ToLower(it.Text())
		for _, f := range plan.PrimaryFocus {
			if f != "" && strings.Contains(body, strings.ToLower(f)) {
				align += 0.1
			}
		}
		for _, rt := range plan.RequiredTypes {
			if it.Type == rt {
				align += 0.2
				break
			}
		}
		if align > 0.20 {
			align = 0.20
		}
	}
	return base + schema + align
}

// typeOrder walks the reader from background to corroboration.
var typeOrder = map[ItemType]int{
	TypeCompany:   0,
	TypeEvent:     1,
	TypeNews:      1,
	TypeAnalysis:  2,
	TypeFinancial: 3,
	TypeStock:     3,
}

// sequence groups items company -> news -> analysis -> market, ordering each
// group by a recency and relevance blend.
func sequence(items []*Item, query string) []*Item {
	sorted := append([]*Item(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		oi, oj := groupOf(sorted[i]), groupOf(sorted[j])
		if oi != oj {
			return oi < oj
		}
		return withinGroupKey(sorted[i]) > withinGroupKey(sorted[j])
	})
	return sorted
}

func groupOf(it *Item) int {
	if o, ok := typeOrder[it.Type]; ok {
		return o
	}
	return 2
}

func withinGroupKey(it *Item) float64 {
	rec := 0.0
	if !it.Timestamp.IsZero() {
		rec = recencyFactor(it.Timestamp, time.Now())
	}
	return 0.5*rec + 0.5*it.Relevance
}

// diversity is the mean pairwise bigram dissimilarity of retained items.
func (e *Engineer) diversity(items []*Item) float64 {
	if len(items) < 2 {
		return 1.0
	}
	var sum float64
	var n int
	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			sum += 1 - Jaccard(items[i].Text(), items[j].Text())
			n++
		}
	}
	return sum / float64(n)
}

func clip(s string, maxRunes int) string {
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes])
}
