package contexteng

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// depthCaps bounds how many validated items each analysis depth carries
// forward; the final prune to 30 still applies downstream.
var depthCaps = map[string]int{
	"shallow":       20,
	"standard":      40,
	"deep":          80,
	"comprehensive": 150,
}

var metricWords = []string{"매출", "영업이익", "순이익", "수주", "점유율"}

var metricNumberPattern = regexp.MustCompile(`(\d[\d,]*(?:\.\d+)?)\s*(조|억|만|%)?`)

// CrossValidate checks engineered items against each other without any LM
// call: items below the recomputed confidence floor are dropped, the result
// is capped by depth, and metric contradictions (same metric, magnitudes an
// order apart) are reported as diagnostics.
func CrossValidate(items []*Item, depth string) ([]*Item, []string) {
	var kept []*Item
	for _, it := range items {
		if it.Confidence >= confidenceFloor {
			kept = append(kept, it)
		}
	}

	diags := findContradictions(kept)

	limit, ok := depthCaps[depth]
	if !ok {
		limit = depthCaps["standard"]
	}
	if len(kept) > limit {
		kept = kept[:limit]
	}
	return kept, diags
}

// findContradictions compares the first magnitude mentioned next to each
// metric word across items. A spread of more than 10x between two items for
// the same metric is flagged; the flagged items lose a fifth of their
// confidence.
func findContradictions(items []*Item) []string {
	type obs struct {
		item  *Item
		value float64
	}
	byMetric := map[string][]obs{}
	for _, it := range items {
		body := it.Text()
		for _, metric := range metricWords {
			idx := strings.Index(body, metric)
			if idx < 0 {
				continue
			}
			tail := body[idx:]
			if len(tail) > 80 {
				tail = tail[:80]
			}
			if v, ok := firstMagnitude(tail); ok {
				byMetric[metric] = append(byMetric[metric], obs{item: it, value: v})
			}
		}
	}

	var diags []string
	for metric, seen := range byMetric {
		if len(seen) < 2 {
			continue
		}
		sort.Slice(seen, func(i, j int) bool { return seen[i].value < seen[j].value })
		lo, hi := seen[0], seen[len(seen)-1]
		if lo.value > 0 && hi.value/lo.value > 10 {
			lo.item.Confidence *= 0.8
			hi.item.Confidence *= 0.8
			diags = append(diags, fmt.Sprintf(
				"conflicting %s figures: %.4g vs %.4g", metric, lo.value, hi.value))
		}
	}
	sort.Strings(diags)
	return diags
}

// firstMagnitude parses the first number after a metric mention, normalizing
// Korean scale suffixes to a comparable unit.
func firstMagnitude(s string) (float64, bool) {
	m := metricNumberPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	switch m[2] {
	case "조":
		v *= 1e12
	case "억":
		v *= 1e8
	case "만":
		v *= 1e4
	}
	return v, true
}
