package intent

import "strings"

// Depth classifies how much work the deep pipeline should spend on a query.
type Depth string

const (
	DepthShallow       Depth = "shallow"
	DepthStandard      Depth = "standard"
	DepthDeep          Depth = "deep"
	DepthComprehensive Depth = "comprehensive"
)

// ParseDepth validates a caller-supplied depth, defaulting to standard.
func ParseDepth(s string) (Depth, bool) {
	switch Depth(s) {
	case DepthShallow, DepthStandard, DepthDeep, DepthComprehensive:
		return Depth(s), true
	case "":
		return DepthStandard, true
	default:
		return DepthStandard, false
	}
}

var complexKeywords = []string{"비교", "분석", "전망", "추세", "트렌드", "보고서", "종합"}

var comparisonWords = []string{"비교", "대비", "vs"}
var analysisWords = []string{"분석", "전망", "평가"}

// Complexity accumulates the routing score for a query. force_deep raises the
// result to at least 0.95 so the depth classification lands at deep or above.
func Complexity(query string, result Result, forceDeep bool) float64 {
	score := 0.0
	q := strings.ToLower(query)

	runes := len([]rune(query))
	switch {
	case runes > 80:
		score += 0.3
	case runes > 50:
		score += 0.2
	}

	kwBonus := 0.0
	for _, kw := range complexKeywords {
		if strings.Contains(q, kw) {
			kwBonus += 0.15
		}
	}
	if kwBonus > 0.4 {
		kwBonus = 0.4
	}
	score += kwBonus

	if result.Confidence < 0.6 {
		score += 0.2
	}

	switch n := len(result.Entities.Companies); {
	case n >= 3:
		score += 0.4
	case n == 2:
		score += 0.3
	}

	if containsAny(q, comparisonWords) && containsAny(q, analysisWords) {
		score += 0.5
	}

	if score > 1 {
		score = 1
	}
	if forceDeep && score < 0.95 {
		score = 0.95
	}
	return score
}

// DepthFor maps a complexity score onto an analysis depth.
func DepthFor(score float64) Depth {
	switch {
	case score >= 0.9:
		return DepthComprehensive
	case score >= 0.85:
		return DepthDeep
	case score >= 0.7:
		return DepthStandard
	default:
		return DepthShallow
	}
}

func containsAny(q string, words []string) bool {
	for _, w := range words {
		if strings.Contains(q, w) {
			return true
		}
	}
	return false
}
