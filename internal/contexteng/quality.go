package contexteng

import (
	"math"
	"regexp"
	"strings"
)

var (
	digitPattern    = regexp.MustCompile(`\d`)
	percentPattern  = regexp.MustCompile(`\d+(?:\.\d+)?\s*%`)
	moneyPattern    = regexp.MustCompile(`\d[\d,]*\s*(?:원|억|조|달러|만원|\$)`)
	entityHintWords = []string{"전자", "하이닉스", "그룹", "주식회사", "Inc", "Corp"}
)

// FallbackQuality computes a quality score for items whose metadata carries
// none: 0.4 length + 0.3 density + 0.15 title quality + 0.15 summary
// presence. Density rewards digits, percentages, monetary figures, and
// entity mentions.
func FallbackQuality(it *Item) float64 {
	body := it.Body()

	lengthScore := math.Min(float64(len([]rune(body)))/500.0, 1.0)

	density := 0.0
	if digitPattern.MatchString(body) {
		density += 0.25
	}
	if percentPattern.MatchString(body) {
		density += 0.25
	}
	if moneyPattern.MatchString(body) {
		density += 0.25
	}
	for _, w := range entityHintWords {
		if strings.Contains(body, w) {
			density += 0.25
			break
		}
	}

	titleQuality := 0.0
	if t := []rune(it.Title()); len(t) >= 5 {
		titleQuality = 1.0
	} else if len(t) > 0 {
		titleQuality = 0.5
	}

	summaryPresence := 0.0
	if it.Summary() != "" {
		summaryPresence = 1.0
	}

	return 0.4*lengthScore + 0.3*density + 0.15*titleQuality + 0.15*summaryPresence
}

// EnsureQuality fills QualityScore for items lacking one.
func EnsureQuality(it *Item) float64 {
	if it.HasQuality {
		return it.QualityScore
	}
	it.QualityScore = FallbackQuality(it)
	it.HasQuality = true
	return it.QualityScore
}
