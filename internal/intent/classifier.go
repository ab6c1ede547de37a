// Package intent classifies Korean equity queries into a closed intent set
// and extracts the entities that downstream retrieval keys on. The keyword
// bundles are authoritative: extending coverage is a data change here, never
// a structural one.
package intent

import (
	"regexp"
	"strings"
)

// Intent is the closed classification set.
type Intent string

const (
	NewsInquiry   Intent = "news_inquiry"
	StockAnalysis Intent = "stock_analysis"
	Comparison    Intent = "comparison"
	Trend         Intent = "trend"
	GeneralQA     Intent = "general_qa"
	Unknown       Intent = "unknown"
)

// confidenceFloor below which classification collapses to Unknown.
const confidenceFloor = 0.2

// Entities holds everything extracted from a query.
type Entities struct {
	Companies []string `json:"companies,omitempty"`
	Products  []string `json:"products,omitempty"`
	Sectors   []string `json:"sectors,omitempty"`
	Tickers   []string `json:"tickers,omitempty"`
}

// Result is one classification outcome.
type Result struct {
	Intent     Intent   `json:"intent"`
	Confidence float64  `json:"confidence"`
	Entities   Entities `json:"entities"`
	Keywords   []string `json:"keywords"`
}

// bundle scores one intent: keyword hits weigh 0.3, verb hits 0.2, regex
// hits 0.5, capped at 1.0, then scaled by the bundle weight.
type bundle struct {
	keywords []string
	verbs    []string
	patterns []*regexp.Regexp
	weight   float64
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// Classifier holds the compiled bundles and entity patterns.
type Classifier struct {
	bundles map[Intent]bundle

	companyPatterns []*regexp.Regexp
	productPatterns []*regexp.Regexp
	sectorPatterns  []*regexp.Regexp
	tickerPattern   *regexp.Regexp
}

// NewClassifier compiles the built-in bundles.
func NewClassifier() *Classifier {
	return &Classifier{
		bundles: map[Intent]bundle{
			NewsInquiry: {
				keywords: []string{"뉴스", "소식", "기사", "보도", "발표", "공시", "출시", "런칭", "공개", "사업", "현황", "동향", "이슈", "시장", "기업", "경쟁력", "기술"},
				verbs:    []string{"보여줘", "알려줘", "말해줘", "찾아줘", "검색해줘"},
				patterns: compileAll(
					`뉴스.*보여줘`, `소식.*알려줘`, `관련.*뉴스`, `최근.*소식`,
					`기사.*찾아줘`, `발표.*뉴스`, `에.*대한.*뉴스`, `사업.*현황`,
					`[은는].*어때`, `[이가].*어떻게`, `시장에서.*기업`, `경쟁력.*기업`,
				),
				weight: 1.2,
			},
			StockAnalysis: {
				keywords: []string{"전망", "유망주", "추천", "투자", "분석", "예측", "주가", "수익률", "실적", "매출", "영업이익"},
				verbs:    []string{"어때", "좋아", "오를까", "떨어질까", "추천해줘"},
				patterns: compileAll(
					`전망.*어때`, `유망주`, `투자.*추천`, `관련.*종목`, `어떤.*주식`, `분석.*해줘`,
				),
				weight: 1.0,
			},
			Comparison: {
				keywords: []string{"비교", "대비", "차이", "우위", "versus"},
				verbs:    []string{"비교해줘", "나아", "앞서"},
				patterns: compileAll(
					`와.*비교`, `과.*비교`, `중.*어디`, `누가.*더`, `vs`,
				),
				weight: 1.1,
			},
			Trend: {
				keywords: []string{"추세", "추이", "트렌드", "흐름", "변화", "전개"},
				verbs:    []string{"변했어", "움직여"},
				patterns: compileAll(
					`추세.*어때`, `최근.*흐름`, `어떻게.*변`, `추이.*보여줘`,
				),
				weight: 1.0,
			},
			GeneralQA: {
				keywords: []string{"뭐야", "무엇", "어떻게", "왜", "설명", "의미", "정의"},
				verbs:    []string{"뭐야", "무엇", "어떻게", "왜"},
				patterns: compileAll(
					`뭐야`, `무엇.*인가`, `어떻게.*하는`, `왜.*그런가`, `설명.*해줘`,
				),
				weight: 0.8,
			},
		},
		companyPatterns: compileAll(
			`(삼성전자|에코프로|한화시스템|한화에어로스페이스|LG전자|SK하이닉스|네이버|카카오|포스코|POSCO)`,
			`(현대차|기아|현대모비스|삼성SDI|LG화학|LG에너지솔루션)`,
			`(NC소프트|넷마블|크래프톤|위메이드|컴투스)`,
			`(아모레퍼시픽|LG생활건강|코스맥스|한국콜마)`,
			`([가-힣]+전자|[가-힣]+시스템|[가-힣]+케미칼|[가-힣]+소프트)`,
			`([가-힣]+바이오|[가-힣]+제약|[가-힣]+머티리얼즈)`,
		),
		// anchored to known product families; generic numeric suffixes
		// collide with time expressions and are deliberately excluded
		productPatterns: compileAll(
			`(?:아이온2|아이온|리니지|배틀그라운드)`,
			`(?:갤럭시\s?[SZ]?\d+|아이폰\s?\d+)`,
			`(?:그랜저|소나타|아반떼|카니발|스타리아)`,
			`(?:HBM2|HBM3|HBM|DDR5|DDR4|GDDR6)`,
		),
		sectorPatterns: compileAll(
			`(?:방산|국방|SMR|원전|2차전지|배터리|AI|인공지능|반도체)`,
			`(?:금융지주|바이오|헬스케어|전기차|신재생에너지)`,
			`(?:게임|메타버스|블록체인)`,
			`(?:K-뷰티|화장품|코스메틱)`,
			`(?:메모리|시스템반도체|파운드리)`,
			`(?:수소차|자율주행)`,
		),
		tickerPattern: regexp.MustCompile(`\b(\d{6})\b`),
	}
}

// Classify scores every bundle against the lowercased query and returns the
// winner with its normalized confidence.
func (c *Classifier) Classify(query string) Result {
	q := strings.ToLower(query)

	scores := make(map[Intent]float64, len(c.bundles))
	var total float64
	for intent, b := range c.bundles {
		s := b.score(q)
		scores[intent] = s
		total += s
	}

	best, bestScore := Unknown, 0.0
	for _, intent := range []Intent{NewsInquiry, StockAnalysis, Comparison, Trend, GeneralQA} {
		if scores[intent] > bestScore {
			best, bestScore = intent, scores[intent]
		}
	}

	confidence := 0.0
	if total > 0 {
		confidence = bestScore / total
	}
	if bestScore < confidenceFloor {
		best, confidence = Unknown, 0
	}

	entities := c.Extract(query)
	return Result{
		Intent:     best,
		Confidence: confidence,
		Entities:   entities,
		Keywords:   c.Keywords(query, best, entities),
	}
}

func (b bundle) score(q string) float64 {
	var s float64
	for _, kw := range b.keywords {
		if strings.Contains(q, kw) {
			s += 0.3
		}
	}
	for _, v := range b.verbs {
		if strings.Contains(q, v) {
			s += 0.2
		}
	}
	for _, p := range b.patterns {
		if p.MatchString(q) {
			s += 0.5
		}
	}
	if s > 1.0 {
		s = 1.0
	}
	return s * b.weight
}

// Extract pulls companies, products, sectors, and tickers from the raw query.
func (c *Classifier) Extract(query string) Entities {
	return Entities{
		Companies: matchAll(c.companyPatterns, query),
		Products:  matchAll(c.productPatterns, query),
		Sectors:   matchAll(c.sectorPatterns, query),
		Tickers:   matchAll([]*regexp.Regexp{c.tickerPattern}, query),
	}
}

func matchAll(patterns []*regexp.Regexp, query string) []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range patterns {
		for _, m := range p.FindAllString(query, -1) {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out
}

// timeKeywords and investKeywords refine keyword extraction per intent.
var (
	timeKeywordPattern   = regexp.MustCompile(`(?:최근|요즘|오늘|어제|이번주|이번달|올해|작년|\d분기)`)
	newsContextPattern   = regexp.MustCompile(`(?:수주|현황|실적|매출|영업이익|분석|전망|영향|대응|전략|변화|추세)`)
	investKeywordPattern = regexp.MustCompile(`(?:전망|예측|분석|추천|주가|수익률|투자|실적|매출|영업이익|순이익)`)
	compareWordPattern   = regexp.MustCompile(`(?:중에서|가운데|가장|제일|최고|최저|비교|대비)`)
)

// Keywords builds the ordered keyword list: entities first, then
// intent-specific refinements, capped at 15 and deduplicated in order.
func (c *Classifier) Keywords(query string, intent Intent, entities Entities) []string {
	var raw []string
	raw = append(raw, entities.Companies...)
	raw = append(raw, entities.Products...)
	raw = append(raw, entities.Sectors...)
	raw = append(raw, entities.Tickers...)

	switch intent {
	case NewsInquiry:
		raw = append(raw, timeKeywordPattern.FindAllString(query, -1)...)
		raw = append(raw, newsContextPattern.FindAllString(query, -1)...)
	case StockAnalysis, Comparison, Trend:
		raw = append(raw, investKeywordPattern.FindAllString(query, -1)...)
		raw = append(raw, compareWordPattern.FindAllString(query, -1)...)
	default:
		for _, f := range strings.Fields(query) {
			if len([]rune(f)) >= 2 {
				raw = append(raw, f)
			}
		}
	}

	seen := map[string]bool{}
	var out []string
	for _, k := range raw {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
		if len(out) == 15 {
			break
		}
	}
	return out
}
