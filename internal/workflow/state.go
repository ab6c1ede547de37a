// Package workflow runs the deep analysis pipeline: ten forward nodes over a
// single mutable state, each owning exactly one field.
package workflow

import (
	"time"

	"github.com/nuri428/ontology-chat/internal/backends"
	"github.com/nuri428/ontology-chat/internal/contexteng"
	"github.com/nuri428/ontology-chat/internal/intent"
)

// QueryAnalysis is the structured output of the analyze_query node.
type QueryAnalysis struct {
	Keywords             []string `json:"keywords"`
	Entities             []string `json:"entities"`
	Complexity           string   `json:"complexity"`
	AnalysisRequirements []string `json:"analysis_requirements"`
	FocusAreas           []string `json:"focus_areas"`
	ExpectedOutputType   string   `json:"expected_output_type"`
}

// AnalysisPlan is the structured output of the plan_analysis node.
type AnalysisPlan struct {
	PrimaryFocus      []string `json:"primary_focus"`
	ComparisonAxes    []string `json:"comparison_axes"`
	RequiredDataTypes []string `json:"required_data_types"`
	KeyQuestions      []string `json:"key_questions"`
	Approach          string   `json:"approach"`
}

// Insight is one finding extracted from the engineered context.
type Insight struct {
	Title        string   `json:"title"`
	Type         string   `json:"type"` // quantitative | qualitative | temporal | comparative
	Finding      string   `json:"finding"`
	Evidence     []string `json:"evidence"`
	Significance string   `json:"significance"`
	Confidence   float64  `json:"confidence"`
}

// Relationship links entities found across the evidence.
type Relationship struct {
	Kind        string   `json:"kind"` // news-entity | financial-news | event-market | supply-chain | competitive
	Entities    []string `json:"entities"`
	Description string   `json:"description"`
	Impact      string   `json:"impact"` // high | medium | low
	Implication string   `json:"implication"`
}

// DeepReasoning is the structured why/how/what-if/so-what analysis.
type DeepReasoning struct {
	Why struct {
		Causes   []string `json:"causes"`
		Analysis string   `json:"analysis"`
	} `json:"why"`
	How struct {
		Mechanisms []string `json:"mechanisms"`
	} `json:"how"`
	WhatIf struct {
		Scenarios []Scenario `json:"scenarios"`
	} `json:"what_if"`
	SoWhat struct {
		InvestorImplications string `json:"investor_implications"`
		Actionable           string `json:"actionable"`
	} `json:"so_what"`
}

// Scenario is one what-if branch.
type Scenario struct {
	Scenario    string  `json:"scenario"`
	Probability float64 `json:"probability"`
	Impact      string  `json:"impact"`
}

// Empty reports whether the reasoning carries no content at all.
func (d *DeepReasoning) Empty() bool {
	return len(d.Why.Causes) == 0 && d.Why.Analysis == "" &&
		len(d.How.Mechanisms) == 0 && len(d.WhatIf.Scenarios) == 0 &&
		d.SoWhat.InvestorImplications == "" && d.SoWhat.Actionable == ""
}

// State threads the pipeline. Each node mutates exactly one field;
// downstream nodes only read earlier ones. Timings and Diagnostics are
// append-only bookkeeping.
type State struct {
	Query  string
	Intent intent.Result
	Depth  intent.Depth
	Symbol string

	QueryAnalysis *QueryAnalysis
	Plan          *AnalysisPlan
	Contexts      []*contexteng.Item
	Diversity     float64
	Insights      []Insight
	Relationships []Relationship
	Reasoning     *DeepReasoning
	Draft         string
	QualityScore  float64
	RetryCount    int

	GraphRows []backends.GraphRow
	Snapshot  *backends.StockSnapshot
	Partial   bool

	Timings     map[string]time.Duration
	Diagnostics []string
}

// NewState initializes bookkeeping for one run.
func NewState(query string, res intent.Result, depth intent.Depth) *State {
	return &State{
		Query:   query,
		Intent:  res,
		Depth:   depth,
		Timings: make(map[string]time.Duration, 11),
	}
}

func (s *State) diag(msg string) {
	s.Diagnostics = append(s.Diagnostics, msg)
}
