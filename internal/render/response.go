// Package render assembles the response envelope and its Markdown body.
// Rendering is fully deterministic: no model calls, and missing data becomes
// an explicit note instead of a silently absent section.
package render

import "time"

// Citation points a reader at one source document.
type Citation struct {
	URL         string     `json:"url,omitempty"`
	Title       string     `json:"title"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// Meta carries the routing and quality facts for one response.
type Meta struct {
	ProcessingTimeMS  int64    `json:"processing_time_ms"`
	Intent            string   `json:"intent"`
	Confidence        float64  `json:"confidence"`
	ComplexityScore   float64  `json:"complexity_score"`
	AnalysisDepth     string   `json:"analysis_depth"`
	ProcessingMethod  string   `json:"processing_method"`
	QualityScore      *float64 `json:"quality_score,omitempty"`
	Partial           bool     `json:"partial,omitempty"`
	FallbackUsed      bool     `json:"fallback_used,omitempty"`
	GraphSamplesShown int      `json:"graph_samples_shown"`
}

// Response is the envelope returned by every query path.
type Response struct {
	Type         string           `json:"type"`
	Markdown     string           `json:"markdown"`
	Sources      []Citation       `json:"sources"`
	GraphSamples []map[string]any `json:"graph_samples"`
	Meta         Meta             `json:"meta"`
}
