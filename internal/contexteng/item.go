// Package contexteng filters, deduplicates, reranks, and sequences retrieved
// evidence before it reaches prompting or rendering.
package contexteng

import (
	"strings"
	"time"
)

// Source identifies which backend produced an item.
type Source string

const (
	SourceGraph  Source = "graph"
	SourceSearch Source = "search"
	SourceMarket Source = "market"
)

// ItemType classifies evidence for sequencing and plan alignment.
type ItemType string

const (
	TypeNews      ItemType = "news"
	TypeCompany   ItemType = "company"
	TypeEvent     ItemType = "event"
	TypeFinancial ItemType = "financial"
	TypeAnalysis  ItemType = "analysis"
	TypeStock     ItemType = "stock"
)

// Item is the unit of retrieved evidence. Hybrid metadata fields are
// optional; absent values fall back to local computation.
type Item struct {
	Source    Source         `json:"source"`
	Type      ItemType       `json:"type"`
	Content   map[string]any `json:"content"`
	Timestamp time.Time      `json:"timestamp,omitempty"`

	Confidence float64 `json:"confidence"`
	Relevance  float64 `json:"relevance"`

	QualityScore   float64 `json:"quality_score,omitempty"`
	HasQuality     bool    `json:"-"`
	IsFeatured     bool    `json:"is_featured,omitempty"`
	Synced         bool    `json:"synced,omitempty"`
	OntologyStatus string  `json:"ontology_status,omitempty"`
	GraphDegree    int     `json:"graph_degree,omitempty"`
	EventChainID   string  `json:"event_chain_id,omitempty"`
}

// Title returns the item's title field, empty when absent.
func (it *Item) Title() string {
	if s, ok := it.Content["title"].(string); ok {
		return s
	}
	return ""
}

// Summary returns the item's summary field, empty when absent.
func (it *Item) Summary() string {
	if s, ok := it.Content["summary"].(string); ok {
		return s
	}
	return ""
}

// Body returns the main text of the item: body, then content, then summary.
func (it *Item) Body() string {
	for _, key := range []string{"body", "content", "summary"} {
		if s, ok := it.Content[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// Text returns title and body joined, the surface used for similarity.
func (it *Item) Text() string {
	return strings.TrimSpace(it.Title() + " " + it.Body())
}

// sourceWeights bias evidence toward curated graph data over raw search and
// point-in-time market numbers.
var sourceWeights = map[Source]float64{
	SourceGraph:  1.3,
	SourceSearch: 1.0,
	SourceMarket: 0.8,
}

// SourceWeight returns the priority weight for an item's source.
func SourceWeight(s Source) float64 {
	if w, ok := sourceWeights[s]; ok {
		return w
	}
	return 1.0
}
