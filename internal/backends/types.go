// Package backends holds the adapters for every external system: the graph
// database, the document search cluster, the market data feed, the language
// model runtime, and the embedder. This is the only package that performs
// network I/O; adapters classify vendor errors into errkind kinds before
// returning.
package backends

import (
	"context"
	"time"
)

// GraphRow is one row of a label-aware graph query: the node properties, its
// labels, and the normalized timestamp projected by the query.
type GraphRow struct {
	Props  map[string]any `json:"props"`
	Labels []string       `json:"labels"`
	TS     time.Time      `json:"ts"`
}

// NewsHit is one search document hit.
type NewsHit struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Content   string         `json:"content"`
	Summary   string         `json:"summary,omitempty"`
	URL       string         `json:"url,omitempty"`
	Source    string         `json:"source,omitempty"`
	Score     float64        `json:"score"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// StockSnapshot is a point-in-time quote for one listed company.
type StockSnapshot struct {
	Symbol    string    `json:"symbol"`
	Name      string    `json:"name"`
	Price     float64   `json:"price"`
	Change    float64   `json:"change"`
	ChangePct float64   `json:"change_pct"`
	Volume    int64     `json:"volume"`
	MarketCap float64   `json:"market_cap,omitempty"`
	AsOf      time.Time `json:"as_of"`
}

// Symbol is one entry in a symbol lookup result.
type Symbol struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Market string `json:"market,omitempty"`
}

// Graph runs read queries against the graph database.
type Graph interface {
	Query(ctx context.Context, cypher string, params map[string]any) ([]GraphRow, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// SearchQuery describes one hybrid search request.
type SearchQuery struct {
	Text         string
	Vector       []float32
	Size         int
	LookbackDays int
}

// Search runs hybrid lexical+vector queries against the document cluster.
type Search interface {
	Hybrid(ctx context.Context, q SearchQuery) ([]NewsHit, error)
	Ping(ctx context.Context) error
}

// Market serves quotes and symbol lookup from the market data feed.
type Market interface {
	Quote(ctx context.Context, symbol string) (*StockSnapshot, error)
	SearchSymbols(ctx context.Context, name string) ([]Symbol, error)
}

// GenOptions tune one LM generation call.
type GenOptions struct {
	Model       string // empty selects the chat model
	Temperature float64
	MaxTokens   int
	JSONMode    bool
}

// LM generates text from prompts. Two models are configured: a small chat
// model for the fast path and a report model for deep analysis.
type LM interface {
	Generate(ctx context.Context, system, prompt string, opts GenOptions) (string, error)
	ChatModel() string
	ReportModel() string
}

// Embedder produces fixed-dimension embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
}
