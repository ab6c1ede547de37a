package app

import (
	"context"

	"github.com/nuri428/ontology-chat/internal/backends"
	"github.com/nuri428/ontology-chat/internal/resilience"
)

// guardedLM routes every generation call through the lm breaker and retry
// policy.
type guardedLM struct {
	lm    backends.LM
	guard *resilience.Guard
}

func (g *guardedLM) Generate(ctx context.Context, system, prompt string, opts backends.GenOptions) (string, error) {
	var out string
	err := g.guard.Do(ctx, func(ctx context.Context) error {
		text, err := g.lm.Generate(ctx, system, prompt, opts)
		if err != nil {
			return err
		}
		out = text
		return nil
	})
	return out, err
}

func (g *guardedLM) ChatModel() string   { return g.lm.ChatModel() }
func (g *guardedLM) ReportModel() string { return g.lm.ReportModel() }

// guardedEmbedder routes embedding calls through the embed breaker.
type guardedEmbedder struct {
	embedder backends.Embedder
	guard    *resilience.Guard
}

func (g *guardedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := g.guard.Do(ctx, func(ctx context.Context) error {
		vec, err := g.embedder.Embed(ctx, text)
		if err != nil {
			return err
		}
		out = vec
		return nil
	})
	return out, err
}

func (g *guardedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := g.guard.Do(ctx, func(ctx context.Context) error {
		vecs, err := g.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		out = vecs
		return nil
	})
	return out, err
}

func (g *guardedEmbedder) Dim() int { return g.embedder.Dim() }
