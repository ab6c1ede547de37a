package backends

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/nuri428/ontology-chat/internal/config"
	"github.com/nuri428/ontology-chat/internal/errkind"
)

// OpenAIEmbedder produces embeddings through the same OpenAI-compatible API
// surface as the LM adapter.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	dim    int
}

// NewOpenAIEmbedder builds the embedder client.
func NewOpenAIEmbedder(cfg config.EmbedderConfig) *OpenAIEmbedder {
	opts := []option.RequestOption{}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	key := cfg.APIKey
	if key == "" {
		key = "local"
	}
	opts = append(opts, option.WithAPIKey(key))
	client := openai.NewClient(opts...)
	return &OpenAIEmbedder{client: &client, model: cfg.Model, dim: cfg.Dim}
}

// Dim reports the configured embedding dimension.
func (e *OpenAIEmbedder) Dim() int { return e.dim }

// Embed embeds a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds several texts in one call, preserving input order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errkind.Wrap(errkind.ErrValidation, "no texts")
	}
	res, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	})
	if err != nil {
		return nil, classifyLMErr(err)
	}
	if len(res.Data) != len(texts) {
		return nil, errkind.Wrap(errkind.ErrUpstream, "embed: got %d vectors for %d texts", len(res.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range res.Data {
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		if int(d.Index) < len(out) {
			out[d.Index] = vec
		}
	}
	for i, v := range out {
		if e.dim > 0 && len(v) != e.dim {
			return nil, errkind.Wrap(errkind.ErrUpstream, "embed: vector %d has dim %d, want %d", i, len(v), e.dim)
		}
	}
	return out, nil
}
