// Package openai provides an embed.Provider implementation backed by the
// OpenAI embeddings API, using the official github.com/openai/openai-go SDK.
package openai

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"choiros.io/kernel/mem/embed"
)

// EmbeddingsClient captures the subset of the OpenAI client used by the
// adapter, to keep it testable without a live API key.
type EmbeddingsClient interface {
	New(ctx context.Context, params openai.EmbeddingNewParams) (*openai.CreateEmbeddingResponse, error)
}

// Options configures the OpenAI embedding adapter.
type Options struct {
	Client EmbeddingsClient
	Model  string
	// Dim is the vector length the configured model produces.
	Dim int
}

// Provider implements embed.Provider via the OpenAI embeddings endpoint.
type Provider struct {
	client EmbeddingsClient
	model  string
	dim    int
}

// New builds a Provider from the given options.
func New(opts Options) (*Provider, error) {
	if opts.Client == nil {
		return nil, errors.New("embeddings client is required")
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		return nil, errors.New("model is required")
	}
	dim := opts.Dim
	if dim <= 0 {
		dim = 1536
	}
	return &Provider{client: opts.Client, model: model, dim: dim}, nil
}

// NewFromAPIKey constructs a Provider using the default OpenAI HTTP client.
func NewFromAPIKey(apiKey, model string, dim int) (*Provider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("api key is required")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return New(Options{Client: embeddingsAdapter{&client}, Model: model, Dim: dim})
}

// Dimension implements embed.Provider.
func (p *Provider) Dimension() int { return p.dim }

// Embed implements embed.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, embed.ErrEmptyText
	}
	resp, err := p.client.New(ctx, openai.EmbeddingNewParams{
		Model: p.model,
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("embeddings response contained no data")
	}
	raw := resp.Data[0].Embedding
	out := make([]float32, len(raw))
	for i, v := range raw {
		out[i] = float32(v)
	}
	return out, nil
}

type embeddingsAdapter struct {
	client *openai.Client
}

func (a embeddingsAdapter) New(ctx context.Context, params openai.EmbeddingNewParams) (*openai.CreateEmbeddingResponse, error) {
	return a.client.Embeddings.New(ctx, params)
}
