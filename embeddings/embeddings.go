package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/fabfab/kb-agent/config"
	"github.com/fabfab/kb-agent/resilience"
)

// ErrService marks failures of the embedding backend.
var ErrService = errors.New("embedding service error")

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type Options struct {
	Provider  string
	Model     string
	Dimension int

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

// NewEmbedder builds the configured provider wrapped in the retry policy from cfg.
func NewEmbedder(cfg config.Config) (Embedder, error) {
	opts := Options{
		Provider:      cfg.Embeddings.Provider,
		Model:         cfg.Embeddings.Model,
		Dimension:     cfg.Embeddings.Dimension,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	}

	var base Embedder
	switch opts.Provider {
	case config.ProviderOllama:
		base = NewOllamaEmbedder(opts)
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		base = NewOpenAIEmbedder(opts)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", opts.Provider)
	}

	policy := resilience.NewPolicy(cfg.Resilience.Timeout, cfg.Resilience.MaxAttempts, cfg.Resilience.RequestsPerSecond)
	return WithPolicy(base, policy), nil
}

type resilientEmbedder struct {
	next   Embedder
	policy resilience.Policy
}

// WithPolicy retries next according to policy and tags final failures with ErrService.
func WithPolicy(next Embedder, policy resilience.Policy) Embedder {
	return &resilientEmbedder{next: next, policy: policy}
}

func (e *resilientEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var vectors [][]float32
	err := e.policy.Do(ctx, func(ctx context.Context) error {
		out, err := e.next.Embed(ctx, texts)
		if err != nil {
			return err
		}
		if len(out) != len(texts) {
			return resilience.Permanent(fmt.Errorf("embedding count mismatch: have %d texts, %d vectors", len(texts), len(out)))
		}
		vectors = out
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrService, err)
	}
	return vectors, nil
}
