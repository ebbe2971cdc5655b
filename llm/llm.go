package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/fabfab/kb-agent/config"
	"github.com/fabfab/kb-agent/resilience"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrService marks failures of the completion backend.
var ErrService = errors.New("completion service error")

type Message struct {
	Role    string
	Content string
}

type Client interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

type Options struct {
	Provider    string
	Model       string
	Temperature float32

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

// NewClient builds the configured provider wrapped in the retry policy from cfg.
func NewClient(cfg config.Config) (Client, error) {
	opts := Options{
		Provider:      cfg.LLM.Provider,
		Model:         cfg.LLM.Model,
		Temperature:   cfg.LLM.Temperature,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	}

	var base Client
	switch opts.Provider {
	case config.ProviderOllama:
		base = NewOllamaClient(opts)
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		base = NewOpenAIClient(opts)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", opts.Provider)
	}

	policy := resilience.NewPolicy(cfg.Resilience.Timeout, cfg.Resilience.MaxAttempts, cfg.Resilience.RequestsPerSecond)
	return WithPolicy(base, policy), nil
}

type resilientClient struct {
	next   Client
	policy resilience.Policy
}

// WithPolicy retries next according to policy and tags final failures with ErrService.
func WithPolicy(next Client, policy resilience.Policy) Client {
	return &resilientClient{next: next, policy: policy}
}

func (c *resilientClient) Generate(ctx context.Context, messages []Message) (string, error) {
	var answer string
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		out, err := c.next.Generate(ctx, messages)
		if err != nil {
			return err
		}
		answer = out
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrService, err)
	}
	return answer, nil
}
