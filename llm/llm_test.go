package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/kb-agent/config"
	"github.com/fabfab/kb-agent/resilience"
)

func TestNewClientDefaults(t *testing.T) {
	client, err := NewClient(config.Default())
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestNewClientOpenAIRequiresAPIKey(t *testing.T) {
	cfg := config.Default()
	cfg.LLM = config.LLMConfig{Provider: config.ProviderOpenAI, Model: "gpt-4o"}

	_, err := NewClient(cfg)
	assert.Error(t, err)
}

func TestOllamaClientGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Len(t, req.Messages, 2)
		assert.Equal(t, RoleSystem, req.Messages[0].Role)

		_ = json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaChatMessage{Role: RoleAssistant, Content: "Paris"},
			Done:    true,
		})
	}))
	defer srv.Close()

	client := NewOllamaClient(Options{OllamaHost: srv.URL, Model: "llama3.1:8b"})
	answer, err := client.Generate(context.Background(), []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "capital of France?"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Paris", answer)
}

func TestOllamaClientClientErrorIsNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	policy := resilience.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	client := WithPolicy(NewOllamaClient(Options{OllamaHost: srv.URL}), policy)

	_, err := client.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	assert.ErrorIs(t, err, ErrService)
	assert.Contains(t, err.Error(), "model not found")
	assert.Equal(t, 1, calls)
}

func TestOllamaClientServerErrorIsRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(ollamaChatResponse{Message: ollamaChatMessage{Content: "ok"}, Done: true})
	}))
	defer srv.Close()

	policy := resilience.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	client := WithPolicy(NewOllamaClient(Options{OllamaHost: srv.URL}), policy)

	answer, err := client.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "ok", answer)
	assert.Equal(t, 2, calls)
}
