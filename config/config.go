// Package config loads kb-agent settings from .env, an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	StoreLocal    = "local"
	StorePostgres = "postgres"
)

type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
}

type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

type HistoryConfig struct {
	// MaxTurns caps stored turns per session; 0 keeps everything.
	MaxTurns int `yaml:"max_turns"`
	// Window is how many recent turns reach the answer generator.
	Window int `yaml:"window"`
}

type ResilienceConfig struct {
	Timeout           time.Duration `yaml:"timeout"`
	MaxAttempts       int           `yaml:"max_attempts"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

type Config struct {
	Embeddings EmbeddingConfig  `yaml:"embeddings"`
	LLM        LLMConfig        `yaml:"llm"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	History    HistoryConfig    `yaml:"history"`
	Resilience ResilienceConfig `yaml:"resilience"`

	RetrievalK     int    `yaml:"retrieval_k"`
	StoreBackend   string `yaml:"store"`
	PersistDir     string `yaml:"persist_dir"`
	CollectionName string `yaml:"collection"`

	OllamaHost    string `yaml:"ollama_host"`
	OpenAIAPIKey  string `yaml:"-"`
	OpenAIBaseURL string `yaml:"openai_base_url"`

	PostgresDSN string `yaml:"postgres_dsn"`
	Neo4jURI    string `yaml:"neo4j_uri"`
	Neo4jUser   string `yaml:"neo4j_user"`
	Neo4jPass   string `yaml:"-"`

	HTTPAddr       string `yaml:"http_addr"`
	ResetToken     string `yaml:"-"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	WatchDir       string `yaml:"watch_dir"`
}

// Default returns the built-in settings: local Ollama embeddings and chat, a SQLite collection
// under ./kb_data, 1000/100 chunking and k=3.
func Default() Config {
	return Config{
		Embeddings: EmbeddingConfig{Provider: ProviderOllama, Model: "all-minilm", Dimension: 384},
		LLM:        LLMConfig{Provider: ProviderOllama, Model: "llama3.1:8b", Temperature: 0.3},
		Chunking:   ChunkingConfig{Size: 1000, Overlap: 100},
		History:    HistoryConfig{MaxTurns: 50, Window: 6},
		Resilience: ResilienceConfig{Timeout: 60 * time.Second, MaxAttempts: 3, RequestsPerSecond: 10},

		RetrievalK:     3,
		StoreBackend:   StoreLocal,
		PersistDir:     "./kb_data",
		CollectionName: "documents",

		OllamaHost: "http://localhost:11434",

		PostgresDSN: "postgres://localhost:5432/kb-agent?sslmode=disable",
		Neo4jUser:   "neo4j",

		HTTPAddr:       ":8000",
		MaxUploadBytes: 32 << 20,
	}
}

// Load layers .env, the YAML file named by KB_CONFIG (default kb-agent.yaml, optional) and
// environment variables over Default.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	path := getEnv("KB_CONFIG", "kb-agent.yaml")
	if err := loadFile(path, &cfg); err != nil {
		return Config{}, err
	}
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Embeddings.Provider = getEnv("EMBEDDING_PROVIDER", cfg.Embeddings.Provider)
	cfg.Embeddings.Model = getEnv("EMBEDDING_MODEL", cfg.Embeddings.Model)
	cfg.Embeddings.Dimension = getEnvInt("EMBEDDING_DIMENSION", cfg.Embeddings.Dimension)

	cfg.LLM.Provider = getEnv("LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.Model = getEnv("LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.Temperature = float32(getEnvFloat("LLM_TEMPERATURE", float64(cfg.LLM.Temperature)))

	cfg.Chunking.Size = getEnvInt("CHUNK_SIZE", cfg.Chunking.Size)
	cfg.Chunking.Overlap = getEnvInt("CHUNK_OVERLAP", cfg.Chunking.Overlap)

	cfg.History.MaxTurns = getEnvInt("HISTORY_MAX_TURNS", cfg.History.MaxTurns)
	cfg.History.Window = getEnvInt("HISTORY_WINDOW", cfg.History.Window)

	cfg.Resilience.Timeout = getEnvDuration("CALL_TIMEOUT", cfg.Resilience.Timeout)
	cfg.Resilience.MaxAttempts = getEnvInt("CALL_MAX_ATTEMPTS", cfg.Resilience.MaxAttempts)
	cfg.Resilience.RequestsPerSecond = getEnvFloat("CALL_RATE_LIMIT", cfg.Resilience.RequestsPerSecond)

	cfg.RetrievalK = getEnvInt("RETRIEVAL_K", cfg.RetrievalK)
	cfg.StoreBackend = getEnv("VECTOR_STORE", cfg.StoreBackend)
	cfg.PersistDir = getEnv("PERSIST_DIR", cfg.PersistDir)
	cfg.CollectionName = getEnv("COLLECTION_NAME", cfg.CollectionName)

	cfg.OllamaHost = getEnv("OLLAMA_HOST", cfg.OllamaHost)
	cfg.OpenAIAPIKey = getEnv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", cfg.OpenAIBaseURL)

	cfg.PostgresDSN = getEnv("POSTGRES_DSN", cfg.PostgresDSN)
	cfg.Neo4jURI = getEnv("NEO4J_URI", cfg.Neo4jURI)
	cfg.Neo4jUser = getEnv("NEO4J_USERNAME", cfg.Neo4jUser)
	cfg.Neo4jPass = getEnv("NEO4J_PASSWORD", cfg.Neo4jPass)

	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.ResetToken = getEnv("RESET_TOKEN", cfg.ResetToken)
	cfg.MaxUploadBytes = int64(getEnvInt("MAX_UPLOAD_BYTES", int(cfg.MaxUploadBytes)))
	cfg.WatchDir = getEnv("WATCH_DIR", cfg.WatchDir)
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Chunking.Size <= 0 {
		errs = append(errs, fmt.Errorf("chunk size must be positive, got %d", c.Chunking.Size))
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		errs = append(errs, fmt.Errorf("chunk overlap must be in [0, %d), got %d", c.Chunking.Size, c.Chunking.Overlap))
	}
	if c.RetrievalK <= 0 {
		errs = append(errs, fmt.Errorf("retrieval k must be positive, got %d", c.RetrievalK))
	}
	if !knownProvider(c.Embeddings.Provider) {
		errs = append(errs, fmt.Errorf("unknown embedding provider: %s", c.Embeddings.Provider))
	}
	if !knownProvider(c.LLM.Provider) {
		errs = append(errs, fmt.Errorf("unknown llm provider: %s", c.LLM.Provider))
	}
	switch c.StoreBackend {
	case StoreLocal:
		if strings.TrimSpace(c.PersistDir) == "" {
			errs = append(errs, errors.New("persist dir is required for the local store"))
		}
	case StorePostgres:
		if c.Embeddings.Dimension <= 0 {
			errs = append(errs, errors.New("embedding dimension is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown vector store: %s", c.StoreBackend))
	}
	if strings.TrimSpace(c.CollectionName) == "" {
		errs = append(errs, errors.New("collection name is required"))
	}
	if c.History.MaxTurns < 0 || c.History.Window < 0 {
		errs = append(errs, errors.New("history bounds must not be negative"))
	}
	return errors.Join(errs...)
}

func knownProvider(p string) bool {
	return p == ProviderOllama || p == ProviderOpenAI
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}
