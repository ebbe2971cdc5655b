// Package cli wires configuration, storage and services into the kb-agent commands.
package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/spf13/cobra"

	"github.com/fabfab/kb-agent/api"
	"github.com/fabfab/kb-agent/chat"
	"github.com/fabfab/kb-agent/config"
	"github.com/fabfab/kb-agent/database"
	"github.com/fabfab/kb-agent/embeddings"
	"github.com/fabfab/kb-agent/index"
	"github.com/fabfab/kb-agent/ingestion"
	"github.com/fabfab/kb-agent/knowledge"
	"github.com/fabfab/kb-agent/llm"
	"github.com/fabfab/kb-agent/vectorstore"
)

var rootCmd = &cobra.Command{
	Use:   "kb-agent",
	Short: "Answer questions from your own documents",
	Long: `kb-agent indexes PDF and TXT documents into a vector collection and answers
questions about them with a language model, citing the chunks it used.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *log.Logger {
	return log.New(os.Stderr, "", log.LstdFlags)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// app holds every long-lived component opened for one command run.
type app struct {
	cfg       config.Config
	logger    *log.Logger
	index     *index.Index
	graph     *knowledge.Graph
	ingestion *ingestion.Service
	chat      *chat.Service

	pool   *pgxpool.Pool
	driver neo4j.DriverWithContext
}

// openApp opens the configured collection once and builds the services on top of it. The
// caller must Close it.
func openApp(ctx context.Context, cfg config.Config, logger *log.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	store, err := a.openStore(ctx)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		store.Close()
		a.Close(ctx)
		return nil, fmt.Errorf("embedder setup: %w", err)
	}
	a.index = index.New(store, embedder, logger)

	llmClient, err := llm.NewClient(cfg)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("llm setup: %w", err)
	}

	driver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("neo4j connection: %w", err)
	}

	var catalog ingestion.Catalog
	if driver != nil {
		a.driver = driver
		a.graph = knowledge.NewGraph(driver)
		catalog = a.graph
	}

	splitter := ingestion.NewSplitter(
		ingestion.WithChunkSize(cfg.Chunking.Size),
		ingestion.WithOverlap(cfg.Chunking.Overlap),
	)
	a.ingestion = ingestion.NewService(a.index, splitter, catalog, logger)
	a.chat = chat.NewService(a.index.Retriever(cfg.RetrievalK), llmClient, cfg.History.Window, logger)

	logger.Printf("using %s store, %s/%s embeddings, %s/%s completions",
		cfg.StoreBackend, cfg.Embeddings.Provider, cfg.Embeddings.Model, cfg.LLM.Provider, cfg.LLM.Model)
	return a, nil
}

func (a *app) openStore(ctx context.Context) (vectorstore.Store, error) {
	switch a.cfg.StoreBackend {
	case config.StorePostgres:
		pool, err := database.NewPostgresPool(ctx, a.cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres connection: %w", err)
		}
		a.pool = pool
		if err := database.EnsureCollectionSchema(ctx, pool, a.cfg.Embeddings.Dimension); err != nil {
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		return vectorstore.NewPostgresStore(pool, a.cfg.CollectionName), nil
	default:
		store, err := vectorstore.NewLocalStore(a.cfg.PersistDir, a.cfg.CollectionName)
		if err != nil {
			return nil, fmt.Errorf("open local store: %w", err)
		}
		return store, nil
	}
}

// graphPurger returns the graph as an optional dependency, nil when Neo4j is not configured.
func (a *app) graphPurger() api.Purger {
	if a.graph == nil {
		return nil
	}
	return a.graph
}

func (a *app) Close(ctx context.Context) {
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			a.logger.Printf("close index: %v", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.driver != nil {
		if err := a.driver.Close(ctx); err != nil {
			a.logger.Printf("close neo4j driver: %v", err)
		}
	}
}

// withApp loads configuration, opens the app for the duration of fn and closes it afterwards.
func withApp(fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, cfg, newLogger())
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	return fn(ctx, a)
}
