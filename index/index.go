// Package index embeds chunks into a vector collection and retrieves them by similarity.
package index

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/fabfab/kb-agent/document"
	"github.com/fabfab/kb-agent/embeddings"
	"github.com/fabfab/kb-agent/vectorstore"
)

// ErrUnavailable is returned when the collection is not open.
var ErrUnavailable = errors.New("vector index unavailable")

// Index owns the collection for the life of the process. Adds and searches share the read side
// of mu so they interleave; Reset takes the write side.
type Index struct {
	mu       sync.RWMutex
	store    vectorstore.Store
	embedder embeddings.Embedder
	logger   *log.Logger
	closed   bool
}

func New(store vectorstore.Store, embedder embeddings.Embedder, logger *log.Logger) *Index {
	if logger == nil {
		logger = log.Default()
	}
	return &Index{store: store, embedder: embedder, logger: logger}
}

// AddDocuments embeds the chunk texts and appends them to the collection in one batch.
// Chunks without an ID get a fresh one. A retry after a crash can duplicate entries.
func (ix *Index) AddDocuments(ctx context.Context, chunks []document.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if err := ix.available(); err != nil {
		return 0, err
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	vectors, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}

	entries := make([]vectorstore.Entry, len(chunks))
	for i, chunk := range chunks {
		if chunk.ID == "" {
			chunk.ID = uuid.NewString()
		}
		entries[i] = vectorstore.Entry{Chunk: chunk, Embedding: vectors[i]}
	}

	if err := ix.store.Add(ctx, entries); err != nil {
		return 0, fmt.Errorf("store chunks: %w", err)
	}
	return len(entries), nil
}

// Retriever returns a handle that searches the current collection for the k best chunks.
func (ix *Index) Retriever(k int) *Retriever {
	if k <= 0 {
		k = 1
	}
	return &Retriever{index: ix, k: k}
}

// Sources lists indexed sources with their chunk counts.
func (ix *Index) Sources(ctx context.Context) ([]vectorstore.SourceCount, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if err := ix.available(); err != nil {
		return nil, err
	}
	return ix.store.Sources(ctx)
}

// Reset discards the whole collection and leaves an empty one under the same name. Callers
// are responsible for authorising it.
func (ix *Index) Reset(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.available(); err != nil {
		return err
	}

	if err := ix.store.Reset(ctx); err != nil {
		return fmt.Errorf("reset collection: %w", err)
	}
	ix.logger.Printf("collection reset")
	return nil
}

// Close releases the store. Later calls fail with ErrUnavailable.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed || ix.store == nil {
		return nil
	}
	ix.closed = true
	return ix.store.Close()
}

func (ix *Index) available() error {
	if ix.store == nil || ix.embedder == nil || ix.closed {
		return ErrUnavailable
	}
	return nil
}

func (ix *Index) search(ctx context.Context, query string, k int) ([]document.Match, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if err := ix.available(); err != nil {
		return nil, err
	}

	vectors, err := ix.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: %w: no vector returned", embeddings.ErrService)
	}

	matches, err := ix.store.Search(ctx, vectors[0], k)
	if err != nil {
		return nil, fmt.Errorf("search collection: %w", err)
	}
	return matches, nil
}

// Retriever searches the index with a fixed k.
type Retriever struct {
	index *Index
	k     int
}

// K returns the number of chunks Retrieve asks for.
func (r *Retriever) K() int {
	return r.k
}

// Retrieve returns up to k chunks ordered by descending similarity to query. An empty
// collection yields an empty slice.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]document.Match, error) {
	matches, err := r.index.search(ctx, query, r.k)
	if err != nil {
		return nil, err
	}
	if matches == nil {
		matches = []document.Match{}
	}
	return matches, nil
}
