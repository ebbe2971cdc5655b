// Package vectorstore persists embedded chunks and answers nearest-neighbour queries.
package vectorstore

import (
	"context"
	"errors"
	"math"
	"sort"

	"github.com/fabfab/kb-agent/document"
)

var (
	// ErrDimensionMismatch is returned when a vector's width differs from the collection's.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("vector store closed")
)

// Entry is a chunk with its embedding, ready to persist.
type Entry struct {
	Chunk     document.Chunk
	Embedding []float32
}

// SourceCount is the number of stored chunks for one source.
type SourceCount struct {
	Source string
	Chunks int
}

type Store interface {
	// Add appends entries atomically.
	Add(ctx context.Context, entries []Entry) error
	// Search returns up to k entries by descending cosine similarity, ties in insertion order.
	Search(ctx context.Context, embedding []float32, k int) ([]document.Match, error)
	// Sources lists stored chunk counts per source, ordered by source.
	Sources(ctx context.Context) ([]SourceCount, error)
	// Reset discards the whole collection and leaves an empty one under the same name.
	Reset(ctx context.Context) error
	Close() error
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when the lengths
// differ or either vector is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

type scored struct {
	match document.Match
	seq   int64
}

// topK sorts by score descending, then by insertion sequence, and truncates to k.
func topK(items []scored, k int) []document.Match {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].match.Score != items[j].match.Score {
			return items[i].match.Score > items[j].match.Score
		}
		return items[i].seq < items[j].seq
	})
	if k > 0 && k < len(items) {
		items = items[:k]
	}
	out := make([]document.Match, len(items))
	for i := range items {
		out[i] = items[i].match
	}
	return out
}
