package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/fabfab/kb-agent/document"
)

// PostgresStore keeps a collection as rows of the shared kb_chunks table, see
// database.EnsureCollectionSchema.
type PostgresStore struct {
	pool       *pgxpool.Pool
	collection string
}

func NewPostgresStore(pool *pgxpool.Pool, collection string) *PostgresStore {
	return &PostgresStore{pool: pool, collection: collection}
}

func (s *PostgresStore) Add(ctx context.Context, entries []Entry) error {
	if s.pool == nil {
		return ErrClosed
	}
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	batch := &pgx.Batch{}
	for _, entry := range entries {
		meta, err := json.Marshal(entry.Chunk.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		batch.Queue(`
			INSERT INTO kb_chunks (id, collection, source, chunk_index, content, metadata, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, entry.Chunk.ID, s.collection, entry.Chunk.Metadata.Source(), entry.Chunk.Index,
			entry.Chunk.Text, meta, pgvector.NewVector(entry.Embedding))
	}

	results := tx.SendBatch(ctx, batch)
	for i := range entries {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("insert entry %d: %w", i, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) Search(ctx context.Context, embedding []float32, k int) ([]document.Match, error) {
	if s.pool == nil {
		return nil, ErrClosed
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("embedding is empty")
	}
	if k <= 0 {
		k = 3
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	probes := k * 10
	if probes < 10 {
		probes = 10
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET ivfflat.probes = %d", probes)); err != nil {
		return nil, fmt.Errorf("set ivfflat probes: %w", err)
	}

	rows, err := conn.Query(ctx, `
		SELECT id, chunk_index, content, metadata, (embedding <=> $1::vector) AS distance
		FROM kb_chunks
		WHERE collection = $2
		ORDER BY embedding <=> $1::vector, seq
		LIMIT $3
	`, pgvector.NewVector(embedding), s.collection, k)
	if err != nil {
		return nil, fmt.Errorf("query similar chunks: %w", err)
	}
	defer rows.Close()

	results := make([]document.Match, 0)
	for rows.Next() {
		var (
			item     document.Match
			meta     []byte
			distance float64
		)
		if err := rows.Scan(&item.Chunk.ID, &item.Chunk.Index, &item.Chunk.Text, &meta, &distance); err != nil {
			return nil, fmt.Errorf("scan similar chunk: %w", err)
		}
		if err := json.Unmarshal(meta, &item.Chunk.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		item.Score = 1 - distance
		results = append(results, item)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return results, nil
}

func (s *PostgresStore) Sources(ctx context.Context) ([]SourceCount, error) {
	if s.pool == nil {
		return nil, ErrClosed
	}

	rows, err := s.pool.Query(ctx, `
		SELECT source, COUNT(*) FROM kb_chunks
		WHERE collection = $1
		GROUP BY source
		ORDER BY source
	`, s.collection)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	var out []SourceCount
	for rows.Next() {
		var sc SourceCount
		if err := rows.Scan(&sc.Source, &sc.Chunks); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// Reset deletes the collection's rows. The table and its index stay in place for other
// collections.
func (s *PostgresStore) Reset(ctx context.Context) error {
	if s.pool == nil {
		return ErrClosed
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM kb_chunks WHERE collection = $1`, s.collection); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	return nil
}

// Close is a no-op; the pool belongs to the caller.
func (s *PostgresStore) Close() error {
	return nil
}

var _ Store = (*PostgresStore)(nil)
