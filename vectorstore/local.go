package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/fabfab/kb-agent/document"
)

const localSchema = `
CREATE TABLE IF NOT EXISTS entries (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	source TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	content TEXT NOT NULL,
	metadata TEXT NOT NULL,
	embedding BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_source ON entries(source);
CREATE TABLE IF NOT EXISTS collection_meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// LocalStore keeps one collection in a SQLite file under <persistDir>/<collection>/ and searches
// it by brute-force cosine similarity.
type LocalStore struct {
	mu         sync.RWMutex
	db         *sql.DB
	dir        string
	collection string
}

// NewLocalStore opens or creates the collection directory and database.
func NewLocalStore(persistDir, collection string) (*LocalStore, error) {
	if persistDir == "" || collection == "" {
		return nil, fmt.Errorf("persist dir and collection name are required")
	}
	s := &LocalStore{
		dir:        filepath.Join(persistDir, collection),
		collection: collection,
	}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the collection directory that Reset deletes.
func (s *LocalStore) Dir() string {
	return s.dir
}

func (s *LocalStore) open() error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create collection directory: %w", err)
	}

	dbPath := filepath.Join(s.dir, "collection.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("open collection database: %w", err)
	}
	// One connection serialises writers instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(localSchema); err != nil {
		db.Close()
		return fmt.Errorf("create collection schema: %w", err)
	}

	s.db = db
	return nil
}

func (s *LocalStore) Add(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrClosed
	}

	dim, err := s.dimension(ctx)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if dim == 0 {
		dim = len(entries[0].Embedding)
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO collection_meta (key, value) VALUES ('dimension', ?)`,
			strconv.Itoa(dim)); err != nil {
			return fmt.Errorf("record dimension: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entries (id, source, chunk_index, content, metadata, embedding)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, entry := range entries {
		if len(entry.Embedding) != dim || dim == 0 {
			return fmt.Errorf("%w: entry %d has %d, collection has %d", ErrDimensionMismatch, i, len(entry.Embedding), dim)
		}
		meta, err := json.Marshal(entry.Chunk.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			entry.Chunk.ID,
			entry.Chunk.Metadata.Source(),
			entry.Chunk.Index,
			entry.Chunk.Text,
			string(meta),
			encodeVector(entry.Embedding),
		); err != nil {
			return fmt.Errorf("insert entry %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *LocalStore) dimension(ctx context.Context) (int, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM collection_meta WHERE key = 'dimension'`).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read dimension: %w", err)
	}
	return strconv.Atoi(value)
}

func (s *LocalStore) Search(ctx context.Context, embedding []float32, k int) ([]document.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}

	dim, err := s.dimension(ctx)
	if err != nil {
		return nil, err
	}
	if dim == 0 {
		return []document.Match{}, nil
	}
	if len(embedding) != dim {
		return nil, fmt.Errorf("%w: query has %d, collection has %d", ErrDimensionMismatch, len(embedding), dim)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT seq, id, chunk_index, content, metadata, embedding FROM entries`)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	items := make([]scored, 0)
	for rows.Next() {
		var (
			item     scored
			metaJSON string
			blob     []byte
		)
		if err := rows.Scan(&item.seq, &item.match.Chunk.ID, &item.match.Chunk.Index, &item.match.Chunk.Text, &metaJSON, &blob); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &item.match.Chunk.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		item.match.Score = CosineSimilarity(embedding, decodeVector(blob))
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return topK(items, k), nil
}

func (s *LocalStore) Sources(ctx context.Context) ([]SourceCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `SELECT source, COUNT(*) FROM entries GROUP BY source ORDER BY source`)
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

// Reset closes the database, deletes the collection directory and recreates it empty.
func (s *LocalStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("close collection database: %w", err)
		}
		s.db = nil
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("remove collection directory: %w", err)
	}
	return s.open()
}

func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) []float32 {
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}

var _ Store = (*LocalStore)(nil)
