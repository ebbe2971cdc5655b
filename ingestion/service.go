package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/fabfab/kb-agent/document"
	"github.com/fabfab/kb-agent/knowledge"
)

// ErrEmptyDocument is returned when a file yields no text to index.
var ErrEmptyDocument = errors.New("document contains no extractable text")

// Indexer persists embedded chunks.
type Indexer interface {
	AddDocuments(ctx context.Context, chunks []document.Chunk) (int, error)
}

// Catalog mirrors indexed documents into the knowledge graph.
type Catalog interface {
	SyncDocument(ctx context.Context, doc knowledge.Document) error
}

// Result summarises one ingested file.
type Result struct {
	DocumentID string
	Filename   string
	Chunks     int
}

type Service struct {
	index    Indexer
	splitter *Splitter
	catalog  Catalog
	logger   *log.Logger
}

// NewService wires the load, split and index steps. catalog may be nil.
func NewService(index Indexer, splitter *Splitter, catalog Catalog, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	if splitter == nil {
		splitter = NewSplitter()
	}

	return &Service{
		index:    index,
		splitter: splitter,
		catalog:  catalog,
		logger:   logger,
	}
}

// IngestUpload stores r in a private temporary directory under name, indexes it and removes
// the directory on every exit path.
func (s *Service) IngestUpload(ctx context.Context, name string, r io.Reader) (Result, error) {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) || name == "" {
		return Result{}, fmt.Errorf("%w: missing file name", ErrUnsupportedFormat)
	}
	if DetectFormat(name) == FormatUnknown {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}

	dir, err := os.MkdirTemp("", "kb-upload-*")
	if err != nil {
		return Result{}, fmt.Errorf("create temp dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			s.logger.Printf("remove temp dir %s: %v", dir, rmErr)
		}
	}()

	path := filepath.Join(dir, name)
	if err := writeFile(path, r); err != nil {
		return Result{}, err
	}

	return s.IngestFile(ctx, path, name)
}

func writeFile(path string, r io.Reader) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return nil
}

// IngestFile loads, splits and indexes the file at path. name backfills the source of chunks
// whose loader did not set one.
func (s *Service) IngestFile(ctx context.Context, path, name string) (Result, error) {
	if s.index == nil {
		return Result{}, fmt.Errorf("index not configured")
	}
	if name == "" {
		name = filepath.Base(path)
	}

	segments, err := Load(ctx, path)
	if err != nil {
		return Result{}, err
	}

	chunks := s.splitter.Split(segments)
	if len(chunks) == 0 {
		return Result{}, fmt.Errorf("%w: %s", ErrEmptyDocument, name)
	}
	BackfillSource(chunks, name)

	docID := uuid.New().String()
	for i := range chunks {
		chunks[i].ID = uuid.New().String()
	}

	added, err := s.index.AddDocuments(ctx, chunks)
	if err != nil {
		return Result{}, fmt.Errorf("index %s: %w", name, err)
	}

	if s.catalog != nil {
		if err := s.catalog.SyncDocument(ctx, catalogDocument(docID, name, path, chunks)); err != nil {
			s.logger.Printf("sync knowledge graph for %s: %v", name, err)
		}
	}

	s.logger.Printf("indexed %s (%d chunks)", name, added)
	return Result{DocumentID: docID, Filename: name, Chunks: added}, nil
}

// IngestDirectory indexes every supported file under dir. Failures are logged per file and the
// walk continues.
func (s *Service) IngestDirectory(ctx context.Context, dir string) ([]Result, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("data directory: %w", err)
	}

	entries := make([]string, 0)
	if err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() && DetectFormat(path) != FormatUnknown {
			entries = append(entries, path)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("walk data directory: %w", err)
	}

	if len(entries) == 0 {
		s.logger.Printf("no pdf or txt files found in %s", dir)
		return nil, nil
	}

	results := make([]Result, 0, len(entries))
	for _, path := range entries {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := s.IngestFile(ctx, path, filepath.Base(path))
		if err != nil {
			s.logger.Printf("ingest failed for %s: %v", path, err)
			continue
		}
		results = append(results, res)
	}

	return results, nil
}

func catalogDocument(id, name, path string, chunks []document.Chunk) knowledge.Document {
	doc := knowledge.Document{
		ID:     id,
		Source: name,
		SHA:    fileSHA(path),
		Chunks: make([]knowledge.Chunk, 0, len(chunks)),
	}
	for _, c := range chunks {
		doc.Chunks = append(doc.Chunks, knowledge.Chunk{ID: c.ID, Index: c.Index, Text: c.Text})
	}
	return doc
}

func fileSHA(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))
}
