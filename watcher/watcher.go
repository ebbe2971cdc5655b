// Package watcher indexes PDF and TXT files as they appear in a directory.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fabfab/kb-agent/ingestion"
)

// DefaultSettle is how long a file must stay quiet before it is indexed.
const DefaultSettle = 500 * time.Millisecond

// FileIngester indexes one file from disk.
type FileIngester interface {
	IngestFile(ctx context.Context, path, name string) (ingestion.Result, error)
}

type Watcher struct {
	fs       *fsnotify.Watcher
	ingester FileIngester
	settle   time.Duration
	logger   *log.Logger

	// indexed remembers content hashes so rewrites with the same bytes are not re-appended.
	indexed map[string]string
}

func New(ingester FileIngester, settle time.Duration, logger *log.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Watcher{
		fs:       fsw,
		ingester: ingester,
		settle:   settle,
		logger:   logger,
		indexed:  make(map[string]string),
	}, nil
}

// Run watches dir until ctx ends. Created or rewritten files with a supported extension are
// indexed once they have settled. Removals are ignored: the collection is append-only.
func (w *Watcher) Run(ctx context.Context, dir string) error {
	if err := w.fs.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Printf("watching %s for new documents", dir)

	ticker := time.NewTicker(w.settle / 2)
	defer ticker.Stop()

	pending := make(map[string]time.Time)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if ingestion.DetectFormat(event.Name) == ingestion.FormatUnknown {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				pending[event.Name] = time.Now()
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Printf("watch error: %v", err)
		case now := <-ticker.C:
			for path, last := range pending {
				if now.Sub(last) < w.settle {
					continue
				}
				delete(pending, path)
				w.ingest(ctx, path)
			}
		}
	}
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	sum, err := hashFile(path)
	if err != nil {
		w.logger.Printf("skip %s: %v", path, err)
		return
	}
	if w.indexed[path] == sum {
		return
	}

	if _, err := w.ingester.IngestFile(ctx, path, filepath.Base(path)); err != nil {
		w.logger.Printf("ingest failed for %s: %v", path, err)
		return
	}
	w.indexed[path] = sum
}

func (w *Watcher) Close() error {
	return w.fs.Close()
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
