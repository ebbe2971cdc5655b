package watcher

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/kb-agent/ingestion"
)

type recordingIngester struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingIngester) IngestFile(_ context.Context, path, name string) (ingestion.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, name)
	return ingestion.Result{Filename: name, Chunks: 1}, nil
}

func (r *recordingIngester) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func startWatcher(t *testing.T, ingester FileIngester) string {
	t.Helper()
	dir := t.TempDir()

	w, err := New(ingester, 50*time.Millisecond, log.New(io.Discard, "", 0))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, dir) }()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
		w.Close()
	})

	// Give the watcher time to register the directory.
	time.Sleep(50 * time.Millisecond)
	return dir
}

func TestWatcherIndexesSupportedFiles(t *testing.T) {
	ingester := &recordingIngester{}
	dir := startWatcher(t, ingester)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.json"), []byte("{}"), 0o600))

	assert.Eventually(t, func() bool {
		return len(ingester.names()) == 1
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"notes.txt"}, ingester.names())
}

func TestWatcherSkipsUnchangedRewrite(t *testing.T) {
	ingester := &recordingIngester{}
	dir := startWatcher(t, ingester)
	path := filepath.Join(dir, "notes.txt")

	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))
	require.Eventually(t, func() bool { return len(ingester.names()) == 1 }, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))
	time.Sleep(200 * time.Millisecond)
	assert.Len(t, ingester.names(), 1)

	require.NoError(t, os.WriteFile(path, []byte("hello again"), 0o600))
	assert.Eventually(t, func() bool { return len(ingester.names()) == 2 }, 2*time.Second, 20*time.Millisecond)
}

func TestWatcherMissingDirectory(t *testing.T) {
	w, err := New(&recordingIngester{}, 0, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	defer w.Close()

	err = w.Run(context.Background(), filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}
