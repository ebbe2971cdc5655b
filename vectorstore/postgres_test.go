package vectorstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/kb-agent/database"
)

func TestPostgresStoreRequiresPool(t *testing.T) {
	store := NewPostgresStore(nil, "documents")

	_, err := store.Search(context.Background(), []float32{1}, 1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, store.Reset(context.Background()), ErrClosed)
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	if os.Getenv("RUN_DB_INTEGRATION_TESTS") != "1" {
		t.Skip("set RUN_DB_INTEGRATION_TESTS=1 to run postgres vector store checks")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, os.Getenv("POSTGRES_DSN"))
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, database.EnsureCollectionSchema(ctx, pool, 3))

	store := NewPostgresStore(pool, "test-"+uuid.NewString())
	defer store.Reset(context.Background()) //nolint:errcheck

	require.NoError(t, store.Add(ctx, []Entry{
		entry(uuid.NewString(), "a.txt", "east", 1, 0, 0),
		entry(uuid.NewString(), "b.txt", "north", 0, 1, 0),
	}))

	matches, err := store.Search(ctx, []float32{1, 0.1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "east", matches[0].Chunk.Text)
	assert.Equal(t, "a.txt", matches[0].Chunk.Metadata.Source())

	sources, err := store.Sources(ctx)
	require.NoError(t, err)
	assert.Len(t, sources, 2)

	require.NoError(t, store.Reset(ctx))
	matches, err = store.Search(ctx, []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, matches)
}
