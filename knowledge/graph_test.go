package knowledge

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphRequiresDriver(t *testing.T) {
	g := NewGraph(nil)
	assert.Error(t, g.SyncDocument(context.Background(), Document{}))
	assert.Error(t, g.Purge(context.Background()))
}

func TestGraphSyncAndPurge(t *testing.T) {
	if os.Getenv("RUN_DB_INTEGRATION_TESTS") != "1" {
		t.Skip("set RUN_DB_INTEGRATION_TESTS=1 to run database connectivity checks")
	}

	ctx := context.Background()
	uri := os.Getenv("NEO4J_URI")
	if uri == "" {
		uri = "neo4j://localhost:7687"
	}
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(os.Getenv("NEO4J_USERNAME"), os.Getenv("NEO4J_PASSWORD"), ""))
	require.NoError(t, err)
	defer driver.Close(ctx)

	g := NewGraph(driver)
	require.NoError(t, g.SyncDocument(ctx, Document{
		ID:     uuid.New().String(),
		Source: "integration.txt",
		SHA:    "sha",
		Chunks: []Chunk{
			{ID: uuid.New().String(), Index: 0, Text: "chunk one"},
			{ID: uuid.New().String(), Index: 1, Text: "chunk two"},
		},
	}))

	require.NoError(t, g.Purge(ctx))

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)
	result, err := session.Run(ctx, "MATCH (d:Document) RETURN count(d) AS n", nil)
	require.NoError(t, err)
	record, err := result.Single(ctx)
	require.NoError(t, err)
	n, _ := record.Get("n")
	assert.Equal(t, int64(0), n)
}
