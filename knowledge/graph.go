// Package knowledge mirrors indexed uploads into a Neo4j graph of Document and Chunk nodes.
package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

var errNilDriver = errors.New("neo4j driver is nil")

type Document struct {
	ID     string
	Source string
	SHA    string
	Chunks []Chunk
}

type Chunk struct {
	ID    string
	Index int
	Text  string
}

type Graph struct {
	driver neo4j.DriverWithContext
}

func NewGraph(driver neo4j.DriverWithContext) *Graph {
	return &Graph{driver: driver}
}

// SyncDocument upserts the document node keyed by source and replaces its chunk nodes. A
// re-upload of the same file name keeps one Document node, while the vector collection keeps
// every upload.
func (g *Graph) SyncDocument(ctx context.Context, doc Document) error {
	if g == nil || g.driver == nil {
		return errNilDriver
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (d:Document {source: $source})
			SET d.id = $id,
			    d.sha256 = $sha,
			    d.updated_at = datetime()
		`, map[string]any{
			"id":     doc.ID,
			"source": doc.Source,
			"sha":    doc.SHA,
		}); err != nil {
			return nil, fmt.Errorf("upsert document node: %w", err)
		}

		if _, err := tx.Run(ctx, `
			MATCH (d:Document {source: $source})-[:HAS_CHUNK]->(c:Chunk)
			DETACH DELETE c
		`, map[string]any{"source": doc.Source}); err != nil {
			return nil, fmt.Errorf("clear existing chunk nodes: %w", err)
		}

		for _, chunk := range doc.Chunks {
			if _, err := tx.Run(ctx, `
				MATCH (d:Document {source: $source})
				MERGE (c:Chunk {id: $chunk_id})
				SET c.index = $chunk_index,
				    c.text = $chunk_text
				MERGE (d)-[:HAS_CHUNK {order: $chunk_index}]->(c)
			`, map[string]any{
				"source":      doc.Source,
				"chunk_id":    chunk.ID,
				"chunk_index": chunk.Index,
				"chunk_text":  chunk.Text,
			}); err != nil {
				return nil, fmt.Errorf("upsert chunk node: %w", err)
			}
		}

		return nil, nil
	})

	return err
}

// Purge removes every Document and Chunk node.
func (g *Graph) Purge(ctx context.Context) error {
	if g == nil || g.driver == nil {
		return errNilDriver
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	queries := []string{
		"MATCH (c:Chunk) DETACH DELETE c",
		"MATCH (d:Document) DETACH DELETE d",
	}

	for _, query := range queries {
		result, err := session.Run(ctx, query, nil)
		if err != nil {
			return fmt.Errorf("purge graph: %w", err)
		}
		if _, err := result.Consume(ctx); err != nil {
			return fmt.Errorf("purge graph: %w", err)
		}
	}
	return nil
}
