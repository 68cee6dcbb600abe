package graph

import (
	"context"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
	"manualgraph/backend/pkg/errors"
)

// ============================================================================
// Document Record Operations
// ============================================================================

// UpsertDocument creates the document record if absent. Re-ingestion keeps
// the original ingested_at.
func (s *Neo4jStore) UpsertDocument(ctx context.Context, doc Document) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MERGE (d:Document {id: $id})
		ON CREATE SET d.filename = $filename,
		              d.ingested_at = datetime($ingestedAt)
		ON MATCH SET d.filename = coalesce(d.filename, $filename)
	`

	ingestedAt := doc.IngestedAt
	if ingestedAt.IsZero() {
		ingestedAt = time.Now()
	}

	_, err := session.Run(ctx, query, map[string]any{
		"id":         doc.ID,
		"filename":   doc.Filename,
		"ingestedAt": ingestedAt.UTC().Format(time.RFC3339),
	})
	return wrapErr("upsert document", err)
}

// GetDocument fetches a document record, returning a typed not-found error
// when the id is unknown
func (s *Neo4jStore) GetDocument(ctx context.Context, docID string) (*Document, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (d:Document {id: $id})
		RETURN d.id AS id, d.filename AS filename, d.ingested_at AS ingested_at
	`

	result, err := session.Run(ctx, query, map[string]any{"id": docID})
	if err != nil {
		return nil, wrapErr("get document", err)
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, wrapErr("get document", err)
		}
		return nil, errors.NewDocumentNotFound(docID)
	}

	record := result.Record()
	return &Document{
		ID:         getStringFromRecord(record, "id"),
		Filename:   getStringFromRecord(record, "filename"),
		IngestedAt: getTimeFromRecord(record, "ingested_at"),
	}, nil
}

// DeleteDocument removes the document record. Missing records are a no-op;
// delete is idempotent all the way down.
func (s *Neo4jStore) DeleteDocument(ctx context.Context, docID string) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MATCH (d:Document {id: $id})
		DETACH DELETE d
	`

	_, err := session.Run(ctx, query, map[string]any{"id": docID})
	return wrapErr("delete document", err)
}

// RestoreDocument recreates a document record from its pre-image during undo
// replay
func (s *Neo4jStore) RestoreDocument(ctx context.Context, doc Document) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MERGE (d:Document {id: $id})
		SET d.filename = $filename,
		    d.ingested_at = datetime($ingestedAt)
	`

	_, err := session.Run(ctx, query, map[string]any{
		"id":         doc.ID,
		"filename":   doc.Filename,
		"ingestedAt": doc.IngestedAt.UTC().Format(time.RFC3339),
	})
	return wrapErr("restore document", err)
}

// ListDocuments returns every document record with its referenced entity
// count, oldest first
func (s *Neo4jStore) ListDocuments(ctx context.Context) ([]DocumentSummary, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (d:Document)
		OPTIONAL MATCH (e:Entity)
		WHERE d.id IN coalesce(e.provenance, [])
		RETURN d.id AS id, d.filename AS filename, d.ingested_at AS ingested_at,
		       count(e) AS entity_count
		ORDER BY ingested_at
	`

	result, err := session.Run(ctx, query, nil)
	if err != nil {
		return nil, wrapErr("list documents", err)
	}

	var docs []DocumentSummary
	for result.Next(ctx) {
		record := result.Record()
		docs = append(docs, DocumentSummary{
			Document: Document{
				ID:         getStringFromRecord(record, "id"),
				Filename:   getStringFromRecord(record, "filename"),
				IngestedAt: getTimeFromRecord(record, "ingested_at"),
			},
			EntityCount: getInt64FromRecord(record, "entity_count"),
		})
	}
	if err := result.Err(); err != nil {
		return nil, wrapErr("list documents", err)
	}
	return docs, nil
}

// ============================================================================
// Whole-Graph Maintenance
// ============================================================================

// Counts returns whole-graph element counts
func (s *Neo4jStore) Counts(ctx context.Context) (GraphCounts, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		RETURN COUNT { MATCH (d:Document) } AS documents,
		       COUNT { MATCH (e:Entity) } AS entities,
		       COUNT { MATCH (:Entity)-[r:RELATED]->(:Entity) } AS relationships
	`

	result, err := session.Run(ctx, query, nil)
	if err != nil {
		return GraphCounts{}, wrapErr("graph counts", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return GraphCounts{}, wrapErr("graph counts", err)
	}
	return GraphCounts{
		Documents:     getInt64FromRecord(record, "documents"),
		Entities:      getInt64FromRecord(record, "entities"),
		Relationships: getInt64FromRecord(record, "relationships"),
	}, nil
}

// DeleteAll irreversibly wipes every document, entity, and relationship and
// returns the counts that existed beforehand
func (s *Neo4jStore) DeleteAll(ctx context.Context) (GraphCounts, error) {
	counts, err := s.Counts(ctx)
	if err != nil {
		return GraphCounts{}, err
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MATCH (n)
		WHERE n:Document OR n:Entity
		DETACH DELETE n
	`

	if _, err := session.Run(ctx, query, nil); err != nil {
		return GraphCounts{}, wrapErr("delete all", err)
	}

	s.logger.Warn("Graph wiped",
		zap.Int64("documents", counts.Documents),
		zap.Int64("entities", counts.Entities),
		zap.Int64("relationships", counts.Relationships),
	)
	return counts, nil
}
