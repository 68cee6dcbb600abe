package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
	"manualgraph/backend/pkg/errors"
	"manualgraph/backend/pkg/logger"
)

// Neo4jStore implements Store against a Neo4j property graph.
//
// Graph model:
//
//	(d:Document {id, filename, ingested_at})
//	(e:Entity {name, type, description, provenance, attr_*})
//	(a:Entity)-[r:RELATED {type, description, provenance, attr_*}]->(b:Entity)
//
// Provenance sets live as list properties on the elements themselves.
// Every mutation here is a single Cypher statement, so union, subtraction,
// and the emptiness check of a conditional delete are each atomic at the
// store even though calls can interleave freely across callers.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewNeo4jStore creates a store backed by the given driver
func NewNeo4jStore(driver neo4j.DriverWithContext) *Neo4jStore {
	return &Neo4jStore{
		driver: driver,
		logger: logger.Named("graph"),
	}
}

// Close closes the underlying driver connection
func (s *Neo4jStore) Close() error {
	return s.driver.Close(context.Background())
}

// wrapErr maps driver connectivity failures onto the retriable error type;
// everything else passes through wrapped.
func wrapErr(operation string, err error) error {
	if err == nil {
		return nil
	}
	if neo4j.IsConnectivityError(err) {
		return errors.NewGraphUnavailable(operation, err)
	}
	return fmt.Errorf("%s: %w", operation, err)
}

// ============================================================================
// Upsert Operations
// ============================================================================

// UpsertEntities merges a batch of entities in one write transaction.
// Per entity: create-if-absent, union $docID into provenance, and fill only
// currently-empty attribute fields.
func (s *Neo4jStore) UpsertEntities(ctx context.Context, docID string, batch []Entity) (UpsertStats, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		var stats UpsertStats
		for _, entity := range batch {
			fill, fillParams, err := fillEmptyClauses("e", "description", entity.Attributes)
			if err != nil {
				return nil, fmt.Errorf("entity %s: %w", entity.EntityKey, err)
			}

			query := `
				MERGE (e:Entity {name: $name, type: $type})
				ON CREATE SET e.provenance = [$docID], e.__new = true
				ON MATCH SET ` + provenanceUnion("e") + `
				` + fill + `
				WITH e, coalesce(e.__new, false) AS created
				REMOVE e.__new
				RETURN created
			`

			params := map[string]any{
				"name":        entity.Name,
				"type":        entity.Type,
				"docID":       docID,
				"description": entity.Description,
			}
			for k, v := range fillParams {
				params[k] = v
			}

			res, err := tx.Run(ctx, query, params)
			if err != nil {
				return nil, err
			}
			record, err := res.Single(ctx)
			if err != nil {
				return nil, err
			}
			if getBoolFromRecord(record, "created") {
				stats.Created++
			} else {
				stats.Updated++
			}
		}
		return stats, nil
	})
	if err != nil {
		return UpsertStats{}, wrapErr("upsert entities", err)
	}

	stats := result.(UpsertStats)
	s.logger.Debug("Entity batch merged",
		zap.String("document_id", docID),
		zap.Int("created", stats.Created),
		zap.Int("updated", stats.Updated),
	)
	return stats, nil
}

// UpsertRelationships merges a batch of relationships in one write
// transaction, keyed by (source key, target key, type). Endpoint entities are
// merged too (with provenance union) so an edge can never be created dangling.
func (s *Neo4jStore) UpsertRelationships(ctx context.Context, docID string, batch []Relationship) (UpsertStats, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		var stats UpsertStats
		for _, rel := range batch {
			fill, fillParams, err := fillEmptyClauses("r", "description", rel.Attributes)
			if err != nil {
				return nil, fmt.Errorf("relationship %s: %w", rel.RelationshipKey, err)
			}

			query := `
				MERGE (a:Entity {name: $srcName, type: $srcType})
				ON CREATE SET a.provenance = [$docID]
				ON MATCH SET ` + provenanceUnion("a") + `
				MERGE (b:Entity {name: $dstName, type: $dstType})
				ON CREATE SET b.provenance = [$docID]
				ON MATCH SET ` + provenanceUnion("b") + `
				MERGE (a)-[r:RELATED {type: $relType}]->(b)
				ON CREATE SET r.provenance = [$docID], r.__new = true
				ON MATCH SET ` + provenanceUnion("r") + `
				` + fill + `
				WITH r, coalesce(r.__new, false) AS created
				REMOVE r.__new
				RETURN created
			`

			params := map[string]any{
				"srcName":     rel.Source.Name,
				"srcType":     rel.Source.Type,
				"dstName":     rel.Target.Name,
				"dstType":     rel.Target.Type,
				"relType":     rel.Type,
				"docID":       docID,
				"description": rel.Description,
			}
			for k, v := range fillParams {
				params[k] = v
			}

			res, err := tx.Run(ctx, query, params)
			if err != nil {
				return nil, err
			}
			record, err := res.Single(ctx)
			if err != nil {
				return nil, err
			}
			if getBoolFromRecord(record, "created") {
				stats.Created++
			} else {
				stats.Updated++
			}
		}
		return stats, nil
	})
	if err != nil {
		return UpsertStats{}, wrapErr("upsert relationships", err)
	}

	stats := result.(UpsertStats)
	s.logger.Debug("Relationship batch merged",
		zap.String("document_id", docID),
		zap.Int("created", stats.Created),
		zap.Int("updated", stats.Updated),
	)
	return stats, nil
}

// ============================================================================
// Restore Operations (undo-log replay)
// ============================================================================

// RestoreEntity recreates an entity from its pre-image, overwriting
// description and attributes. Only undo replay calls this.
func (s *Neo4jStore) RestoreEntity(ctx context.Context, entity Entity) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MERGE (e:Entity {name: $name, type: $type})
		SET e.provenance = $provenance,
		    e.description = $description
		SET e += $attrs
	`

	_, err := session.Run(ctx, query, map[string]any{
		"name":        entity.Name,
		"type":        entity.Type,
		"provenance":  entity.Provenance,
		"description": entity.Description,
		"attrs":       attrsToProps(entity.Attributes),
	})
	return wrapErr("restore entity", err)
}

// RestoreRelationship recreates a relationship from its pre-image. Undo
// replays in reverse order, so endpoint entities are always restored before
// the relationships that touch them.
func (s *Neo4jStore) RestoreRelationship(ctx context.Context, rel Relationship) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MERGE (a:Entity {name: $srcName, type: $srcType})
		MERGE (b:Entity {name: $dstName, type: $dstType})
		MERGE (a)-[r:RELATED {type: $relType}]->(b)
		SET r.provenance = $provenance,
		    r.description = $description
		SET r += $attrs
	`

	_, err := session.Run(ctx, query, map[string]any{
		"srcName":     rel.Source.Name,
		"srcType":     rel.Source.Type,
		"dstName":     rel.Target.Name,
		"dstType":     rel.Target.Type,
		"relType":     rel.Type,
		"provenance":  rel.Provenance,
		"description": rel.Description,
		"attrs":       attrsToProps(rel.Attributes),
	})
	return wrapErr("restore relationship", err)
}
