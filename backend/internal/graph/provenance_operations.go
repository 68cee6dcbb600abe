package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"manualgraph/backend/pkg/errors"
)

// ============================================================================
// Provenance Set Operations
// ============================================================================

// RemoveEntityProvenance atomically subtracts docID from an entity's
// provenance set and returns the resulting set
func (s *Neo4jStore) RemoveEntityProvenance(ctx context.Context, key EntityKey, docID string) ([]string, error) {
	query := `
		MATCH (e:Entity {name: $name, type: $type})
		SET e.provenance = [d IN coalesce(e.provenance, []) WHERE d <> $docID]
		RETURN e.provenance AS provenance
	`
	return s.runProvenanceUpdate(ctx, "remove entity provenance", key.String(), query, map[string]any{
		"name":  key.Name,
		"type":  key.Type,
		"docID": docID,
	})
}

// AddEntityProvenance atomically unions docID into an entity's provenance
// set. The inverse of RemoveEntityProvenance, used by undo replay.
func (s *Neo4jStore) AddEntityProvenance(ctx context.Context, key EntityKey, docID string) ([]string, error) {
	query := `
		MATCH (e:Entity {name: $name, type: $type})
		SET ` + provenanceUnion("e") + `
		RETURN e.provenance AS provenance
	`
	return s.runProvenanceUpdate(ctx, "add entity provenance", key.String(), query, map[string]any{
		"name":  key.Name,
		"type":  key.Type,
		"docID": docID,
	})
}

// RemoveRelationshipProvenance atomically subtracts docID from a
// relationship's provenance set and returns the resulting set
func (s *Neo4jStore) RemoveRelationshipProvenance(ctx context.Context, key RelationshipKey, docID string) ([]string, error) {
	query := `
		MATCH (a:Entity {name: $srcName, type: $srcType})-[r:RELATED {type: $relType}]->(b:Entity {name: $dstName, type: $dstType})
		SET r.provenance = [d IN coalesce(r.provenance, []) WHERE d <> $docID]
		RETURN r.provenance AS provenance
	`
	return s.runProvenanceUpdate(ctx, "remove relationship provenance", key.String(), query, relKeyParams(key, map[string]any{"docID": docID}))
}

// AddRelationshipProvenance atomically unions docID into a relationship's
// provenance set
func (s *Neo4jStore) AddRelationshipProvenance(ctx context.Context, key RelationshipKey, docID string) ([]string, error) {
	query := `
		MATCH (a:Entity {name: $srcName, type: $srcType})-[r:RELATED {type: $relType}]->(b:Entity {name: $dstName, type: $dstType})
		SET ` + provenanceUnion("r") + `
		RETURN r.provenance AS provenance
	`
	return s.runProvenanceUpdate(ctx, "add relationship provenance", key.String(), query, relKeyParams(key, map[string]any{"docID": docID}))
}

func (s *Neo4jStore) runProvenanceUpdate(ctx context.Context, operation, elementKey, query string, params map[string]any) ([]string, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, wrapErr(operation, err)
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, wrapErr(operation, err)
		}
		return nil, errors.NewElementNotFound(elementKey)
	}
	return getStringSliceFromRecord(result.Record(), "provenance"), nil
}

// ============================================================================
// Conditional Deletes
// ============================================================================

// DeleteEntityIfOrphaned deletes the entity only if its provenance set is
// empty at the instant of the store-side check; otherwise it is a no-op.
// The WHERE clause and the delete run as one statement, which closes the
// race against a concurrent merge re-adding a provenance entry.
func (s *Neo4jStore) DeleteEntityIfOrphaned(ctx context.Context, key EntityKey) (bool, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MATCH (e:Entity {name: $name, type: $type})
		WHERE size(coalesce(e.provenance, [])) = 0
		WITH e
		DETACH DELETE e
		RETURN count(*) AS deleted
	`

	result, err := session.Run(ctx, query, map[string]any{
		"name": key.Name,
		"type": key.Type,
	})
	if err != nil {
		return false, wrapErr("conditional entity delete", err)
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return false, wrapErr("conditional entity delete", err)
		}
		return false, nil
	}
	return getInt64FromRecord(result.Record(), "deleted") > 0, nil
}

// DeleteRelationshipIfOrphaned deletes the relationship only if its
// provenance set is empty at the instant of the store-side check
func (s *Neo4jStore) DeleteRelationshipIfOrphaned(ctx context.Context, key RelationshipKey) (bool, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MATCH (a:Entity {name: $srcName, type: $srcType})-[r:RELATED {type: $relType}]->(b:Entity {name: $dstName, type: $dstType})
		WHERE size(coalesce(r.provenance, [])) = 0
		WITH r
		DELETE r
		RETURN count(*) AS deleted
	`

	result, err := session.Run(ctx, query, relKeyParams(key, nil))
	if err != nil {
		return false, wrapErr("conditional relationship delete", err)
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return false, wrapErr("conditional relationship delete", err)
		}
		return false, nil
	}
	return getInt64FromRecord(result.Record(), "deleted") > 0, nil
}

func relKeyParams(key RelationshipKey, extra map[string]any) map[string]any {
	params := map[string]any{
		"srcName": key.Source.Name,
		"srcType": key.Source.Type,
		"dstName": key.Target.Name,
		"dstType": key.Target.Type,
		"relType": key.Type,
	}
	for k, v := range extra {
		params[k] = v
	}
	return params
}
