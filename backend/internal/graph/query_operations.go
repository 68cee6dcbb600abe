package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// ============================================================================
// Read Queries
// ============================================================================

// EntitiesByDocument returns every entity whose provenance contains docID
func (s *Neo4jStore) EntitiesByDocument(ctx context.Context, docID string) ([]Entity, error) {
	query := `
		MATCH (e:Entity)
		WHERE $docID IN coalesce(e.provenance, [])
		RETURN e.name AS name, e.type AS type, e.description AS description,
		       e.provenance AS provenance, ` + attrProjection("e") + ` AS attrs
		ORDER BY e.type, e.name
	`
	return s.readEntities(ctx, "entities by document", query, map[string]any{"docID": docID})
}

// RelationshipsByDocument returns every relationship whose provenance
// contains docID
func (s *Neo4jStore) RelationshipsByDocument(ctx context.Context, docID string) ([]Relationship, error) {
	query := `
		MATCH (a:Entity)-[r:RELATED]->(b:Entity)
		WHERE $docID IN coalesce(r.provenance, [])
		RETURN a.name AS src_name, a.type AS src_type,
		       b.name AS dst_name, b.type AS dst_type,
		       r.type AS rel_type, r.description AS description,
		       r.provenance AS provenance, ` + attrProjection("r") + ` AS attrs
	`
	return s.readRelationships(ctx, "relationships by document", query, map[string]any{"docID": docID})
}

// RelationshipsByEntity returns every relationship touching the entity in
// either direction. Used by the deletion executor to cascade-remove edges
// before an entity delete so endpoints never dangle.
func (s *Neo4jStore) RelationshipsByEntity(ctx context.Context, key EntityKey) ([]Relationship, error) {
	query := `
		MATCH (e:Entity {name: $name, type: $type})-[r:RELATED]-(:Entity)
		WITH DISTINCT r, startNode(r) AS a, endNode(r) AS b
		RETURN a.name AS src_name, a.type AS src_type,
		       b.name AS dst_name, b.type AS dst_type,
		       r.type AS rel_type, r.description AS description,
		       r.provenance AS provenance, ` + attrProjection("r") + ` AS attrs
	`
	return s.readRelationships(ctx, "relationships by entity", query, map[string]any{
		"name": key.Name,
		"type": key.Type,
	})
}

// OrphanedEntities returns entities whose provenance set is empty
func (s *Neo4jStore) OrphanedEntities(ctx context.Context) ([]Entity, error) {
	query := `
		MATCH (e:Entity)
		WHERE size(coalesce(e.provenance, [])) = 0
		RETURN e.name AS name, e.type AS type, e.description AS description,
		       e.provenance AS provenance, ` + attrProjection("e") + ` AS attrs
	`
	return s.readEntities(ctx, "orphaned entities", query, nil)
}

// OrphanedRelationships returns relationships whose provenance set is empty
func (s *Neo4jStore) OrphanedRelationships(ctx context.Context) ([]Relationship, error) {
	query := `
		MATCH (a:Entity)-[r:RELATED]->(b:Entity)
		WHERE size(coalesce(r.provenance, [])) = 0
		RETURN a.name AS src_name, a.type AS src_type,
		       b.name AS dst_name, b.type AS dst_type,
		       r.type AS rel_type, r.description AS description,
		       r.provenance AS provenance, ` + attrProjection("r") + ` AS attrs
	`
	return s.readRelationships(ctx, "orphaned relationships", query, nil)
}

// EntitiesWithDanglingProvenance returns entities whose provenance references
// at least one document id with no Document record. These are the residue of
// a crash between provenance removal and document deletion, or of manual
// graph edits.
func (s *Neo4jStore) EntitiesWithDanglingProvenance(ctx context.Context) ([]Entity, error) {
	query := `
		OPTIONAL MATCH (d:Document)
		WITH collect(d.id) AS live
		MATCH (e:Entity)
		WHERE size([doc IN coalesce(e.provenance, []) WHERE NOT doc IN live]) > 0
		RETURN e.name AS name, e.type AS type, e.description AS description,
		       e.provenance AS provenance, ` + attrProjection("e") + ` AS attrs
	`
	return s.readEntities(ctx, "entities with dangling provenance", query, nil)
}

// RelationshipsWithDanglingProvenance is the relationship analogue of
// EntitiesWithDanglingProvenance
func (s *Neo4jStore) RelationshipsWithDanglingProvenance(ctx context.Context) ([]Relationship, error) {
	query := `
		OPTIONAL MATCH (d:Document)
		WITH collect(d.id) AS live
		MATCH (a:Entity)-[r:RELATED]->(b:Entity)
		WHERE size([doc IN coalesce(r.provenance, []) WHERE NOT doc IN live]) > 0
		RETURN a.name AS src_name, a.type AS src_type,
		       b.name AS dst_name, b.type AS dst_type,
		       r.type AS rel_type, r.description AS description,
		       r.provenance AS provenance, ` + attrProjection("r") + ` AS attrs
	`
	return s.readRelationships(ctx, "relationships with dangling provenance", query, nil)
}

func (s *Neo4jStore) readEntities(ctx context.Context, operation, query string, params map[string]any) ([]Entity, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, wrapErr(operation, err)
	}

	var entities []Entity
	for result.Next(ctx) {
		entities = append(entities, entityFromRecord(result.Record()))
	}
	if err := result.Err(); err != nil {
		return nil, wrapErr(operation, err)
	}
	return entities, nil
}

func (s *Neo4jStore) readRelationships(ctx context.Context, operation, query string, params map[string]any) ([]Relationship, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, wrapErr(operation, err)
	}

	var rels []Relationship
	for result.Next(ctx) {
		rels = append(rels, relationshipFromRecord(result.Record()))
	}
	if err := result.Err(); err != nil {
		return nil, wrapErr(operation, err)
	}
	return rels, nil
}
