package graph

import (
	"context"
)

// Store is the port every lifecycle component talks to the graph through.
// Each operation is individually atomic at the store, but operations are
// never composable into one transaction across network round trips; the
// deletion executor compensates for that with its undo log.
type Store interface {
	// Upserts. Create-if-absent, else union the document id into the
	// element's provenance set and fill only currently-empty attribute
	// fields. One batch runs as one write transaction.
	UpsertEntities(ctx context.Context, docID string, batch []Entity) (UpsertStats, error)
	UpsertRelationships(ctx context.Context, docID string, batch []Relationship) (UpsertStats, error)

	// Provenance arithmetic. Each call is a single atomic subtract/union
	// returning the resulting provenance set.
	RemoveEntityProvenance(ctx context.Context, key EntityKey, docID string) ([]string, error)
	RemoveRelationshipProvenance(ctx context.Context, key RelationshipKey, docID string) ([]string, error)
	AddEntityProvenance(ctx context.Context, key EntityKey, docID string) ([]string, error)
	AddRelationshipProvenance(ctx context.Context, key RelationshipKey, docID string) ([]string, error)

	// Conditional deletes. Remove the element only if its provenance is
	// empty at the store-side instant of the check; report whether a
	// delete happened. This primitive is what makes orphan reaping safe
	// against concurrent re-ingestion.
	DeleteEntityIfOrphaned(ctx context.Context, key EntityKey) (bool, error)
	DeleteRelationshipIfOrphaned(ctx context.Context, key RelationshipKey) (bool, error)

	// Pre-image restores, used only by undo-log replay.
	RestoreEntity(ctx context.Context, entity Entity) error
	RestoreRelationship(ctx context.Context, rel Relationship) error

	// Queries.
	EntitiesByDocument(ctx context.Context, docID string) ([]Entity, error)
	RelationshipsByDocument(ctx context.Context, docID string) ([]Relationship, error)
	RelationshipsByEntity(ctx context.Context, key EntityKey) ([]Relationship, error)
	OrphanedEntities(ctx context.Context) ([]Entity, error)
	OrphanedRelationships(ctx context.Context) ([]Relationship, error)
	EntitiesWithDanglingProvenance(ctx context.Context) ([]Entity, error)
	RelationshipsWithDanglingProvenance(ctx context.Context) ([]Relationship, error)

	// Document records.
	UpsertDocument(ctx context.Context, doc Document) error
	GetDocument(ctx context.Context, docID string) (*Document, error)
	DeleteDocument(ctx context.Context, docID string) error
	RestoreDocument(ctx context.Context, doc Document) error
	ListDocuments(ctx context.Context) ([]DocumentSummary, error)

	// Whole-graph maintenance.
	Counts(ctx context.Context) (GraphCounts, error)
	DeleteAll(ctx context.Context) (GraphCounts, error)
}
