package graph

import (
	"fmt"
	"time"
)

// ============================================================================
// Graph Element Types
// ============================================================================

// Document represents an ingested manual tracked in the graph
type Document struct {
	ID         string    `json:"document_id"`
	Filename   string    `json:"filename"`
	IngestedAt time.Time `json:"ingested_at"`
}

// DocumentSummary is a document with its referenced entity count
type DocumentSummary struct {
	Document
	EntityCount int64 `json:"entity_count"`
}

// EntityKey is the natural key of an entity: name plus type
type EntityKey struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func (k EntityKey) String() string {
	return fmt.Sprintf("%s/%s", k.Type, k.Name)
}

// Entity is a graph node carrying free-form attributes and the provenance
// set of document ids that contributed it. While an entity exists its
// provenance must be non-empty; an empty set marks an orphan for the reaper.
type Entity struct {
	EntityKey
	Description string            `json:"description,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Provenance  []string          `json:"provenance"`
}

// RelationshipKey identifies a directed, typed edge between two entities
type RelationshipKey struct {
	Source EntityKey `json:"source"`
	Target EntityKey `json:"target"`
	Type   string    `json:"type"`
}

func (k RelationshipKey) String() string {
	return fmt.Sprintf("%s-[%s]->%s", k.Source, k.Type, k.Target)
}

// Relationship is a directed edge with its own provenance set, subject to
// the same non-empty invariant as entities
type Relationship struct {
	RelationshipKey
	Description string            `json:"description,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Provenance  []string          `json:"provenance"`
}

// ============================================================================
// Operation Results
// ============================================================================

// UpsertStats reports created vs updated counts for one upsert batch
type UpsertStats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// FailedBatch identifies an ingestion batch that exhausted its retries
type FailedBatch struct {
	Kind  string   `json:"kind"` // entity, relationship
	Index int      `json:"index"`
	Keys  []string `json:"keys"`
	Error string   `json:"error"`
}

// MergeResult reports the outcome of merging one document into the graph
type MergeResult struct {
	DocumentID           string        `json:"document_id"`
	EntitiesCreated      int           `json:"entities_created"`
	EntitiesUpdated      int           `json:"entities_updated"`
	RelationshipsCreated int           `json:"relationships_created"`
	RelationshipsUpdated int           `json:"relationships_updated"`
	FailedBatches        []FailedBatch `json:"failed_batches,omitempty"`
}

// PreservedEntity is a shared entity that survives a deletion, with the
// document ids that still own it
type PreservedEntity struct {
	EntityKey
	RemainingOwners []string `json:"remaining_owners"`
}

// PreservedRelationship is the relationship analogue of PreservedEntity
type PreservedRelationship struct {
	RelationshipKey
	RemainingOwners []string `json:"remaining_owners"`
}

// DeletionPlan is a read-only snapshot of what deleting a document would
// affect. It can go stale the moment ingestion or deletion runs; the
// executor always re-derives its own plan.
type DeletionPlan struct {
	DocumentID              string                  `json:"document_id"`
	EntitiesToRemove        []EntityKey             `json:"entities_to_remove"`
	EntitiesToPreserve      []PreservedEntity       `json:"entities_to_preserve"`
	RelationshipsToRemove   []RelationshipKey       `json:"relationships_to_remove"`
	RelationshipsToPreserve []PreservedRelationship `json:"relationships_to_preserve"`
}

// DeletionResult reports the outcome of a document deletion
type DeletionResult struct {
	Success                      bool     `json:"success"`
	DocumentID                   string   `json:"document_id"`
	DocumentNotFound             bool     `json:"document_not_found,omitempty"`
	EntitiesRemoved              int      `json:"entities_removed"`
	RelationshipsRemoved         int      `json:"relationships_removed"`
	SharedEntitiesPreserved      int      `json:"shared_entities_preserved"`
	SharedRelationshipsPreserved int      `json:"shared_relationships_preserved"`
	Errors                       []string `json:"errors,omitempty"`
	RollbackPerformed            bool     `json:"rollback_performed"`
}

// OrphanSweepResult reports what one orphan sweep removed and repaired
type OrphanSweepResult struct {
	EntitiesRemoved      int `json:"entities_removed"`
	RelationshipsRemoved int `json:"relationships_removed"`
	ProvenanceRepaired   int `json:"provenance_repaired"`
	Skipped              int `json:"skipped"`
}

// GraphCounts holds whole-graph element counts, logged before a reset
type GraphCounts struct {
	Documents     int64 `json:"documents"`
	Entities      int64 `json:"entities"`
	Relationships int64 `json:"relationships"`
}
