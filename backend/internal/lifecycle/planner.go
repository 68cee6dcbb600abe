package lifecycle

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"manualgraph/backend/internal/graph"
	"manualgraph/backend/pkg/logger"
)

// Planner computes what deleting a document would affect. Pure read, no side
// effects, safe to call concurrently with anything. Its result is a snapshot
// that can go stale the moment ingestion or deletion runs elsewhere; the
// executor never trusts a caller-supplied preview and re-derives its own.
type Planner struct {
	store  graph.Store
	logger *zap.Logger
}

// NewPlanner creates a planner over the given store
func NewPlanner(store graph.Store) *Planner {
	return &Planner{
		store:  store,
		logger: logger.Named("planner"),
	}
}

// Preview partitions the document's graph elements into remove and preserve
// sets by provenance cardinality. Preserved elements list their remaining
// owner document ids so a caller can explain why they survive.
func (p *Planner) Preview(ctx context.Context, docID string) (*graph.DeletionPlan, error) {
	if _, err := p.store.GetDocument(ctx, docID); err != nil {
		return nil, err
	}

	entities, removeEnts, preserveEnts, err := p.partitionedEntities(ctx, docID)
	if err != nil {
		return nil, err
	}
	_, removeRels, preserveRels, err := p.partitionedRelationships(ctx, docID)
	if err != nil {
		return nil, err
	}

	plan := &graph.DeletionPlan{DocumentID: docID}
	for _, e := range removeEnts {
		plan.EntitiesToRemove = append(plan.EntitiesToRemove, e.EntityKey)
	}
	for _, e := range preserveEnts {
		plan.EntitiesToPreserve = append(plan.EntitiesToPreserve, graph.PreservedEntity{
			EntityKey:       e.EntityKey,
			RemainingOwners: withoutDoc(e.Provenance, docID),
		})
	}
	for _, r := range removeRels {
		plan.RelationshipsToRemove = append(plan.RelationshipsToRemove, r.RelationshipKey)
	}
	for _, r := range preserveRels {
		plan.RelationshipsToPreserve = append(plan.RelationshipsToPreserve, graph.PreservedRelationship{
			RelationshipKey: r.RelationshipKey,
			RemainingOwners: withoutDoc(r.Provenance, docID),
		})
	}

	p.logger.Debug("Deletion previewed",
		zap.String("document_id", docID),
		zap.Int("entities_total", len(entities)),
		zap.Int("entities_to_remove", len(plan.EntitiesToRemove)),
		zap.Int("entities_to_preserve", len(plan.EntitiesToPreserve)),
		zap.Int("relationships_to_remove", len(plan.RelationshipsToRemove)),
		zap.Int("relationships_to_preserve", len(plan.RelationshipsToPreserve)),
	)
	return plan, nil
}

// partitionedEntities splits the document's entities into sole-owner and
// shared sets, keeping full pre-images for the executor's undo log
func (p *Planner) partitionedEntities(ctx context.Context, docID string) (all, remove, preserve []graph.Entity, err error) {
	all, err = p.store.EntitiesByDocument(ctx, docID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("entities by document %s: %w", docID, err)
	}
	for _, e := range all {
		if soleOwner(e.Provenance, docID) {
			remove = append(remove, e)
		} else {
			preserve = append(preserve, e)
		}
	}
	return all, remove, preserve, nil
}

func (p *Planner) partitionedRelationships(ctx context.Context, docID string) (all, remove, preserve []graph.Relationship, err error) {
	all, err = p.store.RelationshipsByDocument(ctx, docID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("relationships by document %s: %w", docID, err)
	}
	for _, r := range all {
		if soleOwner(r.Provenance, docID) {
			remove = append(remove, r)
		} else {
			preserve = append(preserve, r)
		}
	}
	return all, remove, preserve, nil
}

// soleOwner reports whether docID is the only member of the provenance set
func soleOwner(provenance []string, docID string) bool {
	return len(provenance) == 1 && provenance[0] == docID
}

func withoutDoc(provenance []string, docID string) []string {
	remaining := make([]string, 0, len(provenance))
	for _, d := range provenance {
		if d != docID {
			remaining = append(remaining, d)
		}
	}
	return remaining
}
