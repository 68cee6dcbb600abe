package lifecycle

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"manualgraph/backend/internal/graph"
	"manualgraph/backend/pkg/errors"
	"manualgraph/backend/pkg/logger"
)

// Executor removes a document's contribution from the shared graph.
// Elements owned only by the document are deleted; shared elements lose one
// provenance entry and survive. The whole operation either fully succeeds or
// fully rolls back via the undo log; callers never observe a partial
// deletion.
type Executor struct {
	store   graph.Store
	planner *Planner
	logger  *zap.Logger
}

// NewExecutor creates an executor over the given store
func NewExecutor(store graph.Store, planner *Planner) *Executor {
	return &Executor{
		store:   store,
		planner: planner,
		logger:  logger.Named("executor"),
	}
}

// Delete removes document docID's contribution. Deleting an unknown or
// already-deleted document is an idempotent no-op, not an error. On any
// sub-step failure the undo log replays in reverse and the pre-call graph
// state is restored; the returned error is the original failure, and
// connectivity errors remain retriable.
func (e *Executor) Delete(ctx context.Context, docID string) (*graph.DeletionResult, error) {
	result := &graph.DeletionResult{DocumentID: docID}

	doc, err := e.store.GetDocument(ctx, docID)
	if err != nil {
		if errors.IsNotFound(err) {
			result.Success = true
			result.DocumentNotFound = true
			return result, nil
		}
		return result, fmt.Errorf("lookup document %s: %w", docID, err)
	}

	// The plan is derived fresh here, never taken from a caller's earlier
	// preview: a concurrent merge may have added a new owner since then.
	_, removeEnts, preserveEnts, err := e.planner.partitionedEntities(ctx, docID)
	if err != nil {
		return result, err
	}
	_, removeRels, preserveRels, err := e.planner.partitionedRelationships(ctx, docID)
	if err != nil {
		return result, err
	}

	undo := newUndoLog(e.logger)
	if err := e.execute(ctx, docID, *doc, removeEnts, preserveEnts, removeRels, preserveRels, undo, result); err != nil {
		e.logger.Error("Deletion failed, rolling back",
			zap.String("document_id", docID),
			zap.Int("undo_steps", undo.len()),
			zap.Error(err),
		)
		result.Errors = append(result.Errors, err.Error())
		result.Errors = append(result.Errors, undo.replay(ctx)...)
		result.RollbackPerformed = true
		result.EntitiesRemoved = 0
		result.RelationshipsRemoved = 0
		result.SharedEntitiesPreserved = 0
		result.SharedRelationshipsPreserved = 0
		return result, err
	}

	result.Success = true
	e.logger.Info("Document deleted",
		zap.String("document_id", docID),
		zap.Int("entities_removed", result.EntitiesRemoved),
		zap.Int("relationships_removed", result.RelationshipsRemoved),
		zap.Int("shared_entities_preserved", result.SharedEntitiesPreserved),
		zap.Int("shared_relationships_preserved", result.SharedRelationshipsPreserved),
	)
	return result, nil
}

func (e *Executor) execute(ctx context.Context, docID string, doc graph.Document,
	removeEnts, preserveEnts []graph.Entity, removeRels, preserveRels []graph.Relationship,
	undo *undoLog, result *graph.DeletionResult) error {

	// Relationships first: edges must be gone before their endpoints.
	for _, rel := range removeRels {
		removed, err := e.removeRelationship(ctx, docID, rel, undo)
		if err != nil {
			return err
		}
		if removed {
			result.RelationshipsRemoved++
		} else {
			// A concurrent merge re-added an owner between the subtract
			// and the conditional delete; the edge is shared now.
			result.SharedRelationshipsPreserved++
		}
	}
	for _, rel := range preserveRels {
		if err := e.subtractRelationship(ctx, docID, rel.RelationshipKey, undo); err != nil {
			return err
		}
		result.SharedRelationshipsPreserved++
	}

	for _, entity := range removeEnts {
		removed, err := e.removeEntity(ctx, docID, entity, undo)
		if err != nil {
			return err
		}
		if removed {
			result.EntitiesRemoved++
		} else {
			result.SharedEntitiesPreserved++
		}
	}
	for _, entity := range preserveEnts {
		if err := e.subtractEntity(ctx, docID, entity.EntityKey, undo); err != nil {
			return err
		}
		result.SharedEntitiesPreserved++
	}

	undo.push(fmt.Sprintf("restore document %s", docID), func(ctx context.Context) error {
		return e.store.RestoreDocument(ctx, doc)
	})
	if err := e.store.DeleteDocument(ctx, docID); err != nil {
		return fmt.Errorf("delete document %s: %w", docID, err)
	}
	return nil
}

// removeRelationship drops a solely-owned relationship: subtract provenance,
// then conditional-delete. The subtract and the delete are each atomic; the
// tiny window between them is exactly the orphan state the reaper repairs,
// so a crash there is recoverable.
func (e *Executor) removeRelationship(ctx context.Context, docID string, rel graph.Relationship, undo *undoLog) (bool, error) {
	key := rel.RelationshipKey
	remaining, err := e.store.RemoveRelationshipProvenance(ctx, key, docID)
	if err != nil {
		if errors.IsNotFound(err) {
			// Already gone, which is the goal. The reaper may have beaten us.
			return false, nil
		}
		return false, fmt.Errorf("remove provenance %s: %w", key, err)
	}
	undo.push(fmt.Sprintf("re-add provenance to %s", key), func(ctx context.Context) error {
		_, err := e.store.AddRelationshipProvenance(ctx, key, docID)
		return err
	})

	if len(remaining) > 0 {
		return false, nil
	}

	preImage := rel
	preImage.Provenance = remaining
	undo.push(fmt.Sprintf("restore relationship %s", key), func(ctx context.Context) error {
		return e.store.RestoreRelationship(ctx, preImage)
	})
	deleted, err := e.store.DeleteRelationshipIfOrphaned(ctx, key)
	if err != nil {
		return false, fmt.Errorf("conditional delete %s: %w", key, err)
	}
	return deleted, nil
}

// removeEntity drops a solely-owned entity. Any relationship still touching
// it is cascade-removed first with its pre-image recorded, because an edge's
// endpoints must never dangle. Edges with live provenance at this point are
// a consistency violation; they are logged and removed with the entity.
func (e *Executor) removeEntity(ctx context.Context, docID string, entity graph.Entity, undo *undoLog) (bool, error) {
	key := entity.EntityKey

	stragglers, err := e.store.RelationshipsByEntity(ctx, key)
	if err != nil {
		return false, fmt.Errorf("relationships by entity %s: %w", key, err)
	}
	for _, rel := range stragglers {
		if len(rel.Provenance) > 0 {
			violation := errors.NewConsistencyViolation(rel.RelationshipKey.String(), "edge references an entity owned only by the document being deleted")
			e.logger.Warn("Cascading dangling relationship", zap.String("relationship", rel.RelationshipKey.String()), zap.Error(violation))
		}
		preImage := rel
		undo.push(fmt.Sprintf("restore cascaded relationship %s", rel.RelationshipKey), func(ctx context.Context) error {
			return e.store.RestoreRelationship(ctx, preImage)
		})
	}

	remaining, err := e.store.RemoveEntityProvenance(ctx, key, docID)
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("remove provenance %s: %w", key, err)
	}
	undo.push(fmt.Sprintf("re-add provenance to %s", key), func(ctx context.Context) error {
		_, err := e.store.AddEntityProvenance(ctx, key, docID)
		return err
	})

	if len(remaining) > 0 {
		return false, nil
	}

	preImage := entity
	preImage.Provenance = remaining
	undo.push(fmt.Sprintf("restore entity %s", key), func(ctx context.Context) error {
		return e.store.RestoreEntity(ctx, preImage)
	})
	// The store's conditional delete detaches surviving edges, whose
	// pre-images were recorded above.
	deleted, err := e.store.DeleteEntityIfOrphaned(ctx, key)
	if err != nil {
		return false, fmt.Errorf("conditional delete %s: %w", key, err)
	}
	return deleted, nil
}

func (e *Executor) subtractRelationship(ctx context.Context, docID string, key graph.RelationshipKey, undo *undoLog) error {
	_, err := e.store.RemoveRelationshipProvenance(ctx, key, docID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove provenance %s: %w", key, err)
	}
	undo.push(fmt.Sprintf("re-add provenance to %s", key), func(ctx context.Context) error {
		_, err := e.store.AddRelationshipProvenance(ctx, key, docID)
		return err
	})
	return nil
}

func (e *Executor) subtractEntity(ctx context.Context, docID string, key graph.EntityKey, undo *undoLog) error {
	_, err := e.store.RemoveEntityProvenance(ctx, key, docID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove provenance %s: %w", key, err)
	}
	undo.push(fmt.Sprintf("re-add provenance to %s", key), func(ctx context.Context) error {
		_, err := e.store.AddEntityProvenance(ctx, key, docID)
		return err
	})
	return nil
}
