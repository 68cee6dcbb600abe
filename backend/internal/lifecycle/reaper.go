package lifecycle

import (
	"context"

	"go.uber.org/zap"
	"manualgraph/backend/internal/graph"
	"manualgraph/backend/pkg/errors"
	"manualgraph/backend/pkg/logger"
)

// Reaper is the background repair sweep. It removes elements left with an
// empty provenance set by a crash mid-delete, and strips provenance entries
// that reference document ids with no Document record. Every element's
// removal is independently valid, so an interrupted sweep leaves no
// inconsistency; the next sweep simply picks up where this one stopped.
type Reaper struct {
	store  graph.Store
	logger *zap.Logger
}

// NewReaper creates a reaper over the given store
func NewReaper(store graph.Store) *Reaper {
	return &Reaper{
		store:  store,
		logger: logger.Named("reaper"),
	}
}

// Sweep runs one full repair pass. Per-element failures are logged and
// counted, never fatal: whatever could not be repaired this time is still a
// candidate next time. Relationships are swept before entities so a deleted
// entity cannot strand an edge.
func (r *Reaper) Sweep(ctx context.Context) (*graph.OrphanSweepResult, error) {
	result := &graph.OrphanSweepResult{}

	if err := r.repairDanglingRelationships(ctx, result); err != nil {
		return result, err
	}
	if err := r.repairDanglingEntities(ctx, result); err != nil {
		return result, err
	}
	if err := r.reapOrphanedRelationships(ctx, result); err != nil {
		return result, err
	}
	if err := r.reapOrphanedEntities(ctx, result); err != nil {
		return result, err
	}

	r.logger.Info("Orphan sweep complete",
		zap.Int("entities_removed", result.EntitiesRemoved),
		zap.Int("relationships_removed", result.RelationshipsRemoved),
		zap.Int("provenance_repaired", result.ProvenanceRepaired),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

func (r *Reaper) repairDanglingRelationships(ctx context.Context, result *graph.OrphanSweepResult) error {
	rels, err := r.store.RelationshipsWithDanglingProvenance(ctx)
	if err != nil {
		return err
	}
	for _, rel := range rels {
		if err := ctx.Err(); err != nil {
			return err
		}
		emptied := true
		for _, docID := range rel.Provenance {
			stale, err := r.isStaleDocRef(ctx, docID)
			if err != nil {
				return err
			}
			if !stale {
				emptied = false
				continue
			}
			if _, err := r.store.RemoveRelationshipProvenance(ctx, rel.RelationshipKey, docID); err != nil {
				r.warnSkip("strip relationship provenance", rel.RelationshipKey.String(), err, result)
				emptied = false
				continue
			}
			result.ProvenanceRepaired++
		}
		if !emptied {
			continue
		}
		deleted, err := r.store.DeleteRelationshipIfOrphaned(ctx, rel.RelationshipKey)
		if err != nil {
			r.warnSkip("conditional relationship delete", rel.RelationshipKey.String(), err, result)
			continue
		}
		r.countRelationship(deleted, result)
	}
	return nil
}

func (r *Reaper) repairDanglingEntities(ctx context.Context, result *graph.OrphanSweepResult) error {
	entities, err := r.store.EntitiesWithDanglingProvenance(ctx)
	if err != nil {
		return err
	}
	for _, entity := range entities {
		if err := ctx.Err(); err != nil {
			return err
		}
		emptied := true
		for _, docID := range entity.Provenance {
			stale, err := r.isStaleDocRef(ctx, docID)
			if err != nil {
				return err
			}
			if !stale {
				emptied = false
				continue
			}
			if _, err := r.store.RemoveEntityProvenance(ctx, entity.EntityKey, docID); err != nil {
				r.warnSkip("strip entity provenance", entity.EntityKey.String(), err, result)
				emptied = false
				continue
			}
			result.ProvenanceRepaired++
		}
		if !emptied {
			continue
		}
		deleted, err := r.store.DeleteEntityIfOrphaned(ctx, entity.EntityKey)
		if err != nil {
			r.warnSkip("conditional entity delete", entity.EntityKey.String(), err, result)
			continue
		}
		r.countEntity(deleted, result)
	}
	return nil
}

func (r *Reaper) reapOrphanedRelationships(ctx context.Context, result *graph.OrphanSweepResult) error {
	rels, err := r.store.OrphanedRelationships(ctx)
	if err != nil {
		return err
	}
	for _, rel := range rels {
		if err := ctx.Err(); err != nil {
			return err
		}
		deleted, err := r.store.DeleteRelationshipIfOrphaned(ctx, rel.RelationshipKey)
		if err != nil {
			r.warnSkip("conditional relationship delete", rel.RelationshipKey.String(), err, result)
			continue
		}
		r.countRelationship(deleted, result)
	}
	return nil
}

func (r *Reaper) reapOrphanedEntities(ctx context.Context, result *graph.OrphanSweepResult) error {
	entities, err := r.store.OrphanedEntities(ctx)
	if err != nil {
		return err
	}
	for _, entity := range entities {
		if err := ctx.Err(); err != nil {
			return err
		}
		deleted, err := r.store.DeleteEntityIfOrphaned(ctx, entity.EntityKey)
		if err != nil {
			r.warnSkip("conditional entity delete", entity.EntityKey.String(), err, result)
			continue
		}
		r.countEntity(deleted, result)
	}
	return nil
}

// isStaleDocRef re-checks a candidate dangling document id right before the
// strip. The scan's snapshot can be outdated by a re-ingestion of the same
// document id, and subtracting a now-legitimate provenance entry would break
// the shared-preservation guarantee.
func (r *Reaper) isStaleDocRef(ctx context.Context, docID string) (bool, error) {
	_, err := r.store.GetDocument(ctx, docID)
	if err == nil {
		return false, nil
	}
	if errors.IsNotFound(err) {
		return true, nil
	}
	return false, err
}

func (r *Reaper) countEntity(deleted bool, result *graph.OrphanSweepResult) {
	if deleted {
		result.EntitiesRemoved++
	} else {
		// A concurrent merge re-referenced the element between the scan
		// and the delete; the conditional primitive declined, as designed.
		result.Skipped++
	}
}

func (r *Reaper) countRelationship(deleted bool, result *graph.OrphanSweepResult) {
	if deleted {
		result.RelationshipsRemoved++
	} else {
		result.Skipped++
	}
}

func (r *Reaper) warnSkip(operation, key string, err error, result *graph.OrphanSweepResult) {
	result.Skipped++
	r.logger.Warn("Sweep step failed, leaving element for next pass",
		zap.String("operation", operation),
		zap.String("element", key),
		zap.Error(err),
	)
}
