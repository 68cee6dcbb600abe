package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"manualgraph/backend/internal/graph"
	"manualgraph/backend/pkg/errors"
	"manualgraph/backend/pkg/logger"
)

// maxConcurrentBatches bounds how many upsert transactions run at once for a
// single merge call. Batches are disjoint after dedup, so they cannot contend
// on the same element.
const maxConcurrentBatches = 4

// RetryConfig holds retry configuration for ingestion batches.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts per batch.
	MaxAttempts int

	// BackoffBase is the initial backoff duration.
	BackoffBase time.Duration

	// BackoffMultiplier is applied to backoff on each retry.
	BackoffMultiplier float64

	// MaxBackoff caps the maximum backoff duration.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns sensible retry defaults for graph store writes.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       1 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}

// Merger merges a document's extracted entities and relationships into the
// shared graph. Manuals can be very large, so input is partitioned into
// fixed-size batches and one bad batch never blocks the rest: exhausted
// batches are reported back for caller-driven re-submission.
type Merger struct {
	store     graph.Store
	batchSize int
	retry     RetryConfig
	logger    *zap.Logger
}

// NewMerger creates a merger over the given store
func NewMerger(store graph.Store, batchSize int, retry RetryConfig) *Merger {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Merger{
		store:     store,
		batchSize: batchSize,
		retry:     retry,
		logger:    logger.Named("merger"),
	}
}

// MergeDocument merges one document's extraction output into the graph.
// Re-running for the same document is idempotent: provenance union and
// fill-empty attribute semantics guarantee no duplication or data loss.
func (m *Merger) MergeDocument(ctx context.Context, docID, filename string, entities []graph.Entity, relationships []graph.Relationship) (*graph.MergeResult, error) {
	if docID == "" {
		return nil, fmt.Errorf("document id is required")
	}

	// The document record goes in first so no element can ever carry a
	// provenance entry without a matching Document node.
	doc := graph.Document{ID: docID, Filename: filename, IngestedAt: time.Now()}
	if err := m.store.UpsertDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("upsert document %s: %w", docID, err)
	}

	result := &graph.MergeResult{DocumentID: docID}
	var mu sync.Mutex

	// Dedup makes batches disjoint, which is what allows them to run
	// concurrently against the same document.
	entityBatches := partitionEntities(dedupeEntities(entities), m.batchSize)
	relBatches := partitionRelationships(dedupeRelationships(relationships), m.batchSize)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentBatches)
	for i, batch := range entityBatches {
		i, batch := i, batch
		g.Go(func() error {
			stats, err := m.submitWithRetry(gctx, docID, "entity", i, func(ctx context.Context) (graph.UpsertStats, error) {
				return m.store.UpsertEntities(ctx, docID, batch)
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.FailedBatches = append(result.FailedBatches, graph.FailedBatch{
					Kind:  "entity",
					Index: i,
					Keys:  entityKeys(batch),
					Error: err.Error(),
				})
				return nil
			}
			result.EntitiesCreated += stats.Created
			result.EntitiesUpdated += stats.Updated
			return nil
		})
	}
	_ = g.Wait()

	// Relationships go after entities so endpoint merges mostly hit
	// existing nodes.
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentBatches)
	for i, batch := range relBatches {
		i, batch := i, batch
		g.Go(func() error {
			stats, err := m.submitWithRetry(gctx, docID, "relationship", i, func(ctx context.Context) (graph.UpsertStats, error) {
				return m.store.UpsertRelationships(ctx, docID, batch)
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.FailedBatches = append(result.FailedBatches, graph.FailedBatch{
					Kind:  "relationship",
					Index: i,
					Keys:  relationshipKeys(batch),
					Error: err.Error(),
				})
				return nil
			}
			result.RelationshipsCreated += stats.Created
			result.RelationshipsUpdated += stats.Updated
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return result, err
	}

	m.logger.Info("Document merged",
		zap.String("document_id", docID),
		zap.String("filename", filename),
		zap.Int("entities_created", result.EntitiesCreated),
		zap.Int("entities_updated", result.EntitiesUpdated),
		zap.Int("relationships_created", result.RelationshipsCreated),
		zap.Int("relationships_updated", result.RelationshipsUpdated),
		zap.Int("failed_batches", len(result.FailedBatches)),
	)
	return result, nil
}

// submitWithRetry runs one batch upsert with bounded exponential backoff.
// Non-retriable errors (bad attribute keys and the like) fail immediately.
func (m *Merger) submitWithRetry(ctx context.Context, docID, kind string, index int, submit func(context.Context) (graph.UpsertStats, error)) (graph.UpsertStats, error) {
	backoff := m.retry.BackoffBase
	var lastErr error

	for attempt := 1; attempt <= m.retry.MaxAttempts; attempt++ {
		stats, err := submit(ctx)
		if err == nil {
			return stats, nil
		}
		lastErr = err

		if !errors.IsRetryable(err) {
			break
		}
		if attempt == m.retry.MaxAttempts {
			break
		}

		m.logger.Warn("Batch upsert failed, backing off",
			zap.String("document_id", docID),
			zap.String("kind", kind),
			zap.Int("batch", index),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return graph.UpsertStats{}, ctx.Err()
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * m.retry.BackoffMultiplier)
		if m.retry.MaxBackoff > 0 && backoff > m.retry.MaxBackoff {
			backoff = m.retry.MaxBackoff
		}
	}

	return graph.UpsertStats{}, lastErr
}

// ============================================================================
// Input Shaping
// ============================================================================

// dedupeEntities collapses input rows sharing a natural key. The first row
// wins; later rows only fill fields the first left empty, mirroring the
// store's own merge semantics.
func dedupeEntities(entities []graph.Entity) []graph.Entity {
	seen := make(map[graph.EntityKey]int, len(entities))
	var unique []graph.Entity
	for _, e := range entities {
		idx, ok := seen[e.EntityKey]
		if !ok {
			seen[e.EntityKey] = len(unique)
			unique = append(unique, e)
			continue
		}
		kept := &unique[idx]
		if kept.Description == "" {
			kept.Description = e.Description
		}
		for k, v := range e.Attributes {
			if kept.Attributes == nil {
				kept.Attributes = make(map[string]string)
			}
			if kept.Attributes[k] == "" {
				kept.Attributes[k] = v
			}
		}
	}
	return unique
}

func dedupeRelationships(rels []graph.Relationship) []graph.Relationship {
	seen := make(map[graph.RelationshipKey]int, len(rels))
	var unique []graph.Relationship
	for _, r := range rels {
		idx, ok := seen[r.RelationshipKey]
		if !ok {
			seen[r.RelationshipKey] = len(unique)
			unique = append(unique, r)
			continue
		}
		kept := &unique[idx]
		if kept.Description == "" {
			kept.Description = r.Description
		}
		for k, v := range r.Attributes {
			if kept.Attributes == nil {
				kept.Attributes = make(map[string]string)
			}
			if kept.Attributes[k] == "" {
				kept.Attributes[k] = v
			}
		}
	}
	return unique
}

func partitionEntities(entities []graph.Entity, size int) [][]graph.Entity {
	var batches [][]graph.Entity
	for start := 0; start < len(entities); start += size {
		end := start + size
		if end > len(entities) {
			end = len(entities)
		}
		batches = append(batches, entities[start:end])
	}
	return batches
}

func partitionRelationships(rels []graph.Relationship, size int) [][]graph.Relationship {
	var batches [][]graph.Relationship
	for start := 0; start < len(rels); start += size {
		end := start + size
		if end > len(rels) {
			end = len(rels)
		}
		batches = append(batches, rels[start:end])
	}
	return batches
}

func entityKeys(batch []graph.Entity) []string {
	keys := make([]string, 0, len(batch))
	for _, e := range batch {
		keys = append(keys, e.EntityKey.String())
	}
	return keys
}

func relationshipKeys(batch []graph.Relationship) []string {
	keys := make([]string, 0, len(batch))
	for _, r := range batch {
		keys = append(keys, r.RelationshipKey.String())
	}
	return keys
}
