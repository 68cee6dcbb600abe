package lifecycle

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"manualgraph/backend/internal/graph"
	"manualgraph/backend/pkg/logger"
)

// ErrResetDisabled is returned when no reset token is configured
var ErrResetDisabled = stderrors.New("reset is disabled: no reset token configured")

// ErrInvalidResetToken is returned when the confirmation token does not match
var ErrInvalidResetToken = stderrors.New("invalid reset confirmation token")

// Coordinator orchestrates the lifecycle components and is the only surface
// the transport layer talks to. Deletes for the same document id are
// serialized through a per-document lock; deletes for different documents
// and all ingestion proceed without any global lock.
type Coordinator struct {
	store    graph.Store
	merger   *Merger
	planner  *Planner
	executor *Executor
	reaper   *Reaper

	resetToken string
	locks      sync.Map // document_id -> *sync.Mutex
	logger     *zap.Logger
}

// NewCoordinator wires the lifecycle components over one store
func NewCoordinator(store graph.Store, batchSize int, retry RetryConfig, resetToken string) *Coordinator {
	planner := NewPlanner(store)
	return &Coordinator{
		store:      store,
		merger:     NewMerger(store, batchSize, retry),
		planner:    planner,
		executor:   NewExecutor(store, planner),
		reaper:     NewReaper(store),
		resetToken: resetToken,
		logger:     logger.Named("coordinator"),
	}
}

// ListDocuments returns every tracked document with its entity count
func (c *Coordinator) ListDocuments(ctx context.Context) ([]graph.DocumentSummary, error) {
	return c.store.ListDocuments(ctx)
}

// Preview computes what deleting the document would affect without touching
// anything
func (c *Coordinator) Preview(ctx context.Context, docID string) (*graph.DeletionPlan, error) {
	return c.planner.Preview(ctx, docID)
}

// MergeDocument merges one document's extraction output into the graph
func (c *Coordinator) MergeDocument(ctx context.Context, docID, filename string, entities []graph.Entity, relationships []graph.Relationship) (*graph.MergeResult, error) {
	return c.merger.MergeDocument(ctx, docID, filename, entities, relationships)
}

// Delete removes the document's contribution from the graph. Concurrent
// calls for the same id are serialized so they cannot double-count or
// double-roll-back; the second caller observes the idempotent no-op result.
func (c *Coordinator) Delete(ctx context.Context, docID string) (*graph.DeletionResult, error) {
	lock := c.lockFor(docID)
	lock.Lock()
	defer lock.Unlock()

	return c.executor.Delete(ctx, docID)
}

// SweepOrphans runs one repair sweep on demand
func (c *Coordinator) SweepOrphans(ctx context.Context) (*graph.OrphanSweepResult, error) {
	return c.reaper.Sweep(ctx)
}

// ResetAll wipes every document, entity, and relationship. The confirmation
// token must match the configured one, and pre-operation counts are logged
// before anything is irreversibly cleared.
func (c *Coordinator) ResetAll(ctx context.Context, confirmationToken string) (graph.GraphCounts, error) {
	if c.resetToken == "" {
		return graph.GraphCounts{}, ErrResetDisabled
	}
	if confirmationToken != c.resetToken {
		return graph.GraphCounts{}, ErrInvalidResetToken
	}

	counts, err := c.store.Counts(ctx)
	if err != nil {
		return graph.GraphCounts{}, err
	}
	c.logger.Warn("Reset requested, wiping graph",
		zap.Int64("documents", counts.Documents),
		zap.Int64("entities", counts.Entities),
		zap.Int64("relationships", counts.Relationships),
	)

	return c.store.DeleteAll(ctx)
}

// RunSweeper runs periodic orphan sweeps until the context is cancelled.
// Callers start it in its own goroutine when a sweep interval is configured.
func (c *Coordinator) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Info("Background orphan sweeper started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Background orphan sweeper stopped")
			return
		case <-ticker.C:
			if _, err := c.reaper.Sweep(ctx); err != nil && ctx.Err() == nil {
				c.logger.Error("Background sweep failed", zap.Error(err))
			}
		}
	}
}

func (c *Coordinator) lockFor(docID string) *sync.Mutex {
	lock, _ := c.locks.LoadOrStore(docID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}
