package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"manualgraph/backend/internal/graph"
	"manualgraph/backend/internal/graph/graphtest"
)

// testRetry keeps backoff negligible so retry paths run in microseconds
func testRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        5 * time.Millisecond,
	}
}

// ============================================================================
// Fault Injection
// ============================================================================

// faultStore wraps a store and fails selected calls by method name. A rule
// skips `after` successful calls, then fails `times` calls (-1 for forever).
type faultStore struct {
	graph.Store

	mu    sync.Mutex
	calls map[string]int
	rules map[string]*faultRule
}

type faultRule struct {
	after int
	times int
	err   error
}

func newFaultStore(inner graph.Store) *faultStore {
	return &faultStore{
		Store: inner,
		calls: make(map[string]int),
		rules: make(map[string]*faultRule),
	}
}

func (f *faultStore) failTimes(method string, times int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[method] = &faultRule{times: times, err: err}
}

func (f *faultStore) failAlways(method string, err error) {
	f.failTimes(method, -1, err)
}

func (f *faultStore) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *faultStore) check(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[method]++
	rule, ok := f.rules[method]
	if !ok {
		return nil
	}
	if rule.after > 0 {
		rule.after--
		return nil
	}
	if rule.times == 0 {
		return nil
	}
	if rule.times > 0 {
		rule.times--
	}
	return rule.err
}

func (f *faultStore) UpsertEntities(ctx context.Context, docID string, batch []graph.Entity) (graph.UpsertStats, error) {
	if err := f.check("UpsertEntities"); err != nil {
		return graph.UpsertStats{}, err
	}
	return f.Store.UpsertEntities(ctx, docID, batch)
}

func (f *faultStore) UpsertRelationships(ctx context.Context, docID string, batch []graph.Relationship) (graph.UpsertStats, error) {
	if err := f.check("UpsertRelationships"); err != nil {
		return graph.UpsertStats{}, err
	}
	return f.Store.UpsertRelationships(ctx, docID, batch)
}

func (f *faultStore) RemoveEntityProvenance(ctx context.Context, key graph.EntityKey, docID string) ([]string, error) {
	if err := f.check("RemoveEntityProvenance"); err != nil {
		return nil, err
	}
	return f.Store.RemoveEntityProvenance(ctx, key, docID)
}

func (f *faultStore) RemoveRelationshipProvenance(ctx context.Context, key graph.RelationshipKey, docID string) ([]string, error) {
	if err := f.check("RemoveRelationshipProvenance"); err != nil {
		return nil, err
	}
	return f.Store.RemoveRelationshipProvenance(ctx, key, docID)
}

func (f *faultStore) DeleteDocument(ctx context.Context, docID string) error {
	if err := f.check("DeleteDocument"); err != nil {
		return err
	}
	return f.Store.DeleteDocument(ctx, docID)
}

// ============================================================================
// Hooks
// ============================================================================

// hookStore runs a callback right before selected store calls, to wedge a
// concurrent actor into the window between two primitives.
type hookStore struct {
	graph.Store

	beforeGetDocument            func(docID string)
	beforeDeleteEntityIfOrphaned func(key graph.EntityKey)
	beforeDeleteRelIfOrphaned    func(key graph.RelationshipKey)
}

func (h *hookStore) GetDocument(ctx context.Context, docID string) (*graph.Document, error) {
	if h.beforeGetDocument != nil {
		h.beforeGetDocument(docID)
	}
	return h.Store.GetDocument(ctx, docID)
}

func (h *hookStore) DeleteEntityIfOrphaned(ctx context.Context, key graph.EntityKey) (bool, error) {
	if h.beforeDeleteEntityIfOrphaned != nil {
		h.beforeDeleteEntityIfOrphaned(key)
	}
	return h.Store.DeleteEntityIfOrphaned(ctx, key)
}

func (h *hookStore) DeleteRelationshipIfOrphaned(ctx context.Context, key graph.RelationshipKey) (bool, error) {
	if h.beforeDeleteRelIfOrphaned != nil {
		h.beforeDeleteRelIfOrphaned(key)
	}
	return h.Store.DeleteRelationshipIfOrphaned(ctx, key)
}

// ============================================================================
// Scenario Seeding
// ============================================================================

var (
	fryerKey      = graph.EntityKey{Name: "Fryer 3000", Type: "Equipment"}
	thermostatKey = graph.EntityKey{Name: "Thermostat XL", Type: "Component"}
	safetyKey     = graph.EntityKey{Name: "High Temperature Protocol", Type: "SafetyProtocol"}
	suppressKey   = graph.EntityKey{Name: "Fire Suppression", Type: "SafetyProtocol"}

	hasComponentKey = graph.RelationshipKey{Source: fryerKey, Target: thermostatKey, Type: "HAS_COMPONENT"}
	appliesToKey    = graph.RelationshipKey{Source: safetyKey, Target: fryerKey, Type: "APPLIES_TO"}
	requiresKey     = graph.RelationshipKey{Source: safetyKey, Target: suppressKey, Type: "REQUIRES"}
)

func fryerManualEntities() []graph.Entity {
	return []graph.Entity{
		{EntityKey: fryerKey, Description: "Commercial deep fryer", Attributes: map[string]string{"voltage": "230V"}},
		{EntityKey: thermostatKey, Description: "Oil temperature control"},
		{EntityKey: safetyKey, Description: "Shutdown above 230C"},
	}
}

func fryerManualRelationships() []graph.Relationship {
	return []graph.Relationship{
		{RelationshipKey: hasComponentKey, Description: "Factory fitted"},
		{RelationshipKey: appliesToKey},
	}
}

func kitchenSafetyEntities() []graph.Entity {
	return []graph.Entity{
		{EntityKey: safetyKey, Attributes: map[string]string{"revision": "2024-02"}},
		{EntityKey: suppressKey, Description: "Wet chemical system"},
	}
}

func kitchenSafetyRelationships() []graph.Relationship {
	return []graph.Relationship{
		{RelationshipKey: requiresKey},
	}
}

// seedSharedScenario ingests two manuals whose graphs overlap on one safety
// protocol entity. Fryer, thermostat, and both fryer-manual edges are owned
// only by docA; the safety protocol is shared by docA and docB.
func seedSharedScenario(t *testing.T, store graph.Store) (docA, docB string) {
	t.Helper()
	docA, docB = "fryer-manual", "kitchen-safety"

	merger := NewMerger(store, 50, testRetry())
	_, err := merger.MergeDocument(context.Background(), docA, "fryer-3000.html", fryerManualEntities(), fryerManualRelationships())
	require.NoError(t, err)
	_, err = merger.MergeDocument(context.Background(), docB, "kitchen-safety.html", kitchenSafetyEntities(), kitchenSafetyRelationships())
	require.NoError(t, err)
	return docA, docB
}

func entityProvenance(t *testing.T, store graph.Store, docID string, key graph.EntityKey) []string {
	t.Helper()
	entities, err := store.EntitiesByDocument(context.Background(), docID)
	require.NoError(t, err)
	for _, e := range entities {
		if e.EntityKey == key {
			return e.Provenance
		}
	}
	return nil
}

func newMemStore(t *testing.T) *graphtest.MemStore {
	t.Helper()
	return graphtest.NewMemStore()
}
