// Package graphtest provides an in-memory Store with the same operation
// semantics as the Neo4j implementation: provenance union/subtract and the
// conditional-delete emptiness check are each atomic under one lock, and
// attribute fields only fill when currently empty. Tests exercise the
// lifecycle components against it without a running graph store.
package graphtest

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"manualgraph/backend/internal/graph"
	"manualgraph/backend/pkg/errors"
)

var attrKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// MemStore is an in-memory graph.Store
type MemStore struct {
	mu       sync.Mutex
	docs     map[string]graph.Document
	entities map[graph.EntityKey]*graph.Entity
	rels     map[graph.RelationshipKey]*graph.Relationship
}

// NewMemStore creates an empty in-memory store
func NewMemStore() *MemStore {
	return &MemStore{
		docs:     make(map[string]graph.Document),
		entities: make(map[graph.EntityKey]*graph.Entity),
		rels:     make(map[graph.RelationshipKey]*graph.Relationship),
	}
}

// ============================================================================
// Upserts
// ============================================================================

func (s *MemStore) UpsertEntities(_ context.Context, docID string, batch []graph.Entity) (graph.UpsertStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats graph.UpsertStats
	for _, in := range batch {
		if err := validateAttrs(in.Attributes); err != nil {
			return graph.UpsertStats{}, fmt.Errorf("entity %s: %w", in.EntityKey, err)
		}
		if s.mergeEntityLocked(docID, in) {
			stats.Created++
		} else {
			stats.Updated++
		}
	}
	return stats, nil
}

func (s *MemStore) UpsertRelationships(_ context.Context, docID string, batch []graph.Relationship) (graph.UpsertStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats graph.UpsertStats
	for _, in := range batch {
		if err := validateAttrs(in.Attributes); err != nil {
			return graph.UpsertStats{}, fmt.Errorf("relationship %s: %w", in.RelationshipKey, err)
		}
		// Endpoints are merged too so an edge can never dangle
		s.mergeEntityLocked(docID, graph.Entity{EntityKey: in.Source})
		s.mergeEntityLocked(docID, graph.Entity{EntityKey: in.Target})

		existing, ok := s.rels[in.RelationshipKey]
		if !ok {
			rel := in
			rel.Provenance = []string{docID}
			rel.Attributes = copyAttrs(in.Attributes)
			s.rels[in.RelationshipKey] = &rel
			stats.Created++
			continue
		}
		existing.Provenance = union(existing.Provenance, docID)
		fillEmpty(&existing.Description, &existing.Attributes, in.Description, in.Attributes)
		stats.Updated++
	}
	return stats, nil
}

func (s *MemStore) mergeEntityLocked(docID string, in graph.Entity) (created bool) {
	existing, ok := s.entities[in.EntityKey]
	if !ok {
		entity := in
		entity.Provenance = []string{docID}
		entity.Attributes = copyAttrs(in.Attributes)
		s.entities[in.EntityKey] = &entity
		return true
	}
	existing.Provenance = union(existing.Provenance, docID)
	fillEmpty(&existing.Description, &existing.Attributes, in.Description, in.Attributes)
	return false
}

// ============================================================================
// Provenance Operations
// ============================================================================

func (s *MemStore) RemoveEntityProvenance(_ context.Context, key graph.EntityKey, docID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entity, ok := s.entities[key]
	if !ok {
		return nil, errors.NewElementNotFound(key.String())
	}
	entity.Provenance = subtract(entity.Provenance, docID)
	return append([]string(nil), entity.Provenance...), nil
}

func (s *MemStore) AddEntityProvenance(_ context.Context, key graph.EntityKey, docID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entity, ok := s.entities[key]
	if !ok {
		return nil, errors.NewElementNotFound(key.String())
	}
	entity.Provenance = union(entity.Provenance, docID)
	return append([]string(nil), entity.Provenance...), nil
}

func (s *MemStore) RemoveRelationshipProvenance(_ context.Context, key graph.RelationshipKey, docID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rel, ok := s.rels[key]
	if !ok {
		return nil, errors.NewElementNotFound(key.String())
	}
	rel.Provenance = subtract(rel.Provenance, docID)
	return append([]string(nil), rel.Provenance...), nil
}

func (s *MemStore) AddRelationshipProvenance(_ context.Context, key graph.RelationshipKey, docID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rel, ok := s.rels[key]
	if !ok {
		return nil, errors.NewElementNotFound(key.String())
	}
	rel.Provenance = union(rel.Provenance, docID)
	return append([]string(nil), rel.Provenance...), nil
}

// ============================================================================
// Conditional Deletes
// ============================================================================

func (s *MemStore) DeleteEntityIfOrphaned(_ context.Context, key graph.EntityKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entity, ok := s.entities[key]
	if !ok || len(entity.Provenance) > 0 {
		return false, nil
	}
	delete(s.entities, key)
	// Detach: mirror DETACH DELETE semantics
	for relKey := range s.rels {
		if relKey.Source == key || relKey.Target == key {
			delete(s.rels, relKey)
		}
	}
	return true, nil
}

func (s *MemStore) DeleteRelationshipIfOrphaned(_ context.Context, key graph.RelationshipKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rel, ok := s.rels[key]
	if !ok || len(rel.Provenance) > 0 {
		return false, nil
	}
	delete(s.rels, key)
	return true, nil
}

// ============================================================================
// Restores
// ============================================================================

func (s *MemStore) RestoreEntity(_ context.Context, entity graph.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	restored := entity
	restored.Provenance = append([]string(nil), entity.Provenance...)
	restored.Attributes = copyAttrs(entity.Attributes)
	s.entities[entity.EntityKey] = &restored
	return nil
}

func (s *MemStore) RestoreRelationship(_ context.Context, rel graph.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// MERGE semantics: recreate bare endpoints if they are gone
	for _, key := range []graph.EntityKey{rel.Source, rel.Target} {
		if _, ok := s.entities[key]; !ok {
			s.entities[key] = &graph.Entity{EntityKey: key}
		}
	}
	restored := rel
	restored.Provenance = append([]string(nil), rel.Provenance...)
	restored.Attributes = copyAttrs(rel.Attributes)
	s.rels[rel.RelationshipKey] = &restored
	return nil
}

// ============================================================================
// Queries
// ============================================================================

func (s *MemStore) EntitiesByDocument(_ context.Context, docID string) ([]graph.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []graph.Entity
	for _, entity := range s.entities {
		if contains(entity.Provenance, docID) {
			out = append(out, copyEntity(entity))
		}
	}
	sortEntities(out)
	return out, nil
}

func (s *MemStore) RelationshipsByDocument(_ context.Context, docID string) ([]graph.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []graph.Relationship
	for _, rel := range s.rels {
		if contains(rel.Provenance, docID) {
			out = append(out, copyRelationship(rel))
		}
	}
	sortRelationships(out)
	return out, nil
}

func (s *MemStore) RelationshipsByEntity(_ context.Context, key graph.EntityKey) ([]graph.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []graph.Relationship
	for relKey, rel := range s.rels {
		if relKey.Source == key || relKey.Target == key {
			out = append(out, copyRelationship(rel))
		}
	}
	sortRelationships(out)
	return out, nil
}

func (s *MemStore) OrphanedEntities(_ context.Context) ([]graph.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []graph.Entity
	for _, entity := range s.entities {
		if len(entity.Provenance) == 0 {
			out = append(out, copyEntity(entity))
		}
	}
	sortEntities(out)
	return out, nil
}

func (s *MemStore) OrphanedRelationships(_ context.Context) ([]graph.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []graph.Relationship
	for _, rel := range s.rels {
		if len(rel.Provenance) == 0 {
			out = append(out, copyRelationship(rel))
		}
	}
	sortRelationships(out)
	return out, nil
}

func (s *MemStore) EntitiesWithDanglingProvenance(_ context.Context) ([]graph.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []graph.Entity
	for _, entity := range s.entities {
		if s.hasDanglingLocked(entity.Provenance) {
			out = append(out, copyEntity(entity))
		}
	}
	sortEntities(out)
	return out, nil
}

func (s *MemStore) RelationshipsWithDanglingProvenance(_ context.Context) ([]graph.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []graph.Relationship
	for _, rel := range s.rels {
		if s.hasDanglingLocked(rel.Provenance) {
			out = append(out, copyRelationship(rel))
		}
	}
	sortRelationships(out)
	return out, nil
}

func (s *MemStore) hasDanglingLocked(provenance []string) bool {
	for _, docID := range provenance {
		if _, ok := s.docs[docID]; !ok {
			return true
		}
	}
	return false
}

// ============================================================================
// Documents
// ============================================================================

func (s *MemStore) UpsertDocument(_ context.Context, doc graph.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[doc.ID]; ok {
		return nil
	}
	if doc.IngestedAt.IsZero() {
		doc.IngestedAt = time.Now()
	}
	s.docs[doc.ID] = doc
	return nil
}

func (s *MemStore) GetDocument(_ context.Context, docID string) (*graph.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[docID]
	if !ok {
		return nil, errors.NewDocumentNotFound(docID)
	}
	return &doc, nil
}

func (s *MemStore) DeleteDocument(_ context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.docs, docID)
	return nil
}

func (s *MemStore) RestoreDocument(_ context.Context, doc graph.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs[doc.ID] = doc
	return nil
}

func (s *MemStore) ListDocuments(_ context.Context) ([]graph.DocumentSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []graph.DocumentSummary
	for _, doc := range s.docs {
		var count int64
		for _, entity := range s.entities {
			if contains(entity.Provenance, doc.ID) {
				count++
			}
		}
		out = append(out, graph.DocumentSummary{Document: doc, EntityCount: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IngestedAt.Before(out[j].IngestedAt) })
	return out, nil
}

// ============================================================================
// Maintenance
// ============================================================================

func (s *MemStore) Counts(_ context.Context) (graph.GraphCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return graph.GraphCounts{
		Documents:     int64(len(s.docs)),
		Entities:      int64(len(s.entities)),
		Relationships: int64(len(s.rels)),
	}, nil
}

func (s *MemStore) DeleteAll(_ context.Context) (graph.GraphCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := graph.GraphCounts{
		Documents:     int64(len(s.docs)),
		Entities:      int64(len(s.entities)),
		Relationships: int64(len(s.rels)),
	}
	s.docs = make(map[string]graph.Document)
	s.entities = make(map[graph.EntityKey]*graph.Entity)
	s.rels = make(map[graph.RelationshipKey]*graph.Relationship)
	return counts, nil
}

// ============================================================================
// Test Support
// ============================================================================

// Snapshot captures the full graph state with provenance sets normalized,
// for whole-state equality assertions (rollback must restore the pre-call
// state up to provenance ordering, since union re-appends).
type Snapshot struct {
	Docs     map[string]graph.Document
	Entities map[graph.EntityKey]graph.Entity
	Rels     map[graph.RelationshipKey]graph.Relationship
}

func (s *MemStore) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Docs:     make(map[string]graph.Document, len(s.docs)),
		Entities: make(map[graph.EntityKey]graph.Entity, len(s.entities)),
		Rels:     make(map[graph.RelationshipKey]graph.Relationship, len(s.rels)),
	}
	for id, doc := range s.docs {
		snap.Docs[id] = doc
	}
	for key, entity := range s.entities {
		e := copyEntity(entity)
		sort.Strings(e.Provenance)
		snap.Entities[key] = e
	}
	for key, rel := range s.rels {
		r := copyRelationship(rel)
		sort.Strings(r.Provenance)
		snap.Rels[key] = r
	}
	return snap
}

// ============================================================================
// Helpers
// ============================================================================

func validateAttrs(attrs map[string]string) error {
	for k := range attrs {
		if !attrKeyPattern.MatchString(k) {
			return fmt.Errorf("invalid attribute key %q", k)
		}
	}
	return nil
}

func union(provenance []string, docID string) []string {
	if contains(provenance, docID) {
		return provenance
	}
	return append(provenance, docID)
}

func subtract(provenance []string, docID string) []string {
	out := provenance[:0]
	for _, d := range provenance {
		if d != docID {
			out = append(out, d)
		}
	}
	return out
}

func contains(provenance []string, docID string) bool {
	for _, d := range provenance {
		if d == docID {
			return true
		}
	}
	return false
}

func fillEmpty(desc *string, attrs *map[string]string, inDesc string, inAttrs map[string]string) {
	if *desc == "" {
		*desc = inDesc
	}
	for k, v := range inAttrs {
		if *attrs == nil {
			*attrs = make(map[string]string)
		}
		if (*attrs)[k] == "" {
			(*attrs)[k] = v
		}
	}
}

func copyAttrs(attrs map[string]string) map[string]string {
	if attrs == nil {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

func copyEntity(entity *graph.Entity) graph.Entity {
	out := *entity
	out.Provenance = append([]string(nil), entity.Provenance...)
	out.Attributes = copyAttrs(entity.Attributes)
	return out
}

func copyRelationship(rel *graph.Relationship) graph.Relationship {
	out := *rel
	out.Provenance = append([]string(nil), rel.Provenance...)
	out.Attributes = copyAttrs(rel.Attributes)
	return out
}

func sortEntities(entities []graph.Entity) {
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].Type != entities[j].Type {
			return entities[i].Type < entities[j].Type
		}
		return entities[i].Name < entities[j].Name
	})
}

func sortRelationships(rels []graph.Relationship) {
	sort.Slice(rels, func(i, j int) bool {
		return rels[i].RelationshipKey.String() < rels[j].RelationshipKey.String()
	})
}
