package graph

import (
	"context"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"manualgraph/backend/pkg/errors"
)

// These tests require a running Neo4j instance at bolt://localhost:7687
// (user neo4j, password password). Run with -short to skip them.

func TestNeo4jStore_UpsertAndProvenanceLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	driver, err := createTestDriver()
	if err != nil {
		t.Fatalf("Failed to create driver: %v", err)
	}
	defer driver.Close(ctx)

	store := NewNeo4jStore(driver)
	suffix := time.Now().Format("20060102150405")
	docA := "test-doc-a-" + suffix
	docB := "test-doc-b-" + suffix
	key := EntityKey{Name: "Test Fryer " + suffix, Type: "Equipment"}

	defer cleanupTestData(ctx, driver, suffix)

	for _, docID := range []string{docA, docB} {
		if err := store.UpsertDocument(ctx, Document{ID: docID, Filename: docID + ".html", IngestedAt: time.Now()}); err != nil {
			t.Fatalf("UpsertDocument failed: %v", err)
		}
	}

	// First upsert creates, second only unions provenance
	stats, err := store.UpsertEntities(ctx, docA, []Entity{{
		EntityKey:   key,
		Description: "Commercial deep fryer",
		Attributes:  map[string]string{"voltage": "230V"},
	}})
	if err != nil {
		t.Fatalf("UpsertEntities failed: %v", err)
	}
	if stats.Created != 1 {
		t.Errorf("Expected 1 created, got %d", stats.Created)
	}

	stats, err = store.UpsertEntities(ctx, docB, []Entity{{
		EntityKey:   key,
		Description: "Must not overwrite",
		Attributes:  map[string]string{"voltage": "110V", "capacity": "12L"},
	}})
	if err != nil {
		t.Fatalf("UpsertEntities failed: %v", err)
	}
	if stats.Updated != 1 {
		t.Errorf("Expected 1 updated, got %d", stats.Updated)
	}

	entities, err := store.EntitiesByDocument(ctx, docB)
	if err != nil {
		t.Fatalf("EntitiesByDocument failed: %v", err)
	}
	if len(entities) != 1 {
		t.Fatalf("Expected 1 entity, got %d", len(entities))
	}
	got := entities[0]
	if len(got.Provenance) != 2 {
		t.Errorf("Expected provenance {docA, docB}, got %v", got.Provenance)
	}
	if got.Description != "Commercial deep fryer" {
		t.Errorf("Existing description was overwritten: %q", got.Description)
	}
	if got.Attributes["voltage"] != "230V" {
		t.Errorf("Existing attribute was overwritten: %q", got.Attributes["voltage"])
	}
	if got.Attributes["capacity"] != "12L" {
		t.Errorf("Empty attribute was not filled: %q", got.Attributes["capacity"])
	}

	// Subtract one owner: conditional delete must decline while provenance
	// is non-empty
	remaining, err := store.RemoveEntityProvenance(ctx, key, docA)
	if err != nil {
		t.Fatalf("RemoveEntityProvenance failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0] != docB {
		t.Errorf("Expected remaining {docB}, got %v", remaining)
	}
	deleted, err := store.DeleteEntityIfOrphaned(ctx, key)
	if err != nil {
		t.Fatalf("DeleteEntityIfOrphaned failed: %v", err)
	}
	if deleted {
		t.Error("Conditional delete removed an entity with live provenance")
	}

	// Subtract the last owner: now it must delete
	if _, err := store.RemoveEntityProvenance(ctx, key, docB); err != nil {
		t.Fatalf("RemoveEntityProvenance failed: %v", err)
	}
	deleted, err = store.DeleteEntityIfOrphaned(ctx, key)
	if err != nil {
		t.Fatalf("DeleteEntityIfOrphaned failed: %v", err)
	}
	if !deleted {
		t.Error("Conditional delete declined an orphaned entity")
	}

	if _, err := store.RemoveEntityProvenance(ctx, key, docA); !errors.IsNotFound(err) {
		t.Errorf("Expected element-not-found after delete, got %v", err)
	}
}

func TestNeo4jStore_RelationshipEndpointsMerged(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	driver, err := createTestDriver()
	if err != nil {
		t.Fatalf("Failed to create driver: %v", err)
	}
	defer driver.Close(ctx)

	store := NewNeo4jStore(driver)
	suffix := time.Now().Format("20060102150405")
	docID := "test-doc-" + suffix
	relKey := RelationshipKey{
		Source: EntityKey{Name: "Test Fryer " + suffix, Type: "Equipment"},
		Target: EntityKey{Name: "Test Thermostat " + suffix, Type: "Component"},
		Type:   "HAS_COMPONENT",
	}

	defer cleanupTestData(ctx, driver, suffix)

	if err := store.UpsertDocument(ctx, Document{ID: docID, Filename: docID + ".html", IngestedAt: time.Now()}); err != nil {
		t.Fatalf("UpsertDocument failed: %v", err)
	}
	if _, err := store.UpsertRelationships(ctx, docID, []Relationship{{RelationshipKey: relKey}}); err != nil {
		t.Fatalf("UpsertRelationships failed: %v", err)
	}

	// Both endpoints were merged with the document's provenance even though
	// they were never upserted as entities
	entities, err := store.EntitiesByDocument(ctx, docID)
	if err != nil {
		t.Fatalf("EntitiesByDocument failed: %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("Expected 2 merged endpoints, got %d", len(entities))
	}

	rels, err := store.RelationshipsByEntity(ctx, relKey.Source)
	if err != nil {
		t.Fatalf("RelationshipsByEntity failed: %v", err)
	}
	if len(rels) != 1 || rels[0].RelationshipKey != relKey {
		t.Fatalf("Expected the upserted relationship, got %v", rels)
	}
}

func TestNeo4jStore_GetDocumentNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	driver, err := createTestDriver()
	if err != nil {
		t.Fatalf("Failed to create driver: %v", err)
	}
	defer driver.Close(ctx)

	store := NewNeo4jStore(driver)
	_, err = store.GetDocument(ctx, "non-existent-document")
	if err == nil {
		t.Fatal("Expected error for non-existent document")
	}
	if !errors.IsNotFound(err) {
		t.Errorf("Expected document-not-found, got %v", err)
	}
}

func createTestDriver() (neo4j.DriverWithContext, error) {
	uri := "bolt://localhost:7687"
	user := "neo4j"
	password := "password"

	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, err
	}

	// Verify connection
	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, err
	}

	return driver, nil
}

func cleanupTestData(ctx context.Context, driver neo4j.DriverWithContext, suffix string) {
	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)
	_, _ = session.Run(ctx,
		"MATCH (n) WHERE (n:Document AND n.id CONTAINS $suffix) OR (n:Entity AND n.name CONTAINS $suffix) DETACH DELETE n",
		map[string]interface{}{"suffix": suffix})
}
