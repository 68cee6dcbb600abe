package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"manualgraph/backend/internal/graph"
	"manualgraph/backend/internal/graph/graphtest"
	"manualgraph/backend/internal/lifecycle"
)

func testRouter(t *testing.T, resetToken string) (*gin.Engine, *graphtest.MemStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := graphtest.NewMemStore()
	retry := lifecycle.RetryConfig{MaxAttempts: 2, BackoffBase: time.Millisecond, BackoffMultiplier: 2.0, MaxBackoff: 5 * time.Millisecond}
	coordinator := lifecycle.NewCoordinator(store, 50, retry, resetToken)
	return setupRouter(zap.NewNop(), coordinator, nil), store
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func mergeBody(docID string) map[string]interface{} {
	return map[string]interface{}{
		"document_id": docID,
		"filename":    "fryer-3000.html",
		"entities": []map[string]interface{}{
			{"name": "Fryer 3000", "type": "Equipment", "description": "Commercial deep fryer"},
			{"name": "Thermostat XL", "type": "Component"},
		},
		"relationships": []map[string]interface{}{
			{
				"source": map[string]string{"name": "Fryer 3000", "type": "Equipment"},
				"target": map[string]string{"name": "Thermostat XL", "type": "Component"},
				"type":   "HAS_COMPONENT",
			},
		},
	}
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := testRouter(t, "")

	w := doJSON(t, router, "GET", "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var response map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &response)
	assert.Equal(t, "ok", response["status"])
}

func TestMergeEndpoint(t *testing.T) {
	router, _ := testRouter(t, "")

	w := doJSON(t, router, "POST", "/api/documents", mergeBody("fryer-manual"))

	require.Equal(t, http.StatusOK, w.Code)
	var result graph.MergeResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "fryer-manual", result.DocumentID)
	assert.Equal(t, 2, result.EntitiesCreated)
	assert.Equal(t, 1, result.RelationshipsCreated)
	assert.Empty(t, result.FailedBatches)
}

func TestMergeEndpoint_GeneratesDocumentID(t *testing.T) {
	router, _ := testRouter(t, "")

	body := mergeBody("")
	delete(body, "document_id")
	w := doJSON(t, router, "POST", "/api/documents", body)

	require.Equal(t, http.StatusOK, w.Code)
	var result graph.MergeResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.NotEmpty(t, result.DocumentID)
}

func TestMergeEndpoint_InvalidRequest(t *testing.T) {
	router, _ := testRouter(t, "")

	// Missing required filename
	w := doJSON(t, router, "POST", "/api/documents", map[string]interface{}{"document_id": "x"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListDocumentsEndpoint(t *testing.T) {
	router, _ := testRouter(t, "")

	w := doJSON(t, router, "GET", "/api/documents", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String(), "empty graph must list as an empty array, not null")

	doJSON(t, router, "POST", "/api/documents", mergeBody("fryer-manual"))

	w = doJSON(t, router, "GET", "/api/documents", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var docs []graph.DocumentSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, "fryer-manual", docs[0].ID)
	assert.Equal(t, int64(2), docs[0].EntityCount)
}

func TestPreviewEndpoint(t *testing.T) {
	router, _ := testRouter(t, "")
	doJSON(t, router, "POST", "/api/documents", mergeBody("fryer-manual"))

	w := doJSON(t, router, "GET", "/api/documents/fryer-manual/preview", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var plan graph.DeletionPlan
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &plan))
	assert.Len(t, plan.EntitiesToRemove, 2)
	assert.Len(t, plan.RelationshipsToRemove, 1)
	assert.Empty(t, plan.EntitiesToPreserve)
}

func TestPreviewEndpoint_NotFound(t *testing.T) {
	router, _ := testRouter(t, "")

	w := doJSON(t, router, "GET", "/api/documents/no-such-doc/preview", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteEndpoint(t *testing.T) {
	router, _ := testRouter(t, "")
	doJSON(t, router, "POST", "/api/documents", mergeBody("fryer-manual"))

	w := doJSON(t, router, "DELETE", "/api/documents/fryer-manual", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var result graph.DeletionResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.EntitiesRemoved)
	assert.Equal(t, 1, result.RelationshipsRemoved)

	// Deleting again is an idempotent no-op, still 200
	w = doJSON(t, router, "DELETE", "/api/documents/fryer-manual", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.True(t, result.DocumentNotFound)
}

func TestUploadEndpoint_NoExtractorConfigured(t *testing.T) {
	router, _ := testRouter(t, "")

	req, _ := http.NewRequest("POST", "/api/documents/upload?filename=fryer.html", bytes.NewBufferString("<html><body><p>Fryer</p></body></html>"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSweepEndpoint(t *testing.T) {
	router, store := testRouter(t, "")

	// Plant an orphan, then sweep it over HTTP
	ctx := context.Background()
	_, err := store.UpsertEntities(ctx, "ghost-doc", []graph.Entity{{EntityKey: graph.EntityKey{Name: "Ghost", Type: "Equipment"}}})
	require.NoError(t, err)
	_, err = store.RemoveEntityProvenance(ctx, graph.EntityKey{Name: "Ghost", Type: "Equipment"}, "ghost-doc")
	require.NoError(t, err)

	w := doJSON(t, router, "POST", "/api/maintenance/sweep", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var result graph.OrphanSweepResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 1, result.EntitiesRemoved)
}

func TestResetEndpoint_Disabled(t *testing.T) {
	router, _ := testRouter(t, "")

	w := doJSON(t, router, "POST", "/api/maintenance/reset", map[string]string{"confirmation_token": "anything"})

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestResetEndpoint_WrongToken(t *testing.T) {
	router, _ := testRouter(t, "secret")

	w := doJSON(t, router, "POST", "/api/maintenance/reset", map[string]string{"confirmation_token": "wrong"})

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestResetEndpoint(t *testing.T) {
	router, store := testRouter(t, "secret")
	doJSON(t, router, "POST", "/api/documents", mergeBody("fryer-manual"))

	w := doJSON(t, router, "POST", "/api/maintenance/reset", map[string]string{"confirmation_token": "secret"})

	require.Equal(t, http.StatusOK, w.Code)
	var response map[string]float64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, float64(3), response["nodes_deleted"])
	assert.Equal(t, float64(1), response["relationships_deleted"])

	counts, err := store.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, graph.GraphCounts{}, counts)
}
