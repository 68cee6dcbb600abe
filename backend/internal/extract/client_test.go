package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"manualgraph/backend/internal/graph"
)

func TestParseExtraction(t *testing.T) {
	payload, err := parseExtraction(`{
		"entities": [{"name": "Fryer 3000", "type": "Equipment", "attributes": {"voltage": "230V"}}],
		"relationships": [{
			"source": {"name": "Fryer 3000", "type": "Equipment"},
			"target": {"name": "Thermostat XL", "type": "Component"},
			"type": "HAS_COMPONENT"
		}]
	}`)
	require.NoError(t, err)

	require.Len(t, payload.Entities, 1)
	assert.Equal(t, graph.EntityKey{Name: "Fryer 3000", Type: "Equipment"}, payload.Entities[0].EntityKey)
	assert.Equal(t, "230V", payload.Entities[0].Attributes["voltage"])

	require.Len(t, payload.Relationships, 1)
	assert.Equal(t, "HAS_COMPONENT", payload.Relationships[0].Type)
}

func TestParseExtractionStripsMarkdownFences(t *testing.T) {
	payload, err := parseExtraction("```json\n{\"entities\": [], \"relationships\": []}\n```")
	require.NoError(t, err)
	assert.Empty(t, payload.Entities)
	assert.Empty(t, payload.Relationships)
}

func TestParseExtractionRejectsNonJSON(t *testing.T) {
	_, err := parseExtraction("I could not find any entities in this text.")
	assert.Error(t, err)
}
