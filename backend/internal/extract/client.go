package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"manualgraph/backend/internal/graph"
	"manualgraph/backend/pkg/logger"
)

// Client is the thin adapter around the external extraction model. It turns
// raw manual text into entity/relationship lists for the merger; extraction
// quality is the model's problem, not this package's.
type Client struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewClient creates an extraction client against an OpenAI-compatible endpoint
func NewClient(baseURL, apiKey, modelID string) *Client {
	// Local gateways accept any key
	if apiKey == "" {
		apiKey = "dummy-key"
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = strings.TrimSuffix(baseURL, "/") + "/v1"
	}

	return &Client{
		client: openai.NewClientWithConfig(config),
		model:  modelID,
		logger: logger.Named("extract"),
	}
}

const extractionSystemPrompt = `You extract a knowledge graph from equipment manual text.
Respond with a single JSON object and nothing else:
{"entities": [{"name": "...", "type": "...", "description": "...", "attributes": {"key": "value"}}],
 "relationships": [{"source": {"name": "...", "type": "..."}, "target": {"name": "...", "type": "..."}, "type": "...", "description": "..."}]}
Entity types: Equipment, Component, Procedure, SafetyProtocol, Specification.
Relationship types: HAS_COMPONENT, REQUIRES, DESCRIBED_BY, APPLIES_TO.
Attribute keys must be lowercase identifiers (letters, digits, underscores).`

type extractionPayload struct {
	Entities      []graph.Entity       `json:"entities"`
	Relationships []graph.Relationship `json:"relationships"`
}

// ExtractGraph sends manual text to the model and parses the returned graph.
// Provenance is left empty; the merger stamps the document id during upsert.
func (c *Client) ExtractGraph(ctx context.Context, text string) ([]graph.Entity, []graph.Relationship, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractionSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		Temperature: 0.1,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("extraction request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, nil, fmt.Errorf("extraction returned no choices")
	}

	payload, err := parseExtraction(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, nil, err
	}

	c.logger.Debug("Graph extracted",
		zap.Int("entities", len(payload.Entities)),
		zap.Int("relationships", len(payload.Relationships)),
	)
	return payload.Entities, payload.Relationships, nil
}

// parseExtraction tolerates the usual markdown fences models wrap JSON in
func parseExtraction(content string) (*extractionPayload, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var payload extractionPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse extraction response: %w", err)
	}
	return &payload, nil
}
