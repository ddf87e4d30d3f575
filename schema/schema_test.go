package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type searchQuery struct {
	Query string `json:"query" jsonschema:"required,description=Search terms"`
	Limit int    `json:"limit,omitempty"`
}

type usageReport struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type transcriptTurn struct {
	Role    string      `json:"role" jsonschema:"required"`
	Content string      `json:"content"`
	Usage   usageReport `json:"usage"`
	Tags    []string    `json:"tags"`
	Retry   *int        `json:"retry,omitempty"`
}

func parseSchema(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var parsed map[string]any
	require.NoError(t, json.Unmarshal(raw, &parsed))
	return parsed
}

func TestGenerate(t *testing.T) {
	raw, err := Generate[searchQuery]()
	require.NoError(t, err)

	parsed := parseSchema(t, raw)
	assert.Equal(t, "object", parsed["type"])

	props, ok := parsed["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "query")
	assert.Contains(t, props, "limit")

	query := props["query"].(map[string]any)
	assert.Equal(t, "Search terms", query["description"])
}

func TestGenerate_RequiredFollowsTags(t *testing.T) {
	raw, err := Generate[searchQuery]()
	require.NoError(t, err)

	parsed := parseSchema(t, raw)
	required, ok := parsed["required"].([]any)
	require.True(t, ok)

	assert.Contains(t, required, "query")
	assert.NotContains(t, required, "limit", "omitempty fields are optional")
}

func TestGenerate_NestedAndCollectionFields(t *testing.T) {
	raw, err := Generate[transcriptTurn]()
	require.NoError(t, err)

	parsed := parseSchema(t, raw)
	props := parsed["properties"].(map[string]any)

	usage, ok := props["usage"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "object", usage["type"], "nested structs are inlined")

	tags, ok := props["tags"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "array", tags["type"])

	assert.Contains(t, props, "retry", "pointer fields still appear")
}

func TestGenerate_NoRefs(t *testing.T) {
	assert.True(t, Reflector.DoNotReference)

	raw, err := Generate[transcriptTurn]()
	require.NoError(t, err)

	assert.NotContains(t, string(raw), "$ref",
		"vendor schema fields reject $ref, so definitions must be inlined")
}

func TestGenerateFromValue(t *testing.T) {
	raw, err := GenerateFromValue(&searchQuery{})
	require.NoError(t, err)

	parsed := parseSchema(t, raw)
	assert.Equal(t, "object", parsed["type"])
	assert.Contains(t, parsed, "properties")
}

func TestMustGenerate(t *testing.T) {
	assert.NotPanics(t, func() {
		raw := MustGenerate[usageReport]()
		assert.True(t, json.Valid(raw))
	})
}
