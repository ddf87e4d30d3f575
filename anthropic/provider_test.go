package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqueductlabs/aqueduct/delta"
	"github.com/aqueductlabs/aqueduct/provider"
)

func mapRaw(t *testing.T, raw string) delta.Event {
	t.Helper()
	mapper := (&Provider{}).Mapper()
	ev, err := mapper(delta.SourceEvent{Raw: raw})
	require.NoError(t, err)
	return ev
}

func TestMapStreamEvent(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		check func(t *testing.T, ev delta.Event)
	}{
		{
			name: "text delta",
			raw:  `{"type": "content_block_delta", "index": 0, "delta": {"type": "text_delta", "text": "Hello"}}`,
			check: func(t *testing.T, ev delta.Event) {
				assert.Equal(t, delta.EventText, ev.Kind)
				assert.Equal(t, "Hello", ev.Text)
			},
		},
		{
			name: "tool use start",
			raw:  `{"type": "content_block_start", "index": 1, "content_block": {"type": "tool_use", "id": "toolu_1", "name": "get_weather"}}`,
			check: func(t *testing.T, ev delta.Event) {
				assert.Equal(t, delta.EventToolCall, ev.Kind)
				require.NotNil(t, ev.ToolCall)
				assert.Equal(t, 1, ev.ToolCall.Index)
				assert.Equal(t, "toolu_1", ev.ToolCall.ID)
				assert.Equal(t, "get_weather", ev.ToolCall.Name)
			},
		},
		{
			name: "tool arguments fragment",
			raw:  `{"type": "content_block_delta", "index": 1, "delta": {"type": "input_json_delta", "partial_json": "{\"city\":"}}`,
			check: func(t *testing.T, ev delta.Event) {
				assert.Equal(t, delta.EventToolCall, ev.Kind)
				require.NotNil(t, ev.ToolCall)
				assert.Equal(t, `{"city":`, ev.ToolCall.ArgumentsDelta)
				assert.Empty(t, ev.ToolCall.Name)
			},
		},
		{
			name: "message start carries prompt tokens",
			raw:  `{"type": "message_start", "message": {"usage": {"input_tokens": 21}}}`,
			check: func(t *testing.T, ev delta.Event) {
				assert.Equal(t, delta.EventUsage, ev.Kind)
				require.NotNil(t, ev.Usage)
				assert.Equal(t, 21, ev.Usage.PromptTokens)
			},
		},
		{
			name: "message delta carries completion tokens",
			raw:  `{"type": "message_delta", "delta": {"stop_reason": "end_turn"}, "usage": {"output_tokens": 55}}`,
			check: func(t *testing.T, ev delta.Event) {
				assert.Equal(t, delta.EventUsage, ev.Kind)
				require.NotNil(t, ev.Usage)
				assert.Equal(t, 55, ev.Usage.CompletionTokens)
			},
		},
		{
			name: "message stop terminates",
			raw:  `{"type": "message_stop"}`,
			check: func(t *testing.T, ev delta.Event) {
				assert.Equal(t, delta.EventTerminal, ev.Kind)
			},
		},
		{
			name: "ping ignored",
			raw:  `{"type": "ping"}`,
			check: func(t *testing.T, ev delta.Event) {
				assert.Equal(t, delta.EventIgnore, ev.Kind)
			},
		},
		{
			name: "content block stop ignored",
			raw:  `{"type": "content_block_stop", "index": 0}`,
			check: func(t *testing.T, ev delta.Event) {
				assert.Equal(t, delta.EventIgnore, ev.Kind)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, mapRaw(t, tt.raw))
		})
	}
}

func TestMapStreamEvent_MalformedPayload(t *testing.T) {
	mapper := (&Provider{}).Mapper()
	_, err := mapper(delta.SourceEvent{Raw: "not json"})
	assert.Error(t, err)
}

func TestMapper_TotalsSpanStartAndDelta(t *testing.T) {
	mapper := (&Provider{}).Mapper()

	start, err := mapper(delta.SourceEvent{Raw: `{"type": "message_start", "message": {"usage": {"input_tokens": 21}}}`})
	require.NoError(t, err)
	require.NotNil(t, start.Usage)
	assert.Equal(t, 21, start.Usage.PromptTokens)

	end, err := mapper(delta.SourceEvent{Raw: `{"type": "message_delta", "delta": {"stop_reason": "end_turn"}, "usage": {"output_tokens": 55}}`})
	require.NoError(t, err)
	require.NotNil(t, end.Usage)
	assert.Equal(t, 55, end.Usage.CompletionTokens)
	assert.Equal(t, 76, end.Usage.TotalTokens)
}

func TestBuildRequest(t *testing.T) {
	maxTokens := 512
	req := &provider.Request{
		Model:     "claude-sonnet-4-5",
		MaxTokens: &maxTokens,
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: "be brief"},
			{Role: provider.RoleUser, Content: "what is the weather?"},
			{Role: provider.RoleAssistant, ToolCalls: []provider.ToolCall{
				{ID: "toolu_1", Name: "get_weather", Arguments: `{"city": "Tokyo"}`},
			}},
			{Role: provider.RoleTool, ToolID: "toolu_1", Content: `{"temp": 22}`},
		},
		Tools: []provider.ToolDef{
			{Name: "get_weather", Description: "weather lookup", Parameters: []byte(`{"type": "object"}`)},
		},
	}

	apiReq := buildRequest(req)

	assert.Equal(t, "be brief", apiReq.System, "system prompt becomes a top-level field")
	assert.Equal(t, 512, apiReq.MaxTokens)
	require.Len(t, apiReq.Messages, 3)

	assert.Equal(t, "user", apiReq.Messages[0].Role)

	require.Len(t, apiReq.Messages[1].Content, 1)
	assert.Equal(t, "tool_use", apiReq.Messages[1].Content[0].Type)
	assert.Equal(t, "toolu_1", apiReq.Messages[1].Content[0].ID)

	assert.Equal(t, "user", apiReq.Messages[2].Role, "tool results ride on a user message")
	require.Len(t, apiReq.Messages[2].Content, 1)
	assert.Equal(t, "tool_result", apiReq.Messages[2].Content[0].Type)
	assert.Equal(t, "toolu_1", apiReq.Messages[2].Content[0].ToolUseID)

	require.Len(t, apiReq.Tools, 1)
	assert.Equal(t, "get_weather", apiReq.Tools[0].Name)
}

func TestConvertResponse(t *testing.T) {
	resp := &messagesResponse{
		StopReason: "tool_use",
		Content: []contentBlock{
			{Type: "text", Text: "Checking the weather."},
			{Type: "tool_use", ID: "toolu_9", Name: "get_weather", Input: map[string]any{"city": "Oslo"}},
		},
		Usage: messagesUsage{InputTokens: 10, OutputTokens: 20},
	}

	got := convertResponse(resp)

	assert.Equal(t, "Checking the weather.", got.Content)
	assert.Equal(t, provider.FinishReasonToolCalls, got.FinishReason)
	require.Len(t, got.ToolCalls, 1)
	assert.Equal(t, "toolu_9", got.ToolCalls[0].ID)
	assert.JSONEq(t, `{"city": "Oslo"}`, got.ToolCalls[0].Arguments)
	assert.Equal(t, 30, got.Usage.TotalTokens)
}

func TestConvertStopReason(t *testing.T) {
	assert.Equal(t, provider.FinishReasonToolCalls, convertStopReason("tool_use"))
	assert.Equal(t, provider.FinishReasonLength, convertStopReason("max_tokens"))
	assert.Equal(t, provider.FinishReasonStop, convertStopReason("end_turn"))
}
