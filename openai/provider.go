// Package openai implements the OpenAI Chat Completions provider.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/aqueductlabs/aqueduct/delta"
	"github.com/aqueductlabs/aqueduct/provider"
)

func init() {
	provider.Register("openai", func() (provider.Provider, error) {
		return New()
	})
}

// Provider implements the OpenAI API.
type Provider struct {
	client *client
}

// Option configures the OpenAI provider.
type Option func(*providerConfig)

type providerConfig struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *providerConfig) {
		c.apiKey = key
	}
}

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(c *providerConfig) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *providerConfig) {
		c.httpClient = client
	}
}

// New creates a new OpenAI provider.
func New(opts ...Option) (*Provider, error) {
	cfg := &providerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.apiKey == "" {
		cfg.apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.apiKey == "" {
		return nil, &provider.APIError{
			Provider: "openai",
			Message:  "OpenAI API key required: set OPENAI_API_KEY or use WithAPIKey",
		}
	}

	return &Provider{
		client: newClient(cfg.apiKey, cfg.baseURL, cfg.httpClient),
	}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "openai"
}

// Call implements provider.Provider.
func (p *Provider) Call(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	apiResp, err := p.client.chatCompletion(ctx, buildRequest(req))
	if err != nil {
		return nil, err
	}
	return convertResponse(apiResp), nil
}

// OpenStream implements provider.StreamingProvider.
func (p *Provider) OpenStream(ctx context.Context, req *provider.Request) (provider.RawStream, error) {
	return p.client.chatCompletionStream(ctx, buildRequest(req))
}

// StreamFormat implements provider.StreamingProvider.
func (p *Provider) StreamFormat() provider.StreamFormat {
	return provider.FormatSSE
}

// Mapper returns the interpreter for OpenAI's streaming chunk dialect.
func (p *Provider) Mapper() delta.Mapper {
	return mapStreamChunk
}

// mapStreamChunk interprets one OpenAI SSE chunk. The "[DONE]" sentinel is
// not JSON and terminates the stream.
func mapStreamChunk(ev delta.SourceEvent) (delta.Event, error) {
	if ev.Data == nil {
		if strings.TrimSpace(ev.Raw) == "[DONE]" {
			return delta.Event{Kind: delta.EventTerminal}, nil
		}
		return delta.Event{}, fmt.Errorf("unexpected non-JSON payload: %q", ev.Raw)
	}

	var chunk streamChunk
	if err := json.Unmarshal([]byte(ev.Raw), &chunk); err != nil {
		return delta.Event{}, fmt.Errorf("decoding openai chunk: %w", err)
	}

	// The usage-only chunk arrives last, with an empty choices array.
	if len(chunk.Choices) == 0 {
		if chunk.Usage != nil {
			return delta.Event{Kind: delta.EventUsage, Usage: &provider.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}}, nil
		}
		return delta.Event{Kind: delta.EventIgnore}, nil
	}

	d := chunk.Choices[0].Delta
	if len(d.ToolCalls) > 0 {
		tc := d.ToolCalls[0]
		return delta.Event{Kind: delta.EventToolCall, ToolCall: &delta.ToolCallDelta{
			Index:          tc.Index,
			ID:             tc.ID,
			Name:           tc.Function.Name,
			ArgumentsDelta: tc.Function.Arguments,
		}}, nil
	}
	if d.Content != "" {
		return delta.Event{Kind: delta.EventText, Text: d.Content}, nil
	}

	// Role-only and finish-reason-only chunks carry nothing to surface.
	return delta.Event{Kind: delta.EventIgnore}, nil
}

// buildRequest converts a provider.Request to an OpenAI API request.
func buildRequest(req *provider.Request) *chatCompletionRequest {
	apiReq := &chatCompletionRequest{
		Model:       req.Model,
		Messages:    make([]message, 0, len(req.Messages)),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
	}

	for _, msg := range req.Messages {
		apiMsg := message{
			Role:    string(msg.Role),
			Content: msg.Content,
		}

		if msg.ToolID != "" {
			apiMsg.ToolCallID = msg.ToolID
		}

		if len(msg.ToolCalls) > 0 {
			apiMsg.ToolCalls = make([]toolCall, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				apiMsg.ToolCalls[i] = toolCall{
					ID:   tc.ID,
					Type: "function",
					Function: functionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				}
			}
		}

		apiReq.Messages = append(apiReq.Messages, apiMsg)
	}

	for _, tool := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, toolDef{
			Type: "function",
			Function: functionDef{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	if req.JSONSchema != nil {
		apiReq.ResponseFormat = &responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchemaFormat{
				Name:   req.JSONSchema.Name,
				Strict: req.JSONSchema.Strict,
				Schema: makeAllPropertiesRequired(req.JSONSchema.Schema),
			},
		}
	}

	return apiReq
}

// convertResponse converts an OpenAI API response to a provider.Response.
func convertResponse(resp *chatCompletionResponse) *provider.Response {
	if len(resp.Choices) == 0 {
		return &provider.Response{}
	}

	choice := resp.Choices[0]
	result := &provider.Response{
		Content:      choice.Message.Content,
		FinishReason: convertFinishReason(choice.FinishReason),
		Usage: provider.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}

	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, provider.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return result
}

// makeAllPropertiesRequired ensures all properties in the schema are required.
// OpenAI's structured output API requires all properties to be in the
// 'required' array.
func makeAllPropertiesRequired(schema json.RawMessage) json.RawMessage {
	if schema == nil {
		return nil
	}

	var schemaMap map[string]any
	if err := json.Unmarshal(schema, &schemaMap); err != nil {
		return schema
	}

	makeRequiredRecursive(schemaMap)

	result, err := json.Marshal(schemaMap)
	if err != nil {
		return schema
	}
	return result
}

// makeRequiredRecursive recursively makes all properties required in the schema.
func makeRequiredRecursive(schemaMap map[string]any) {
	props, ok := schemaMap["properties"].(map[string]any)
	if !ok {
		return
	}

	required := make([]string, 0, len(props))
	for key := range props {
		required = append(required, key)
	}
	schemaMap["required"] = required

	for _, val := range props {
		if propMap, ok := val.(map[string]any); ok {
			if propMap["type"] == "object" {
				makeRequiredRecursive(propMap)
			}
			if items, ok := propMap["items"].(map[string]any); ok {
				if items["type"] == "object" {
					makeRequiredRecursive(items)
				}
			}
		}
	}
}

// convertFinishReason converts an OpenAI finish reason to a provider.FinishReason.
func convertFinishReason(reason string) provider.FinishReason {
	switch reason {
	case "tool_calls":
		return provider.FinishReasonToolCalls
	case "length":
		return provider.FinishReasonLength
	default:
		return provider.FinishReasonStop
	}
}
