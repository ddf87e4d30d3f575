// Package anthropic implements the Anthropic Messages API provider.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/aqueductlabs/aqueduct/delta"
	"github.com/aqueductlabs/aqueduct/provider"
)

func init() {
	provider.Register("anthropic", func() (provider.Provider, error) {
		return New()
	})
}

// Provider implements the Anthropic Messages API.
type Provider struct {
	client *client
}

// Option configures the Anthropic provider.
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

// New creates a new Anthropic provider.
func New(opts ...Option) (*Provider, error) {
	cfg := &providerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.apiKey == "" {
		cfg.apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.apiKey == "" {
		return nil, &provider.APIError{
			Provider: "anthropic",
			Message:  "Anthropic API key required: set ANTHROPIC_API_KEY or use WithAPIKey",
		}
	}

	return &Provider{
		client: newClient(cfg.apiKey, cfg.baseURL, cfg.httpClient),
	}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "anthropic"
}

// Call implements provider.Provider.
func (p *Provider) Call(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	apiResp, err := p.client.messages(ctx, buildRequest(req))
	if err != nil {
		return nil, err
	}
	return convertResponse(apiResp), nil
}

// OpenStream implements provider.StreamingProvider.
func (p *Provider) OpenStream(ctx context.Context, req *provider.Request) (provider.RawStream, error) {
	return p.client.messagesStream(ctx, buildRequest(req))
}

// StreamFormat implements provider.StreamingProvider.
func (p *Provider) StreamFormat() provider.StreamFormat {
	return provider.FormatSSE
}

// Mapper returns the interpreter for Anthropic's streaming event dialect.
// The mapper carries per-stream state: input tokens arrive on message_start
// and output tokens on message_delta, so totals are summed across the two.
func (p *Provider) Mapper() delta.Mapper {
	var inputTokens int
	return func(ev delta.SourceEvent) (delta.Event, error) {
		return mapStreamEvent(ev, &inputTokens)
	}
}

// mapStreamEvent interprets one Anthropic SSE event.
func mapStreamEvent(ev delta.SourceEvent, inputTokens *int) (delta.Event, error) {
	var se streamEvent
	if err := json.Unmarshal([]byte(ev.Raw), &se); err != nil {
		return delta.Event{}, fmt.Errorf("decoding anthropic event: %w", err)
	}

	switch se.Type {
	case "content_block_start":
		if se.ContentBlock != nil && se.ContentBlock.Type == "tool_use" {
			return delta.Event{Kind: delta.EventToolCall, ToolCall: &delta.ToolCallDelta{
				Index: se.Index,
				ID:    se.ContentBlock.ID,
				Name:  se.ContentBlock.Name,
			}}, nil
		}
		return delta.Event{Kind: delta.EventIgnore}, nil

	case "content_block_delta":
		if se.Delta == nil {
			return delta.Event{Kind: delta.EventIgnore}, nil
		}
		if se.Delta.PartialJSON != "" {
			return delta.Event{Kind: delta.EventToolCall, ToolCall: &delta.ToolCallDelta{
				Index:          se.Index,
				ArgumentsDelta: se.Delta.PartialJSON,
			}}, nil
		}
		if se.Delta.Text != "" {
			return delta.Event{Kind: delta.EventText, Text: se.Delta.Text}, nil
		}
		return delta.Event{Kind: delta.EventIgnore}, nil

	case "message_start":
		if se.Message != nil {
			*inputTokens = se.Message.Usage.InputTokens
			return delta.Event{Kind: delta.EventUsage, Usage: &provider.Usage{
				PromptTokens: se.Message.Usage.InputTokens,
			}}, nil
		}
		return delta.Event{Kind: delta.EventIgnore}, nil

	case "message_delta":
		if se.Usage != nil {
			return delta.Event{Kind: delta.EventUsage, Usage: &provider.Usage{
				CompletionTokens: se.Usage.OutputTokens,
				TotalTokens:      *inputTokens + se.Usage.OutputTokens,
			}}, nil
		}
		return delta.Event{Kind: delta.EventIgnore}, nil

	case "message_stop":
		return delta.Event{Kind: delta.EventTerminal}, nil

	default:
		// ping, content_block_stop and future event types.
		return delta.Event{Kind: delta.EventIgnore}, nil
	}
}

// buildRequest converts a provider.Request to an Anthropic API request.
func buildRequest(req *provider.Request) *messagesRequest {
	apiReq := &messagesRequest{
		Model:         req.Model,
		Messages:      make([]message, 0),
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.StopSequences,
	}

	if req.MaxTokens != nil {
		apiReq.MaxTokens = *req.MaxTokens
	}

	for _, msg := range req.Messages {
		// Anthropic takes the system prompt as a top-level field.
		if msg.Role == provider.RoleSystem {
			apiReq.System = msg.Content
			continue
		}

		apiMsg := message{
			Role: convertRole(msg.Role),
		}

		if msg.Role == provider.RoleTool {
			apiMsg.Role = "user"
			apiMsg.Content = []contentPart{{
				Type:      "tool_result",
				ToolUseID: msg.ToolID,
				Content:   msg.Content,
			}}
			apiReq.Messages = append(apiReq.Messages, apiMsg)
			continue
		}

		if len(msg.ToolCalls) > 0 {
			for _, tc := range msg.ToolCalls {
				var input any
				if tc.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
						input = tc.Arguments
					}
				}
				apiMsg.Content = append(apiMsg.Content, contentPart{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: input,
				})
			}
		}

		if msg.Content != "" {
			apiMsg.Content = append(apiMsg.Content, contentPart{
				Type: "text",
				Text: msg.Content,
			})
		}

		if len(apiMsg.Content) > 0 {
			apiReq.Messages = append(apiReq.Messages, apiMsg)
		}
	}

	for _, tool := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, toolDef{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Parameters,
		})
	}

	if req.JSONSchema != nil {
		apiReq.OutputFormat = &outputFormat{
			Type:   "json_schema",
			Schema: req.JSONSchema.Schema,
		}
	}

	return apiReq
}

// convertResponse converts an Anthropic API response to a provider.Response.
func convertResponse(resp *messagesResponse) *provider.Response {
	result := &provider.Response{
		FinishReason: convertStopReason(resp.StopReason),
		Usage: provider.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			result.Content += block.Text
		case "tool_use":
			inputJSON, _ := json.Marshal(block.Input)
			result.ToolCalls = append(result.ToolCalls, provider.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(inputJSON),
			})
		}
	}

	return result
}

func convertRole(role provider.Role) string {
	switch role {
	case provider.RoleUser:
		return "user"
	case provider.RoleAssistant:
		return "assistant"
	default:
		return string(role)
	}
}

func convertStopReason(reason string) provider.FinishReason {
	switch reason {
	case "tool_use":
		return provider.FinishReasonToolCalls
	case "max_tokens":
		return provider.FinishReasonLength
	default:
		return provider.FinishReasonStop
	}
}
