// Package ollama implements the Ollama provider against the native
// /api/chat endpoint, which streams newline-delimited JSON.
package ollama

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
	provider.Register("ollama", func() (provider.Provider, error) {
		return New()
	})
}

// Provider implements the Ollama API.
type Provider struct {
	client *client
}

// Option configures the Ollama provider.
type Option func(*providerConfig)

type providerConfig struct {
	baseURL    string
	httpClient *http.Client
}

// WithBaseURL sets a custom base URL. The default is the local daemon,
// overridable through OLLAMA_HOST.
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

// New creates a new Ollama provider. No API key is involved; the daemon is
// assumed reachable at the configured address.
func New(opts ...Option) (*Provider, error) {
	cfg := &providerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.baseURL == "" {
		cfg.baseURL = os.Getenv("OLLAMA_HOST")
	}

	return &Provider{
		client: newClient(cfg.baseURL, cfg.httpClient),
	}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "ollama"
}

// Call implements provider.Provider.
func (p *Provider) Call(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	apiResp, err := p.client.chat(ctx, buildRequest(req))
	if err != nil {
		return nil, err
	}
	return convertResponse(apiResp), nil
}

// OpenStream implements provider.StreamingProvider.
func (p *Provider) OpenStream(ctx context.Context, req *provider.Request) (provider.RawStream, error) {
	return p.client.chatStream(ctx, buildRequest(req))
}

// StreamFormat implements provider.StreamingProvider.
func (p *Provider) StreamFormat() provider.StreamFormat {
	return provider.FormatJSONLines
}

// Mapper returns the interpreter for Ollama's streaming line dialect.
func (p *Provider) Mapper() delta.Mapper {
	return mapStreamLine
}

// mapStreamLine interprets one /api/chat line. The final line carries
// Done=true plus the evaluation counters; tool calls arrive complete, never
// fragmented.
func mapStreamLine(ev delta.SourceEvent) (delta.Event, error) {
	var line chatResponse
	if err := json.Unmarshal([]byte(ev.Raw), &line); err != nil {
		return delta.Event{}, fmt.Errorf("decoding ollama line: %w", err)
	}
	if line.Error != "" {
		return delta.Event{}, fmt.Errorf("ollama stream error: %s", line.Error)
	}

	if line.Done {
		return delta.Event{
			Kind: delta.EventTerminal,
			Usage: &provider.Usage{
				PromptTokens:     line.PromptEvalCount,
				CompletionTokens: line.EvalCount,
				TotalTokens:      line.PromptEvalCount + line.EvalCount,
			},
		}, nil
	}

	if len(line.Message.ToolCalls) > 0 {
		fc := line.Message.ToolCalls[0].Function
		return delta.Event{
			Kind: delta.EventToolCall,
			ToolCall: &delta.ToolCallDelta{
				// Ollama has no call ids; the name stands in.
				ID:             fc.Name,
				Name:           fc.Name,
				ArgumentsDelta: string(fc.Arguments),
			},
		}, nil
	}

	if line.Message.Content != "" {
		return delta.Event{Kind: delta.EventText, Text: line.Message.Content}, nil
	}

	return delta.Event{Kind: delta.EventIgnore}, nil
}

// buildRequest converts a provider.Request to an Ollama API request.
func buildRequest(req *provider.Request) *chatRequest {
	apiReq := &chatRequest{
		Model:    req.Model,
		Messages: make([]chatMessage, 0, len(req.Messages)),
	}

	if req.Temperature != nil || req.MaxTokens != nil || req.TopP != nil || len(req.StopSequences) > 0 {
		apiReq.Options = &modelOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
			TopP:        req.TopP,
			Stop:        req.StopSequences,
		}
	}

	for _, msg := range req.Messages {
		apiMsg := chatMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}

		if msg.Role == provider.RoleTool {
			apiMsg.ToolName = msg.ToolID
		}

		for _, tc := range msg.ToolCalls {
			args := json.RawMessage(tc.Arguments)
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			apiMsg.ToolCalls = append(apiMsg.ToolCalls, toolCall{
				Function: functionCall{
					Name:      tc.Name,
					Arguments: args,
				},
			})
		}

		apiReq.Messages = append(apiReq.Messages, apiMsg)
	}

	for _, t := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, toolDef{
			Type: "function",
			Function: toolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	if req.JSONSchema != nil {
		// Structured output: the format field takes the schema itself.
		apiReq.Format = req.JSONSchema.Schema
	}

	return apiReq
}

// convertResponse converts an Ollama API response to a provider.Response.
func convertResponse(resp *chatResponse) *provider.Response {
	result := &provider.Response{
		Content: resp.Message.Content,
		Usage: provider.Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
	}

	for _, tc := range resp.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, provider.ToolCall{
			ID:        tc.Function.Name,
			Name:      tc.Function.Name,
			Arguments: string(tc.Function.Arguments),
		})
	}

	switch {
	case len(result.ToolCalls) > 0:
		result.FinishReason = provider.FinishReasonToolCalls
	case resp.DoneReason == "length":
		result.FinishReason = provider.FinishReasonLength
	default:
		result.FinishReason = provider.FinishReasonStop
	}

	return result
}
