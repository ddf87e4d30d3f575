// Package gemini implements the Google Gemini provider.
package gemini

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
	provider.Register("gemini", func() (provider.Provider, error) {
		return New()
	})
}

// Provider implements the Gemini API.
type Provider struct {
	client *client
}

// Option configures the Gemini provider.
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

// New creates a new Gemini provider.
func New(opts ...Option) (*Provider, error) {
	cfg := &providerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.apiKey == "" {
		cfg.apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.apiKey == "" {
		return nil, &provider.APIError{
			Provider: "gemini",
			Message:  "Gemini API key required: set GEMINI_API_KEY or use WithAPIKey",
		}
	}

	return &Provider{
		client: newClient(cfg.apiKey, cfg.baseURL, cfg.httpClient),
	}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "gemini"
}

// Call implements provider.Provider.
func (p *Provider) Call(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	apiResp, err := p.client.generateContent(ctx, req.Model, buildRequest(req))
	if err != nil {
		return nil, err
	}
	return convertResponse(apiResp), nil
}

// OpenStream implements provider.StreamingProvider.
func (p *Provider) OpenStream(ctx context.Context, req *provider.Request) (provider.RawStream, error) {
	return p.client.streamGenerateContent(ctx, req.Model, buildRequest(req))
}

// StreamFormat implements provider.StreamingProvider. Gemini's REST
// streaming endpoint delivers concatenated JSON chunk objects inside array
// punctuation, not SSE records.
func (p *Provider) StreamFormat() provider.StreamFormat {
	return provider.FormatJSON
}

// Mapper returns the interpreter for Gemini's streaming chunk dialect.
func (p *Provider) Mapper() delta.Mapper {
	return mapStreamChunk
}

// mapStreamChunk interprets one recovered Gemini chunk object. Gemini sends
// no explicit terminal marker over REST streaming; the stream simply ends,
// and cumulative usage rides on ordinary chunks.
func mapStreamChunk(ev delta.SourceEvent) (delta.Event, error) {
	var chunk streamChunk
	if err := json.Unmarshal([]byte(ev.Raw), &chunk); err != nil {
		return delta.Event{}, fmt.Errorf("decoding gemini chunk: %w", err)
	}

	out := delta.Event{Kind: delta.EventIgnore}
	if chunk.UsageMetadata != nil {
		out.Usage = &provider.Usage{
			PromptTokens:     chunk.UsageMetadata.PromptTokenCount,
			CompletionTokens: chunk.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      chunk.UsageMetadata.TotalTokenCount,
		}
		out.Kind = delta.EventUsage
	}

	if len(chunk.Candidates) == 0 || chunk.Candidates[0].Content == nil {
		return out, nil
	}

	for _, p := range chunk.Candidates[0].Content.Parts {
		if p.FunctionCall != nil {
			argsJSON, _ := json.Marshal(p.FunctionCall.Args)
			out.Kind = delta.EventToolCall
			out.ToolCall = &delta.ToolCallDelta{
				// Gemini has no call ids; the name stands in.
				ID:             p.FunctionCall.Name,
				Name:           p.FunctionCall.Name,
				ArgumentsDelta: string(argsJSON),
			}
			return out, nil
		}
		if p.Text != "" {
			out.Kind = delta.EventText
			out.Text += p.Text
		}
	}

	return out, nil
}

// buildRequest converts a provider.Request to a Gemini API request.
func buildRequest(req *provider.Request) *generateContentRequest {
	apiReq := &generateContentRequest{
		Contents: make([]content, 0),
	}

	if req.Temperature != nil || req.MaxTokens != nil || req.TopP != nil || len(req.StopSequences) > 0 {
		apiReq.GenerationConfig = &generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
			TopP:            req.TopP,
			StopSequences:   req.StopSequences,
		}
	}

	for _, msg := range req.Messages {
		// Gemini takes the system prompt as a dedicated instruction field.
		if msg.Role == provider.RoleSystem {
			apiReq.SystemInstruction = &content{
				Parts: []part{{Text: msg.Content}},
			}
			continue
		}

		apiContent := content{
			Role:  convertRole(msg.Role),
			Parts: make([]part, 0),
		}

		if msg.Role == provider.RoleTool {
			// Function responses ride on the user role.
			var responseData any
			_ = json.Unmarshal([]byte(msg.Content), &responseData)
			if responseData == nil {
				responseData = msg.Content
			}

			apiContent.Role = "user"
			apiContent.Parts = append(apiContent.Parts, part{
				FunctionResponse: &functionResponse{
					Name:     msg.ToolID,
					Response: responseData,
				},
			})
			apiReq.Contents = append(apiReq.Contents, apiContent)
			continue
		}

		if len(msg.ToolCalls) > 0 {
			for _, tc := range msg.ToolCalls {
				var args map[string]any
				if tc.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
						args = make(map[string]any)
					}
				}
				apiContent.Parts = append(apiContent.Parts, part{
					FunctionCall: &functionCall{
						Name: tc.Name,
						Args: args,
					},
				})
			}
		}

		if msg.Content != "" {
			apiContent.Parts = append(apiContent.Parts, part{
				Text: msg.Content,
			})
		}

		if len(apiContent.Parts) > 0 {
			apiReq.Contents = append(apiReq.Contents, apiContent)
		}
	}

	if len(req.Tools) > 0 {
		funcDecls := make([]functionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			funcDecls = append(funcDecls, functionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			})
		}
		apiReq.Tools = []tool{{FunctionDeclarations: funcDecls}}
	}

	if req.JSONSchema != nil {
		if apiReq.GenerationConfig == nil {
			apiReq.GenerationConfig = &generationConfig{}
		}
		apiReq.GenerationConfig.ResponseMimeType = "application/json"
		var schema any
		if err := json.Unmarshal(req.JSONSchema.Schema, &schema); err == nil {
			apiReq.GenerationConfig.ResponseSchema = schema
		}
	}

	return apiReq
}

// convertResponse converts a Gemini API response to a provider.Response.
func convertResponse(resp *generateContentResponse) *provider.Response {
	result := &provider.Response{}

	if resp.UsageMetadata != nil {
		result.Usage = provider.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}

	if len(resp.Candidates) == 0 {
		return result
	}

	candidate := resp.Candidates[0]
	result.FinishReason = convertFinishReason(candidate.FinishReason)

	if candidate.Content != nil {
		for _, p := range candidate.Content.Parts {
			if p.Text != "" {
				result.Content += p.Text
			}
			if p.FunctionCall != nil {
				argsJSON, _ := json.Marshal(p.FunctionCall.Args)
				result.ToolCalls = append(result.ToolCalls, provider.ToolCall{
					ID:        p.FunctionCall.Name,
					Name:      p.FunctionCall.Name,
					Arguments: string(argsJSON),
				})
			}
		}
	}

	return result
}

func convertRole(role provider.Role) string {
	switch role {
	case provider.RoleUser:
		return "user"
	case provider.RoleAssistant:
		return "model"
	default:
		return string(role)
	}
}

func convertFinishReason(reason string) provider.FinishReason {
	switch reason {
	case "MAX_TOKENS":
		return provider.FinishReasonLength
	case "TOOL_USE", "FUNCTION_CALL":
		return provider.FinishReasonToolCalls
	default:
		return provider.FinishReasonStop
	}
}
