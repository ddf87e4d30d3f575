package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aqueductlabs/aqueduct/provider"
)

// Response is the complete result of a call, streamed or not.
type Response struct {
	raw      *provider.Response
	messages []Message       // full conversation history
	config   *responseConfig // provider/model info for Resume
}

// responseConfig stores the configuration needed to resume a conversation.
type responseConfig struct {
	providerName string
	model        string
	tools        []Tool
}

// Text returns the text content of the response.
func (r *Response) Text() string {
	if r.raw == nil {
		return ""
	}
	return r.raw.Content
}

// Parse unmarshals the response text into v. Use with WithResponseSchema to
// get structured output.
func (r *Response) Parse(v any) error {
	if err := json.Unmarshal([]byte(r.Text()), v); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// HasToolCalls reports whether the response contains tool calls.
func (r *Response) HasToolCalls() bool {
	return r.raw != nil && len(r.raw.ToolCalls) > 0
}

// ToolCalls returns any tool calls made by the model.
func (r *Response) ToolCalls() []ToolCall {
	if r.raw == nil {
		return nil
	}
	return r.raw.ToolCalls
}

// Usage returns token usage statistics.
func (r *Response) Usage() provider.Usage {
	if r.raw == nil {
		return provider.Usage{}
	}
	return r.raw.Usage
}

// FinishReason returns why the model stopped generating.
func (r *Response) FinishReason() provider.FinishReason {
	if r.raw == nil {
		return ""
	}
	return r.raw.FinishReason
}

// Raw returns the underlying provider response.
func (r *Response) Raw() *provider.Response {
	return r.raw
}

// Messages returns the full conversation history including the assistant's
// response.
func (r *Response) Messages() []Message {
	return r.messages
}

// Resume continues the conversation with additional user content. It uses
// the same provider, model and tools as the original call.
//
// Example:
//
//	resp, _ := llm.Call(ctx, "Recommend a book", opts...)
//	followup, _ := resp.Resume(ctx, "Why that one?")
//	fmt.Println(followup.Text())
func (r *Response) Resume(ctx context.Context, content string, opts ...Option) (*Response, error) {
	if r.config == nil {
		return nil, fmt.Errorf("cannot resume: response carries no call configuration")
	}

	messages := make([]Message, len(r.messages), len(r.messages)+1)
	copy(messages, r.messages)
	messages = append(messages, UserMessage(content))

	allOpts := make([]Option, 0, len(opts)+3)
	allOpts = append(allOpts, WithProvider(r.config.providerName), WithModel(r.config.model))
	if len(r.config.tools) > 0 {
		allOpts = append(allOpts, WithTools(r.config.tools...))
	}
	allOpts = append(allOpts, opts...)

	return CallMessages(ctx, messages, allOpts...)
}

// ToolCall is an alias for provider.ToolCall for convenience.
type ToolCall = provider.ToolCall
