// Package llm provides the main API for making LLM calls.
package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/aqueductlabs/aqueduct/cancel"
	"github.com/aqueductlabs/aqueduct/interceptor"
	"github.com/aqueductlabs/aqueduct/provider"
	"github.com/aqueductlabs/aqueduct/retry"
	"github.com/aqueductlabs/aqueduct/schema"
)

// Call makes an LLM call and returns the complete response. Transient
// provider failures are retried under the configured backoff policy, and
// tool calls requested by the model are executed and fed back automatically
// when tools were supplied.
//
// Example:
//
//	resp, err := llm.Call(ctx, "Recommend a fantasy book",
//	    llm.WithProvider("openai"),
//	    llm.WithModel("gpt-4o-mini"),
//	)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(resp.Text())
func Call(ctx context.Context, prompt string, opts ...Option) (*Response, error) {
	cfg := newCallConfig()
	cfg.apply(opts...)

	if cfg.providerName == "" {
		return nil, ErrProviderRequired
	}
	if cfg.model == "" {
		return nil, ErrModelRequired
	}

	p, err := provider.Get(cfg.providerName)
	if err != nil {
		return nil, fmt.Errorf("getting provider: %w", err)
	}

	return run(ctx, p, cfg.buildRequest(prompt), cfg)
}

// CallMessages makes an LLM call with explicit message history.
func CallMessages(ctx context.Context, messages []Message, opts ...Option) (*Response, error) {
	opts = append(opts, WithMessages(messages...))
	return Call(ctx, "", opts...)
}

// CallParse makes an LLM call with structured output and parses the response
// into type T. The JSON schema is generated from T.
//
// Example:
//
//	type Book struct {
//	    Title  string `json:"title" jsonschema:"required,description=Book title"`
//	    Author string `json:"author" jsonschema:"required"`
//	}
//
//	book, _, err := llm.CallParse[Book](ctx, "Recommend a sci-fi book",
//	    llm.WithProvider("openai"),
//	    llm.WithModel("gpt-4o-mini"),
//	)
func CallParse[T any](ctx context.Context, prompt string, opts ...Option) (T, *Response, error) {
	var zero T

	js, err := schema.Generate[T]()
	if err != nil {
		return zero, nil, fmt.Errorf("generating response schema: %w", err)
	}
	opts = append(opts, WithResponseSchema("response", js))

	resp, err := Call(ctx, prompt, opts...)
	if err != nil {
		return zero, nil, err
	}

	var v T
	if err := json.Unmarshal([]byte(resp.Text()), &v); err != nil {
		return zero, resp, fmt.Errorf("parsing structured output: %w", err)
	}
	return v, resp, nil
}

// run drives one call to completion: retrying the provider call, executing
// requested tools and feeding their results back until the model answers
// with text or the round budget runs out.
func run(ctx context.Context, p provider.Provider, req *provider.Request, cfg *callConfig) (*Response, error) {
	mgrOpts := []cancel.Option{cancel.WithLogger(cfg.logger)}
	if cfg.gracefulTimeout > 0 {
		mgrOpts = append(mgrOpts, cancel.WithGracefulTimeout(cfg.gracefulTimeout))
	}
	mgr := cancel.NewManager(ctx, mgrOpts...)
	defer mgr.Close()

	if err := mgr.CheckCancellation(cancel.PhaseInitialization); err != nil {
		return nil, err
	}

	ictx := interceptor.NewContext(mgr.Context(), req)
	if cfg.chain != nil {
		out, err := cfg.chain.ExecuteRequest(ictx)
		if err != nil {
			return nil, err
		}
		ictx = out
		if r, ok := ictx.Request.(*provider.Request); ok {
			req = r
		}
	}

	toolset := make(map[string]Tool, len(cfg.tools))
	for _, t := range cfg.tools {
		toolset[t.Name()] = t
	}

	for round := 0; ; round++ {
		resp, err := callWithRetry(mgr, p, req, cfg)
		if err != nil {
			return nil, err
		}

		if len(resp.ToolCalls) == 0 || len(toolset) == 0 {
			if cfg.chain != nil {
				if _, err := cfg.chain.ExecuteResponse(ictx.WithResponse(resp)); err != nil {
					return nil, err
				}
			}
			messages := append([]Message(nil), req.Messages...)
			messages = append(messages, AssistantMessage(resp.Content))
			return &Response{
				raw:      resp,
				messages: messages,
				config: &responseConfig{
					providerName: cfg.providerName,
					model:        cfg.model,
					tools:        cfg.tools,
				},
			}, nil
		}

		if round >= cfg.maxToolRounds {
			return nil, fmt.Errorf("model requested tools beyond the %d-round budget", cfg.maxToolRounds)
		}
		if err := mgr.CheckCancellation(cancel.PhaseToolCalls); err != nil {
			return nil, err
		}

		req.Messages = append(req.Messages, provider.Message{
			Role:      provider.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, tc := range resp.ToolCalls {
			tool, ok := toolset[tc.Name]
			if !ok {
				return nil, &ToolNotFoundError{Name: tc.Name}
			}
			result, err := tool.Execute(mgr.Context(), json.RawMessage(tc.Arguments))
			if err != nil {
				return nil, &ToolError{ToolName: tc.Name, Cause: err}
			}
			req.Messages = append(req.Messages, ToolMessage(tc.ID, marshalToolResult(result)))
		}
	}
}

func marshalToolResult(result any) string {
	if s, ok := result.(string); ok {
		return s
	}
	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("Error marshaling result: %v", err)
	}
	return string(b)
}

// callWithRetry performs the provider call under the backoff policy. The
// last provider error surfaces when attempts run out.
func callWithRetry(mgr *cancel.Manager, p provider.Provider, req *provider.Request, cfg *callConfig) (*provider.Response, error) {
	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := mgr.CheckCancellation(cancel.PhaseExecution); err != nil {
			return nil, err
		}

		resp, err := p.Call(mgr.Context(), req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		d := retry.Decide(retry.Classify(err), attempt, cfg.backoff, retryAfterFrom(err))
		if !d.Retry {
			return nil, fmt.Errorf("calling provider: %w", lastErr)
		}

		cfg.logger.Info("retrying provider call",
			zap.Int("attempt", attempt),
			zap.Duration("delay", d.Delay),
			zap.String("reason", d.Reason))

		if err := retry.Wait(mgr.Context(), d.Delay); err != nil {
			if cerr := mgr.CheckCancellation(cancel.PhaseExecution); cerr != nil {
				return nil, cerr
			}
			return nil, err
		}
	}
}
