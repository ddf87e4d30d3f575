package llm

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/aqueductlabs/aqueduct/delta"
	"github.com/aqueductlabs/aqueduct/interceptor"
	"github.com/aqueductlabs/aqueduct/provider"
	"github.com/aqueductlabs/aqueduct/retry"
)

// Option configures an LLM call.
type Option func(*callConfig)

// callConfig holds all configuration for a call.
type callConfig struct {
	providerName  string
	model         string
	temperature   *float64
	maxTokens     *int
	topP          *float64
	stopSequences []string
	systemMessage string
	tools         []Tool
	messages      []Message
	jsonSchema    *provider.JSONSchema

	backoff         retry.BackoffConfig
	gracefulTimeout time.Duration
	chain           *interceptor.Chain
	mapper          delta.Mapper
	maxObjectSize   int
	maxToolRounds   int
	logger          *zap.Logger
}

func newCallConfig() *callConfig {
	return &callConfig{
		backoff:       retry.DefaultBackoffConfig(),
		maxToolRounds: 8,
		logger:        zap.NewNop(),
	}
}

func (c *callConfig) apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// WithProvider sets the LLM provider (e.g., "openai", "anthropic").
func WithProvider(name string) Option {
	return func(c *callConfig) {
		c.providerName = name
	}
}

// WithModel sets the model to use (e.g., "gpt-4o-mini").
func WithModel(name string) Option {
	return func(c *callConfig) {
		c.model = name
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *callConfig) {
		c.temperature = &t
	}
}

// WithMaxTokens sets the maximum tokens in the response.
func WithMaxTokens(n int) Option {
	return func(c *callConfig) {
		c.maxTokens = &n
	}
}

// WithTopP sets the nucleus sampling parameter (0.0 to 1.0).
func WithTopP(p float64) Option {
	return func(c *callConfig) {
		c.topP = &p
	}
}

// WithStopSequences sets stop sequences to end generation.
func WithStopSequences(seqs ...string) Option {
	return func(c *callConfig) {
		c.stopSequences = seqs
	}
}

// WithSystemMessage sets a system message.
func WithSystemMessage(msg string) Option {
	return func(c *callConfig) {
		c.systemMessage = msg
	}
}

// WithTools adds tools the model can use. When the model requests tool
// calls, Call executes them and feeds the results back automatically.
func WithTools(tools ...Tool) Option {
	return func(c *callConfig) {
		c.tools = append(c.tools, tools...)
	}
}

// WithMessages sets the conversation history.
func WithMessages(msgs ...Message) Option {
	return func(c *callConfig) {
		c.messages = append(c.messages, msgs...)
	}
}

// WithResponseSchema requests structured output conforming to the given
// JSON schema.
func WithResponseSchema(name string, schema json.RawMessage) Option {
	return func(c *callConfig) {
		c.jsonSchema = &provider.JSONSchema{Name: name, Strict: true, Schema: schema}
	}
}

// WithBackoff sets the retry/backoff policy for transient failures.
func WithBackoff(cfg retry.BackoffConfig) Option {
	return func(c *callConfig) {
		c.backoff = cfg
	}
}

// WithGracefulCancellationTimeout bounds the cleanup batch run when a call
// is cancelled.
func WithGracefulCancellationTimeout(d time.Duration) Option {
	return func(c *callConfig) {
		c.gracefulTimeout = d
	}
}

// WithInterceptors sets the middleware chain wrapped around the call.
func WithInterceptors(chain *interceptor.Chain) Option {
	return func(c *callConfig) {
		c.chain = chain
	}
}

// WithMapper overrides the provider's delta mapper. Mostly useful for
// providers that speak a dialect the built-in mappers do not cover.
func WithMapper(m delta.Mapper) Option {
	return func(c *callConfig) {
		c.mapper = m
	}
}

// WithMaxObjectSize bounds how many bytes the stream parser buffers while
// waiting for one object to complete.
func WithMaxObjectSize(n int) Option {
	return func(c *callConfig) {
		c.maxObjectSize = n
	}
}

// WithMaxToolRounds bounds how many tool-execution rounds Call performs
// before giving up.
func WithMaxToolRounds(n int) Option {
	return func(c *callConfig) {
		if n > 0 {
			c.maxToolRounds = n
		}
	}
}

// WithLogger sets the logger threaded through the whole pipeline.
func WithLogger(l *zap.Logger) Option {
	return func(c *callConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// buildRequest creates a provider.Request from the config and prompt.
func (c *callConfig) buildRequest(prompt string) *provider.Request {
	req := &provider.Request{
		Model:         c.model,
		Temperature:   c.temperature,
		MaxTokens:     c.maxTokens,
		TopP:          c.topP,
		StopSequences: c.stopSequences,
		JSONSchema:    c.jsonSchema,
	}

	if c.systemMessage != "" {
		req.Messages = append(req.Messages, provider.Message{
			Role:    provider.RoleSystem,
			Content: c.systemMessage,
		})
	}

	req.Messages = append(req.Messages, c.messages...)

	if prompt != "" {
		req.Messages = append(req.Messages, provider.Message{
			Role:    provider.RoleUser,
			Content: prompt,
		})
	}

	for _, tool := range c.tools {
		params, _ := json.Marshal(tool.Parameters())
		req.Tools = append(req.Tools, provider.ToolDef{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  params,
		})
	}

	return req
}
