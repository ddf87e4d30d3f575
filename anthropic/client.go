package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/aqueductlabs/aqueduct/provider"
)

const (
	defaultBaseURL        = "https://api.anthropic.com"
	apiVersion            = "2023-06-01"
	defaultMaxTokens      = 4096
	structuredOutputsBeta = "structured-outputs-2025-11-13"
)

// client wraps the HTTP client for Anthropic API calls.
type client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// newClient creates a new Anthropic client.
func newClient(apiKey, baseURL string, httpClient *http.Client) *client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// messages sends a messages request.
func (c *client) messages(ctx context.Context, req *messagesRequest) (*messagesResponse, error) {
	if req.MaxTokens == 0 {
		req.MaxTokens = defaultMaxTokens
	}

	httpResp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, parseError(httpResp, respBody)
	}

	var resp messagesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	return &resp, nil
}

// messagesStream sends a streaming messages request and hands back the raw
// SSE byte stream.
func (c *client) messagesStream(ctx context.Context, req *messagesRequest) (provider.RawStream, error) {
	req.Stream = true
	if req.MaxTokens == 0 {
		req.MaxTokens = defaultMaxTokens
	}

	httpResp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}

	if httpResp.StatusCode != http.StatusOK {
		defer func() { _ = httpResp.Body.Close() }()
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, parseError(httpResp, respBody)
	}

	return provider.NewBodyStream(httpResp.Body), nil
}

func (c *client) post(ctx context.Context, req *messagesRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST",
		c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	c.setHeaders(httpReq, req.OutputFormat != nil)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	return httpResp, nil
}

func (c *client) setHeaders(req *http.Request, useStructuredOutput bool) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
	if useStructuredOutput {
		req.Header.Set("anthropic-beta", structuredOutputsBeta)
	}
}

func parseError(resp *http.Response, body []byte) error {
	apiErr := &provider.APIError{
		Provider:   "anthropic",
		StatusCode: resp.StatusCode,
		Message:    string(body),
		RetryAfter: resp.Header.Get("Retry-After"),
	}

	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		apiErr.Type = errResp.Error.Type
		apiErr.Message = errResp.Error.Message
	}
	return apiErr
}
