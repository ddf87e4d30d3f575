package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/aqueductlabs/aqueduct/provider"
)

const defaultBaseURL = "http://localhost:11434"

// client wraps the HTTP client for the Ollama API.
type client struct {
	baseURL    string
	httpClient *http.Client
}

// newClient creates a new Ollama client.
func newClient(baseURL string, httpClient *http.Client) *client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &client{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// chat sends a non-streaming /api/chat request.
func (c *client) chat(ctx context.Context, req *chatRequest) (*chatResponse, error) {
	req.Stream = false
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

	var resp chatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if resp.Error != "" {
		return nil, &provider.APIError{
			Provider:   "ollama",
			StatusCode: httpResp.StatusCode,
			Message:    resp.Error,
		}
	}

	return &resp, nil
}

// chatStream sends a streaming /api/chat request. The server responds with
// newline-delimited JSON objects.
func (c *client) chatStream(ctx context.Context, req *chatRequest) (provider.RawStream, error) {
	req.Stream = true
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

func (c *client) post(ctx context.Context, req *chatRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	return httpResp, nil
}

func parseError(resp *http.Response, body []byte) error {
	apiErr := &provider.APIError{
		Provider:   "ollama",
		StatusCode: resp.StatusCode,
		Message:    string(body),
		RetryAfter: resp.Header.Get("Retry-After"),
	}

	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		apiErr.Message = errResp.Error
	}
	return apiErr
}
