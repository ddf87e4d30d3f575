package tools

import (
	"context"

	"github.com/aqueductlabs/aqueduct/llm"
)

// WebFetchInput defines the input for the web_fetch tool.
type WebFetchInput struct {
	URL     string `json:"url" jsonschema:"required,description=URL to fetch"`
	Extract string `json:"extract,omitempty" jsonschema:"description=Extract mode: html (raw) or text (stripped; default)"`
	Timeout int    `json:"timeout,omitempty" jsonschema:"description=Timeout in seconds (default: 30)"`
}

// WebFetchOutput defines the output of the web_fetch tool.
type WebFetchOutput struct {
	Content    string `json:"content"`
	StatusCode int    `json:"status_code"`
	Title      string `json:"title,omitempty"`
	URL        string `json:"url"`
}

// WebFetchTool returns the web_fetch tool.
func WebFetchTool() (llm.Tool, error) {
	return llm.NewTool(
		"web_fetch",
		"Fetch content from a URL. Returns the page content with optional extraction mode.",
		fetchURL,
	)
}

// MustWebFetch returns the web_fetch tool, panicking on error.
func MustWebFetch() llm.Tool {
	tool, err := WebFetchTool()
	if err != nil {
		panic(err)
	}
	return tool
}

func fetchURL(ctx context.Context, input WebFetchInput) (WebFetchOutput, error) {
	// Responses are capped at 1MB.
	body, resp, err := get(ctx, webClient(input.Timeout), input.URL, 1024*1024)
	if err != nil {
		return WebFetchOutput{}, err
	}

	content := string(body)
	title := extractTitle(content)

	if input.Extract != "html" {
		content = htmlToText(content)
	}

	return WebFetchOutput{
		Content:    content,
		StatusCode: resp.StatusCode,
		Title:      title,
		URL:        resp.Request.URL.String(),
	}, nil
}
