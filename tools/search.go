package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/aqueductlabs/aqueduct/llm"
)

// WebSearchInput defines the input for the web_search tool.
type WebSearchInput struct {
	Query      string `json:"query" jsonschema:"required,description=Search query"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"description=Maximum number of results to return (default: 5)"`
}

// WebSearchOutput defines the output of the web_search tool.
type WebSearchOutput struct {
	Results     []SearchResult `json:"results"`
	Abstract    string         `json:"abstract,omitempty"`
	AbstractURL string         `json:"abstract_url,omitempty"`
}

// SearchResult represents a single search result.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebSearchTool returns the web_search tool, backed by the DuckDuckGo
// instant-answer API.
func WebSearchTool() (llm.Tool, error) {
	return llm.NewTool(
		"web_search",
		"Search the web using DuckDuckGo. Returns search results with titles, URLs, and snippets.",
		searchWeb,
	)
}

// MustWebSearch returns the web_search tool, panicking on error.
func MustWebSearch() llm.Tool {
	tool, err := WebSearchTool()
	if err != nil {
		panic(err)
	}
	return tool
}

type ddgResponse struct {
	Abstract      string     `json:"Abstract"`
	AbstractURL   string     `json:"AbstractURL"`
	RelatedTopics []ddgTopic `json:"RelatedTopics"`
	Results       []ddgTopic `json:"Results"`
}

// ddgTopic is either a direct result or a category holding nested topics.
type ddgTopic struct {
	Text     string     `json:"Text"`
	FirstURL string     `json:"FirstURL"`
	Result   string     `json:"Result"`
	Topics   []ddgTopic `json:"Topics"`
}

func searchWeb(ctx context.Context, input WebSearchInput) (WebSearchOutput, error) {
	maxResults := input.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}

	apiURL := fmt.Sprintf("https://api.duckduckgo.com/?q=%s&format=json&no_html=1&skip_disambig=1",
		url.QueryEscape(input.Query))

	body, _, err := get(ctx, webClient(0), apiURL, 1024*1024)
	if err != nil {
		return WebSearchOutput{}, err
	}

	var ddgResp ddgResponse
	if err := json.Unmarshal(body, &ddgResp); err != nil {
		return WebSearchOutput{}, fmt.Errorf("parsing search response: %w", err)
	}

	var results []SearchResult
	results = collectResults(results, ddgResp.Results, maxResults)
	results = collectResults(results, ddgResp.RelatedTopics, maxResults)

	return WebSearchOutput{
		Results:     results,
		Abstract:    ddgResp.Abstract,
		AbstractURL: ddgResp.AbstractURL,
	}, nil
}

// collectResults flattens topics depth-first until the limit is reached.
func collectResults(results []SearchResult, topics []ddgTopic, limit int) []SearchResult {
	for _, topic := range topics {
		if len(results) >= limit {
			break
		}
		if len(topic.Topics) > 0 {
			results = collectResults(results, topic.Topics, limit)
			continue
		}
		if topic.FirstURL == "" {
			continue
		}
		results = append(results, SearchResult{
			Title:   linkText(topic.Result),
			URL:     topic.FirstURL,
			Snippet: topic.Text,
		})
	}
	return results
}

// linkText extracts the anchor text from a DuckDuckGo result fragment,
// which looks like <a href="...">Title</a>...
func linkText(result string) string {
	if result == "" {
		return ""
	}

	start := 0
	for i := 0; i < len(result); i++ {
		if result[i] == '>' {
			start = i + 1
			break
		}
	}

	end := len(result)
	for i := start; i+4 <= len(result); i++ {
		if result[i:i+4] == "</a>" {
			end = i
			break
		}
	}

	if start > 0 && end > start {
		return result[start:end]
	}
	return result
}
