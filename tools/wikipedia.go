package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/aqueductlabs/aqueduct/llm"
)

// WikipediaInput defines the input for the wikipedia tool.
type WikipediaInput struct {
	Query    string `json:"query" jsonschema:"required,description=Search query or article title"`
	Language string `json:"language,omitempty" jsonschema:"description=Language code (default: en)"`
}

// WikipediaOutput defines the output of the wikipedia tool.
type WikipediaOutput struct {
	Title       string `json:"title"`
	Summary     string `json:"summary"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// WikipediaTool returns the wikipedia tool.
func WikipediaTool() (llm.Tool, error) {
	return llm.NewTool(
		"wikipedia",
		"Search Wikipedia and return the best-matching article's summary.",
		searchWikipedia,
	)
}

// MustWikipedia returns the wikipedia tool, panicking on error.
func MustWikipedia() llm.Tool {
	tool, err := WikipediaTool()
	if err != nil {
		panic(err)
	}
	return tool
}

type wikiSearchResponse struct {
	Pages []struct {
		Key         string `json:"key"`
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"pages"`
}

type wikiSummaryResponse struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Extract     string `json:"extract"`
	ContentURLs struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
}

func searchWikipedia(ctx context.Context, input WikipediaInput) (WikipediaOutput, error) {
	lang := input.Language
	if lang == "" {
		lang = "en"
	}
	client := webClient(0)

	searchURL := fmt.Sprintf("https://%s.wikipedia.org/w/rest.php/v1/search/page?q=%s&limit=1",
		lang, url.QueryEscape(input.Query))
	body, _, err := get(ctx, client, searchURL, 512*1024)
	if err != nil {
		return WikipediaOutput{}, err
	}

	var searchResp wikiSearchResponse
	if err := json.Unmarshal(body, &searchResp); err != nil {
		return WikipediaOutput{}, fmt.Errorf("parsing search response: %w", err)
	}
	if len(searchResp.Pages) == 0 {
		return WikipediaOutput{}, fmt.Errorf("no Wikipedia article found for: %s", input.Query)
	}

	summaryURL := fmt.Sprintf("https://%s.wikipedia.org/api/rest_v1/page/summary/%s",
		lang, url.PathEscape(searchResp.Pages[0].Key))
	body, _, err = get(ctx, client, summaryURL, 512*1024)
	if err != nil {
		return WikipediaOutput{}, err
	}

	var summaryResp wikiSummaryResponse
	if err := json.Unmarshal(body, &summaryResp); err != nil {
		return WikipediaOutput{}, fmt.Errorf("parsing summary response: %w", err)
	}

	return WikipediaOutput{
		Title:       summaryResp.Title,
		Summary:     summaryResp.Extract,
		URL:         summaryResp.ContentURLs.Desktop.Page,
		Description: summaryResp.Description,
	}, nil
}
