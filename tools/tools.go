// Package tools provides ready-made llm.Tool implementations for common
// retrieval tasks: fetching web pages, searching, Wikipedia lookups and
// file globbing.
package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/aqueductlabs/aqueduct/llm"
)

const userAgent = "Aqueduct/1.0 (https://github.com/aqueductlabs/aqueduct)"

// AllTools returns every built-in tool.
func AllTools() []llm.Tool {
	return []llm.Tool{
		MustWebFetch(),
		MustWebSearch(),
		MustWikipedia(),
		MustGlob(),
	}
}

// WebTools returns the web retrieval tools only.
func WebTools() []llm.Tool {
	return []llm.Tool{
		MustWebFetch(),
		MustWebSearch(),
		MustWikipedia(),
	}
}

// get issues a GET request with the shared user agent and reads at most
// limit bytes of the body.
func get(ctx context.Context, client *http.Client, url string, limit int64) ([]byte, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, http.NoBody)
	if err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, resp, fmt.Errorf("reading response: %w", err)
	}
	return body, resp, nil
}

func webClient(timeoutSeconds int) *http.Client {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}
	return &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second}
}

var (
	titleRe   = regexp.MustCompile(`(?i)<title[^>]*>([^<]+)</title>`)
	scriptRe  = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleRe   = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	commentRe = regexp.MustCompile(`<!--.*?-->`)
	blockRe   = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|tr|br)[^>]*>`)
	tagRe     = regexp.MustCompile(`<[^>]+>`)
	spaceRe   = regexp.MustCompile(`[ \t]+`)
	newlineRe = regexp.MustCompile(`\n{3,}`)
)

func extractTitle(html string) string {
	if m := titleRe.FindStringSubmatch(html); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// htmlToText strips markup and collapses whitespace, keeping block
// boundaries as newlines.
func htmlToText(html string) string {
	html = scriptRe.ReplaceAllString(html, "")
	html = styleRe.ReplaceAllString(html, "")
	html = commentRe.ReplaceAllString(html, "")
	html = blockRe.ReplaceAllString(html, "\n")
	text := tagRe.ReplaceAllString(html, "")

	for entity, repl := range map[string]string{
		"&nbsp;": " ",
		"&amp;":  "&",
		"&lt;":   "<",
		"&gt;":   ">",
		"&quot;": `"`,
		"&#39;":  "'",
	} {
		text = strings.ReplaceAll(text, entity, repl)
	}

	text = spaceRe.ReplaceAllString(text, " ")
	text = newlineRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
