// Package mcp exposes tools from Model Context Protocol servers as
// llm.Tool implementations, so MCP tools participate in the tool loop
// like any locally defined tool.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/aqueductlabs/aqueduct/llm"
)

// Client wraps an MCP client session.
type Client struct {
	mcpClient *mcp.Client
	session   *mcp.ClientSession
	timeout   time.Duration
}

// Option configures the MCP client.
type Option func(*clientConfig)

type clientConfig struct {
	timeout time.Duration
}

// WithTimeout sets the per-invocation timeout for tool execution.
func WithTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = d
	}
}

// NewStdioClient creates an MCP client that communicates via stdio with a
// subprocess.
//
// Example:
//
//	client, err := mcp.NewStdioClient(ctx, "./my-mcp-server", nil)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	tools, err := client.Tools(ctx)
func NewStdioClient(ctx context.Context, command string, args []string, opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	mcpClient := mcp.NewClient(&mcp.Implementation{
		Name:    "aqueduct",
		Version: "0.1.0",
	}, nil)

	cmd := exec.Command(command, args...)
	transport := &mcp.CommandTransport{
		Command: cmd,
	}

	session, err := mcpClient.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to MCP server: %w", err)
	}

	return &Client{
		mcpClient: mcpClient,
		session:   session,
		timeout:   cfg.timeout,
	}, nil
}

// Tools returns all tools advertised by the MCP server as llm.Tools.
//
// Example:
//
//	tools, err := client.Tools(ctx)
//	if err != nil {
//	    return err
//	}
//
//	resp, err := llm.Call(ctx, "Use the tools to help",
//	    llm.WithProvider("openai"),
//	    llm.WithModel("gpt-4o-mini"),
//	    llm.WithTools(tools...),
//	)
func (c *Client) Tools(ctx context.Context) ([]llm.Tool, error) {
	result, err := c.session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return nil, fmt.Errorf("listing MCP tools: %w", err)
	}

	tools := make([]llm.Tool, 0, len(result.Tools))
	for i := range result.Tools {
		tools = append(tools, &remoteTool{
			client:  c,
			mcpTool: result.Tools[i],
		})
	}

	return tools, nil
}

// Close closes the MCP client connection.
func (c *Client) Close() error {
	return c.session.Close()
}

// remoteTool adapts one MCP tool to the llm.Tool interface.
type remoteTool struct {
	client  *Client
	mcpTool *mcp.Tool
}

func (t *remoteTool) Name() string {
	return t.mcpTool.Name
}

func (t *remoteTool) Description() string {
	return t.mcpTool.Description
}

func (t *remoteTool) Parameters() *jsonschema.Schema {
	schemaBytes, err := json.Marshal(t.mcpTool.InputSchema)
	if err != nil {
		return &jsonschema.Schema{Type: "object"}
	}

	var schema jsonschema.Schema
	if err := json.Unmarshal(schemaBytes, &schema); err != nil {
		return &jsonschema.Schema{Type: "object"}
	}

	return &schema
}

func (t *remoteTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, t.client.timeout)
	defer cancel()

	var arguments map[string]any
	if err := json.Unmarshal(args, &arguments); err != nil {
		return nil, fmt.Errorf("parsing arguments: %w", err)
	}

	result, err := t.client.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      t.mcpTool.Name,
		Arguments: arguments,
	})
	if err != nil {
		return nil, fmt.Errorf("calling MCP tool: %w", err)
	}

	combined := flattenContent(result.Content)

	if result.IsError {
		return nil, fmt.Errorf("MCP tool error: %s", combined)
	}

	return combined, nil
}

// flattenContent joins the text content of an MCP tool result with
// newlines. Non-text content (images, resources) is represented as
// descriptive text.
func flattenContent(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		switch item := c.(type) {
		case *mcp.TextContent:
			parts = append(parts, item.Text)
		case *mcp.ImageContent:
			parts = append(parts, fmt.Sprintf("[Image: %s, %d bytes]", item.MIMEType, len(item.Data)))
		case *mcp.EmbeddedResource:
			if item.Resource != nil {
				parts = append(parts, fmt.Sprintf("[Resource: %s]", item.Resource.URI))
			} else {
				parts = append(parts, "[Resource: embedded]")
			}
		}
	}
	return strings.Join(parts, "\n")
}

// ToolsFromMCP is a convenience function that connects to an MCP server and
// returns its tools plus a cleanup function.
//
// Example:
//
//	tools, cleanup, err := mcp.ToolsFromMCP(ctx, "./my-mcp-server", nil)
//	if err != nil {
//	    return err
//	}
//	defer cleanup()
//
//	resp, err := llm.Call(ctx, "Help me", llm.WithTools(tools...))
func ToolsFromMCP(ctx context.Context, command string, args []string, opts ...Option) ([]llm.Tool, func() error, error) {
	mcpClient, err := NewStdioClient(ctx, command, args, opts...)
	if err != nil {
		return nil, nil, err
	}

	tools, err := mcpClient.Tools(ctx)
	if err != nil {
		_ = mcpClient.Close()
		return nil, nil, err
	}

	return tools, mcpClient.Close, nil
}
