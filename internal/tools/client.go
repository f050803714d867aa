package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Connection is an initialized MCP client session with a runbox tool server.
type Connection struct {
	name   string
	client *client.Client
	tools  []mcp.Tool
}

// NewStdioConnection launches a tool server subprocess, for example
// `runbox mcp`, and initializes the connection.
func NewStdioConnection(ctx context.Context, binary string, env []string, args ...string) (*Connection, error) {
	c, err := client.NewStdioMCPClient(binary, env, args...)
	if err != nil {
		return nil, fmt.Errorf("starting MCP server %s: %w", binary, err)
	}
	return connect(ctx, binary, c)
}

// NewInProcessConnection connects to s without a transport.
func NewInProcessConnection(ctx context.Context, s *server.MCPServer) (*Connection, error) {
	c, err := client.NewInProcessClient(s)
	if err != nil {
		return nil, fmt.Errorf("creating in-process MCP client: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("starting in-process MCP client: %w", err)
	}
	return connect(ctx, "in-process", c)
}

func connect(ctx context.Context, name string, c *client.Client) (*Connection, error) {
	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "runbox",
		Version: "0.1.0",
	}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, fmt.Errorf("initializing MCP server %s: %w", name, err)
	}

	// Discover tools
	result, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("listing tools from %s: %w", name, err)
	}

	return &Connection{
		name:   name,
		client: c,
		tools:  result.Tools,
	}, nil
}

// CallTool invokes a tool and returns its text. isError reports a tool-level
// failure such as a security rejection.
func (mc *Connection) CallTool(ctx context.Context, name string, args map[string]any) (text string, isError bool, err error) {
	result, err := mc.client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	})
	if err != nil {
		return "", false, fmt.Errorf("calling tool %s on %s: %w", name, mc.name, err)
	}

	// Extract text content from the result
	var parts []string
	for _, c := range result.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
		}
	}

	return strings.Join(parts, "\n"), result.IsError, nil
}

// ToolNames returns the names of all tools on this server.
func (mc *Connection) ToolNames() []string {
	names := make([]string, len(mc.tools))
	for i, t := range mc.tools {
		names[i] = t.Name
	}
	return names
}

// Close shuts down the connection.
func (mc *Connection) Close() {
	mc.client.Close()
}
