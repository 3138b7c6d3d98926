// Package mcp exposes the tools of Model Context Protocol servers to the
// engine.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/samsaffron/noma/internal/config"
	"github.com/samsaffron/noma/internal/tools"
)

// clientVersion is reported to servers during initialization.
const clientVersion = "1.0.0"

// ToolSpec describes a tool available from an MCP server.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Client wraps one stdio server connection.
type Client struct {
	name    string
	config  config.MCPServerConfig
	client  *mcp.Client
	session *mcp.ClientSession
	tools   []ToolSpec
	mu      sync.RWMutex
	running bool

	// transport overrides the stdio command, for tests.
	transport func(ctx context.Context) mcp.Transport
}

// NewClient creates a client for the named server.
func NewClient(name string, cfg config.MCPServerConfig) *Client {
	return &Client{
		name:   name,
		config: cfg,
	}
}

// Name returns the server name.
func (c *Client) Name() string {
	return c.name
}

// Start launches the server, initializes the session and lists its tools.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	c.client = mcp.NewClient(&mcp.Implementation{
		Name:    "noma",
		Version: clientVersion,
	}, nil)

	newTransport := c.transport
	if newTransport == nil {
		newTransport = c.createStdioTransport
	}
	session, err := c.client.Connect(ctx, newTransport(ctx), nil)
	if err != nil {
		return fmt.Errorf("connect to MCP server %s: %w", c.name, err)
	}
	c.session = session

	if err := c.refreshTools(ctx); err != nil {
		_ = c.session.Close()
		c.session = nil
		return fmt.Errorf("list tools from %s: %w", c.name, err)
	}

	c.running = true
	return nil
}

// createStdioTransport builds the command for the server. Without configured
// variables the child inherits the environment as is; otherwise the
// configured ones are appended to it so they win.
func (c *Client) createStdioTransport(ctx context.Context) mcp.Transport {
	// #nosec G204 -- command comes from the user's config
	cmd := exec.CommandContext(ctx, c.config.Command, c.config.Args...)
	if len(c.config.Env) > 0 {
		env := os.Environ()
		for k, v := range c.config.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}
	return &mcp.CommandTransport{Command: cmd}
}

// Stop closes the connection, which also ends the server process.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	var err error
	if c.session != nil {
		err = c.session.Close()
		c.session = nil
	}
	c.running = false
	c.tools = nil
	return err
}

// IsRunning reports whether the client is connected.
func (c *Client) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// Tools returns the tools the server listed at start.
func (c *Client) Tools() []ToolSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

func (c *Client) refreshTools(ctx context.Context) error {
	result, err := c.session.ListTools(ctx, nil)
	if err != nil {
		return err
	}

	c.tools = make([]ToolSpec, 0, len(result.Tools))
	for _, t := range result.Tools {
		c.tools = append(c.tools, ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			Schema:      schemaMap(t.InputSchema),
		})
	}
	return nil
}

// schemaMap normalizes a listed input schema to a plain map.
func schemaMap(schema any) map[string]any {
	switch s := schema.(type) {
	case nil:
		return map[string]any{"type": "object"}
	case map[string]any:
		return s
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// CallTool invokes a tool by its unprefixed name. A result flagged as an
// error by the server comes back as an execution_failed tool error.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	c.mu.RLock()
	session := c.session
	running := c.running
	c.mu.RUnlock()

	if !running || session == nil {
		return "", fmt.Errorf("MCP server %s is not running", c.name)
	}

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("call tool %s: %w", name, err)
	}

	text := formatContent(result.Content)
	if result.IsError {
		return "", tools.NewToolErrorf(tools.ErrExecutionFailed, "tool %s returned error: %s", name, text)
	}
	return text, nil
}

// formatContent flattens result content. Text is kept verbatim; anything
// else is JSON encoded.
func formatContent(content []mcp.Content) string {
	var b strings.Builder
	for _, c := range content {
		switch v := c.(type) {
		case *mcp.TextContent:
			b.WriteString(v.Text)
		default:
			if data, err := json.Marshal(c); err == nil {
				b.Write(data)
			}
		}
	}
	return b.String()
}
