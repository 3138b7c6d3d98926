package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samsaffron/noma/internal/llm"
	"github.com/samsaffron/noma/internal/tools"
)

// toolNameSeparator joins server and tool names in declarations.
const toolNameSeparator = "__"

// caller invokes an unprefixed tool on one server.
type caller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// Tool exposes one server tool to the engine. Its declared name is prefixed
// with the server name, and every call asks for confirmation unless the
// server was approved for the session.
type Tool struct {
	server string
	spec   ToolSpec
	caller caller
}

var _ tools.Tool = (*Tool)(nil)

// NewTool wraps spec served by server.
func NewTool(server string, spec ToolSpec, c caller) *Tool {
	return &Tool{server: server, spec: spec, caller: c}
}

// QualifiedName returns the name the model sees.
func QualifiedName(server, tool string) string {
	return server + toolNameSeparator + tool
}

// parseToolName splits a qualified name at the first separator.
func parseToolName(fullName string) (serverName, toolName string) {
	server, tool, ok := strings.Cut(fullName, toolNameSeparator)
	if !ok {
		return "", fullName
	}
	return server, tool
}

func (t *Tool) Declaration() llm.FunctionDeclaration {
	schema := t.spec.Schema
	if schema == nil {
		schema = map[string]any{"type": "object"}
	}
	return llm.FunctionDeclaration{
		Name:        QualifiedName(t.server, t.spec.Name),
		Description: fmt.Sprintf("[%s] %s", t.server, t.spec.Description),
		Parameters:  schema,
	}
}

func (t *Tool) Kind() tools.Kind {
	return tools.KindMCP
}

func (t *Tool) ShouldConfirmExecute(ctx context.Context, args map[string]any) (*tools.ConfirmationDetails, error) {
	prompt := ""
	if len(args) > 0 {
		if data, err := json.MarshalIndent(args, "", "  "); err == nil {
			prompt = string(data)
		}
	}
	return &tools.ConfirmationDetails{
		Type:        tools.ConfirmMCP,
		Title:       fmt.Sprintf("Call %s on MCP server %s", t.spec.Name, t.server),
		Server:      t.server,
		Prompt:      prompt,
		ApprovalKey: t.server,
	}, nil
}

func (t *Tool) Execute(ctx context.Context, args map[string]any) (tools.Result, error) {
	out, err := t.caller.CallTool(ctx, t.spec.Name, args)
	if err != nil {
		return tools.Result{}, err
	}
	return tools.Result{LLMContent: out}, nil
}
