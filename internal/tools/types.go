// Package tools provides the tool boundary of the engine and the built-in
// local tools.
package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/samsaffron/noma/internal/llm"
)

// Kind categorizes tools for approval policy.
type Kind string

const (
	KindRead    Kind = "read"
	KindEdit    Kind = "edit"
	KindSearch  Kind = "search"
	KindExecute Kind = "execute"
	KindMCP     Kind = "mcp"
	KindOther   Kind = "other"
)

// Tool is a capability the model can invoke.
type Tool interface {
	Declaration() llm.FunctionDeclaration
	Kind() Kind
	// ShouldConfirmExecute returns nil when the call may proceed without asking.
	ShouldConfirmExecute(ctx context.Context, args map[string]any) (*ConfirmationDetails, error)
	Execute(ctx context.Context, args map[string]any) (Result, error)
}

// ParamValidator is implemented by tools with checks beyond their JSON schema.
type ParamValidator interface {
	ValidateParams(args map[string]any) error
}

// ExclusiveTool is implemented by tools whose calls must not overlap.
// Calls with the same non-empty key run sequentially in request order.
type ExclusiveTool interface {
	ExclusivityKey(args map[string]any) string
}

// Result is the outcome of a successful execution.
type Result struct {
	// LLMContent is sent back to the model.
	LLMContent string
	// Display is shown to the user; LLMContent is used when empty.
	Display string
}

// ConfirmationType selects how a confirmation is presented.
type ConfirmationType string

const (
	ConfirmEdit ConfirmationType = "edit"
	ConfirmExec ConfirmationType = "exec"
	ConfirmMCP  ConfirmationType = "mcp"
	ConfirmInfo ConfirmationType = "info"
)

// ConfirmationDetails describes a pending call to the user.
type ConfirmationDetails struct {
	Type     ConfirmationType `json:"type"`
	Title    string           `json:"title"`
	FilePath string           `json:"file_path,omitempty"`
	Diff     string           `json:"diff,omitempty"`
	Command  string           `json:"command,omitempty"`
	Server   string           `json:"server,omitempty"`
	Prompt   string           `json:"prompt,omitempty"`
	// ApprovalKey scopes an approve-always decision, e.g. the root command
	// of a shell call or the server of an MCP tool.
	ApprovalKey string `json:"approval_key,omitempty"`
}

// ConfirmOutcome is the user's answer to a confirmation.
type ConfirmOutcome string

const (
	ProceedOnce   ConfirmOutcome = "proceed_once"
	ProceedAlways ConfirmOutcome = "proceed_always"
	Cancel        ConfirmOutcome = "cancel"
)

// ApprovalMode relaxes confirmation globally.
type ApprovalMode string

const (
	ApprovalDefault  ApprovalMode = "default"
	ApprovalAutoEdit ApprovalMode = "auto_edit"
	ApprovalYolo     ApprovalMode = "yolo"
)

// ErrorType tags a tool failure.
type ErrorType string

const (
	ErrInvalidParams    ErrorType = "invalid_params"
	ErrUnknownTool      ErrorType = "unknown_tool"
	ErrExecutionFailed  ErrorType = "execution_failed"
	ErrTimeout          ErrorType = "timeout"
	ErrFileNotFound     ErrorType = "file_not_found"
	ErrPermissionDenied ErrorType = "permission_denied"
)

// ToolError is a failure with a type the scheduler reports to the model.
type ToolError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}

func (e *ToolError) Error() string {
	return e.Message
}

// NewToolError creates a new ToolError.
func NewToolError(errType ErrorType, message string) *ToolError {
	return &ToolError{Type: errType, Message: message}
}

// NewToolErrorf creates a new ToolError with formatted message.
func NewToolErrorf(errType ErrorType, format string, args ...any) *ToolError {
	return &ToolError{Type: errType, Message: fmt.Sprintf(format, args...)}
}

// ErrorTypeOf returns the type of err when it is a ToolError, or fallback.
func ErrorTypeOf(err error, fallback ErrorType) ErrorType {
	var toolErr *ToolError
	if errors.As(err, &toolErr) && toolErr.Type != "" {
		return toolErr.Type
	}
	return fallback
}

// Built-in tool names.
const (
	ReadFileToolName  = "read_file"
	WriteFileToolName = "write_file"
	GlobToolName      = "glob"
	ShellToolName     = "shell"
)

// AllToolNames returns all built-in tool names.
func AllToolNames() []string {
	return []string{ReadFileToolName, WriteFileToolName, GlobToolName, ShellToolName}
}

// ValidToolName reports whether name is a built-in tool.
func ValidToolName(name string) bool {
	for _, n := range AllToolNames() {
		if n == name {
			return true
		}
	}
	return false
}
