package testutil

import (
	"context"
	"sync"

	"github.com/samsaffron/noma/internal/llm"
	"github.com/samsaffron/noma/internal/tools"
)

// MockTool is a configurable tools.Tool for testing. Unset hooks mean:
// no confirmation, no extra validation, no exclusivity and an empty result.
type MockTool struct {
	Decl       llm.FunctionDeclaration
	ToolKind   tools.Kind
	ConfirmFn  func(ctx context.Context, args map[string]any) (*tools.ConfirmationDetails, error)
	ExecuteFn  func(ctx context.Context, args map[string]any) (tools.Result, error)
	ValidateFn func(args map[string]any) error
	KeyFn      func(args map[string]any) string

	mu          sync.Mutex
	invocations []MockToolInvocation
}

// MockToolInvocation records a single tool invocation.
type MockToolInvocation struct {
	Args   map[string]any
	Result tools.Result
	Error  error
}

// NewMockTool creates a mock tool with the given name that returns a fixed result.
func NewMockTool(name, result string) *MockTool {
	return &MockTool{
		Decl: llm.FunctionDeclaration{
			Name:        name,
			Description: "Mock tool: " + name,
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		ToolKind: tools.KindOther,
		ExecuteFn: func(ctx context.Context, args map[string]any) (tools.Result, error) {
			return tools.Result{LLMContent: result}, nil
		},
	}
}

// NewMockToolWithSchema creates a mock tool with a custom parameter schema.
func NewMockToolWithSchema(name, description string, schema map[string]any, executeFn func(ctx context.Context, args map[string]any) (tools.Result, error)) *MockTool {
	return &MockTool{
		Decl: llm.FunctionDeclaration{
			Name:        name,
			Description: description,
			Parameters:  schema,
		},
		ToolKind:  tools.KindOther,
		ExecuteFn: executeFn,
	}
}

func (m *MockTool) Declaration() llm.FunctionDeclaration { return m.Decl }

func (m *MockTool) Kind() tools.Kind { return m.ToolKind }

func (m *MockTool) ShouldConfirmExecute(ctx context.Context, args map[string]any) (*tools.ConfirmationDetails, error) {
	if m.ConfirmFn == nil {
		return nil, nil
	}
	return m.ConfirmFn(ctx, args)
}

func (m *MockTool) ValidateParams(args map[string]any) error {
	if m.ValidateFn == nil {
		return nil
	}
	return m.ValidateFn(args)
}

func (m *MockTool) ExclusivityKey(args map[string]any) string {
	if m.KeyFn == nil {
		return ""
	}
	return m.KeyFn(args)
}

func (m *MockTool) Execute(ctx context.Context, args map[string]any) (tools.Result, error) {
	var result tools.Result
	var err error
	if m.ExecuteFn != nil {
		result, err = m.ExecuteFn(ctx, args)
	}
	m.mu.Lock()
	m.invocations = append(m.invocations, MockToolInvocation{Args: args, Result: result, Error: err})
	m.mu.Unlock()
	return result, err
}

// Invocations returns a copy of the recorded invocations.
func (m *MockTool) Invocations() []MockToolInvocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockToolInvocation(nil), m.invocations...)
}

// InvocationCount returns the number of times the tool was invoked.
func (m *MockTool) InvocationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.invocations)
}

// LastArgs returns the arguments from the last invocation, or nil if never invoked.
func (m *MockTool) LastArgs() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.invocations) == 0 {
		return nil
	}
	return m.invocations[len(m.invocations)-1].Args
}
