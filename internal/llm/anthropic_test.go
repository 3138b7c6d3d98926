package llm

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
)

func TestToolCallAccumulatorPartialJSON(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.Start(1, "toolu_1", "shell", json.RawMessage(`{}`))
	acc.Append(1, `{"command":`)
	acc.Append(1, `"ls"}`)

	call, ok := acc.Finish(1)
	if !ok {
		t.Fatal("expected a finished call at index 1")
	}
	if call.ID != "toolu_1" || call.Name != "shell" {
		t.Errorf("unexpected call identity: %s %s", call.ID, call.Name)
	}
	if want := map[string]any{"command": "ls"}; !reflect.DeepEqual(call.Args, want) {
		t.Errorf("args = %v, want %v", call.Args, want)
	}

	if _, ok := acc.Finish(1); ok {
		t.Error("expected a call to finish only once")
	}
}

func TestToolCallAccumulatorFallbackInput(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.Start(0, "toolu_2", "glob", json.RawMessage(`{"pattern":"*.md"}`))

	call, ok := acc.Finish(0)
	if !ok {
		t.Fatal("expected a finished call at index 0")
	}
	if want := map[string]any{"pattern": "*.md"}; !reflect.DeepEqual(call.Args, want) {
		t.Errorf("args = %v, want %v", call.Args, want)
	}

	if _, ok := acc.Finish(7); ok {
		t.Error("expected unknown index to report nothing")
	}
}

func TestBuildAnthropicMessages(t *testing.T) {
	system, msgs := buildAnthropicMessages("base", []Content{
		{Role: RoleSystem, Parts: []Part{NewTextPart("extra")}},
		UserText("hi"),
		ModelContent(NewThoughtPart("hmm"), NewFunctionCallPart(FunctionCall{ID: "t1", Name: "read_file"})),
		UserContent(NewFunctionResponsePart(FunctionResponse{ID: "t1", Name: "read_file", Response: map[string]any{"error": "missing"}})),
	})

	if system != "base\n\nextra" {
		t.Errorf("system = %q", system)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Role != anthropic.MessageParamRoleUser || msgs[1].Role != anthropic.MessageParamRoleAssistant {
		t.Errorf("unexpected roles %s, %s", msgs[0].Role, msgs[1].Role)
	}
	if len(msgs[1].Content) != 1 || msgs[1].Content[0].OfToolUse == nil {
		t.Fatalf("expected thoughts dropped and one tool_use block, got %+v", msgs[1].Content)
	}
	if msgs[1].Content[0].OfToolUse.ID != "t1" {
		t.Errorf("tool_use id = %s", msgs[1].Content[0].OfToolUse.ID)
	}
	result := msgs[2].Content[0].OfToolResult
	if result == nil {
		t.Fatal("expected a tool_result block")
	}
	if !result.IsError.Value {
		t.Error("expected an error response to be flagged is_error")
	}
}

func TestBuildAnthropicTools(t *testing.T) {
	tools := buildAnthropicTools([]FunctionDeclaration{{
		Name:        "write_file",
		Description: "write a file",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
			"required":   []any{"path"},
		},
	}})

	if len(tools) != 1 || tools[0].OfTool == nil {
		t.Fatalf("expected one tool, got %+v", tools)
	}
	if tools[0].OfTool.Name != "write_file" {
		t.Errorf("name = %s", tools[0].OfTool.Name)
	}
	if want := []string{"path"}; !reflect.DeepEqual(tools[0].OfTool.InputSchema.Required, want) {
		t.Errorf("required = %v, want %v", tools[0].OfTool.InputSchema.Required, want)
	}
}

func TestMapAnthropicStopReason(t *testing.T) {
	tests := []struct {
		in   anthropic.StopReason
		want FinishReason
	}{
		{anthropic.StopReasonEndTurn, FinishStop},
		{anthropic.StopReasonToolUse, FinishFunctionCall},
		{anthropic.StopReasonMaxTokens, FinishLength},
		{anthropic.StopReasonRefusal, FinishContentFilter},
	}
	for _, tt := range tests {
		if got := mapAnthropicStopReason(tt.in); got != tt.want {
			t.Errorf("mapAnthropicStopReason(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
