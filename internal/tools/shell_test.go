package tools

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func requireSh(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	t.Setenv("SHELL", "sh")
}

func TestShellExecute(t *testing.T) {
	requireSh(t)
	tool := NewShellTool(nil, DefaultOutputLimits())

	res, err := tool.Execute(context.Background(), map[string]any{"command": "echo hello; echo oops >&2; exit 3"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if want := "stdout:\nhello\n\nstderr:\noops\n\nexit_code: 3"; res.LLMContent != want {
		t.Errorf("got %q, want %q", res.LLMContent, want)
	}
	if !strings.Contains(res.Display, "exit 3") {
		t.Errorf("expected exit code in display, got %q", res.Display)
	}
}

func TestShellWorkingDir(t *testing.T) {
	requireSh(t)
	dir := t.TempDir()
	tool := NewShellTool(nil, DefaultOutputLimits())

	res, err := tool.Execute(context.Background(), map[string]any{"command": "pwd", "working_dir": dir})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.LLMContent, dir) {
		t.Errorf("expected pwd to print %s, got %q", dir, res.LLMContent)
	}

	err = tool.ValidateParams(map[string]any{"command": "pwd", "working_dir": dir + "/missing"})
	if got := ErrorTypeOf(err, ""); got != ErrInvalidParams {
		t.Errorf("missing working dir: expected %s, got %s", ErrInvalidParams, got)
	}
}

func TestShellTimeout(t *testing.T) {
	requireSh(t)
	tool := NewShellTool(nil, DefaultOutputLimits())

	start := time.Now()
	res, err := tool.Execute(context.Background(), map[string]any{"command": "sleep 5", "timeout_seconds": float64(1)})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if elapsed := time.Since(start); elapsed >= 4*time.Second {
		t.Errorf("expected the command to be killed after 1s, took %s", elapsed)
	}
	if !strings.HasPrefix(res.LLMContent, "[Command timed out]") {
		t.Errorf("expected timeout marker, got %q", res.LLMContent)
	}
}

func TestShellParentCancel(t *testing.T) {
	requireSh(t)
	tool := NewShellTool(nil, DefaultOutputLimits())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := tool.Execute(ctx, map[string]any{"command": "sleep 5"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestShellConfirmation(t *testing.T) {
	cfg := ToolConfig{AllowedCommands: []string{"git status*"}}
	perms, err := cfg.BuildPermissions()
	if err != nil {
		t.Fatalf("BuildPermissions: %v", err)
	}
	tool := NewShellTool(perms, DefaultOutputLimits())

	details, err := tool.ShouldConfirmExecute(context.Background(), map[string]any{"command": "git status -s"})
	if err != nil || details != nil {
		t.Errorf("expected allowed command to skip confirmation, got %+v, %v", details, err)
	}

	details, err = tool.ShouldConfirmExecute(context.Background(), map[string]any{"command": "CI=1 go test ./..."})
	if err != nil {
		t.Fatalf("ShouldConfirmExecute: %v", err)
	}
	if details == nil {
		t.Fatal("expected confirmation for a command outside the allow list")
	}
	if details.Type != ConfirmExec {
		t.Errorf("expected type %s, got %s", ConfirmExec, details.Type)
	}
	if details.ApprovalKey != "go" {
		t.Errorf("expected approval key go, got %q", details.ApprovalKey)
	}
	if details.Command != "CI=1 go test ./..." {
		t.Errorf("expected full command, got %q", details.Command)
	}

	if got := tool.ExclusivityKey(nil); got != ShellToolName {
		t.Errorf("expected shell calls to share key %s, got %q", ShellToolName, got)
	}
}

func TestFormatShellResultTruncates(t *testing.T) {
	got := formatShellResult(ShellResult{Stdout: strings.Repeat("x", 20)}, OutputLimits{MaxBytes: 5})
	if want := "stdout:\nxxxxx\n\nexit_code: 0\n\n[Output truncated due to size limit]"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestTruncateCommand(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"short", "short"},
		{strings.Repeat("a", 60), strings.Repeat("a", 47) + "..."},
	}
	for _, tt := range tests {
		if got := truncateCommand(tt.in); got != tt.want {
			t.Errorf("truncateCommand(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
