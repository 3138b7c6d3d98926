package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/samsaffron/noma/internal/llm"
)

const (
	defaultShellTimeout = 30 * time.Second
	maxShellTimeout     = 300 * time.Second
)

// ShellTool implements the shell tool.
type ShellTool struct {
	perms  *Permissions
	limits OutputLimits
}

// NewShellTool creates a new ShellTool.
func NewShellTool(perms *Permissions, limits OutputLimits) *ShellTool {
	return &ShellTool{perms: perms, limits: limits}
}

// ShellResult contains the result of a shell command.
type ShellResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

func (t *ShellTool) Declaration() llm.FunctionDeclaration {
	return llm.FunctionDeclaration{
		Name:        ShellToolName,
		Description: "Execute a shell command. Returns stdout, stderr, and exit code.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "Shell command to execute",
				},
				"working_dir": map[string]any{
					"type":        "string",
					"description": "Working directory (defaults to current directory)",
				},
				"timeout_seconds": map[string]any{
					"type":        "integer",
					"description": "Command timeout in seconds (default: 30, max: 300)",
				},
			},
			"required":             []any{"command"},
			"additionalProperties": false,
		},
	}
}

func (t *ShellTool) Kind() Kind { return KindExecute }

func (t *ShellTool) ValidateParams(args map[string]any) error {
	if _, err := requiredString(args, "command"); err != nil {
		return err
	}
	if dir, _ := stringArg(args, "working_dir"); dir != "" {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return NewToolErrorf(ErrInvalidParams, "working_dir %s is not a directory", dir)
		}
	}
	_, err := intArg(args, "timeout_seconds")
	return err
}

// ExclusivityKey runs shell commands one at a time.
func (t *ShellTool) ExclusivityKey(map[string]any) string {
	return ShellToolName
}

func (t *ShellTool) ShouldConfirmExecute(_ context.Context, args map[string]any) (*ConfirmationDetails, error) {
	command, err := requiredString(args, "command")
	if err != nil {
		return nil, err
	}
	if t.perms.AllowsCommand(command) {
		return nil, nil
	}
	root := RootCommand(command)
	return &ConfirmationDetails{
		Type:        ConfirmExec,
		Title:       "Run " + truncateCommand(command),
		Command:     command,
		ApprovalKey: root,
	}, nil
}

func (t *ShellTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	command, err := requiredString(args, "command")
	if err != nil {
		return Result{}, err
	}
	workDir, _ := stringArg(args, "working_dir")
	seconds, _ := intArg(args, "timeout_seconds")

	timeout := defaultShellTimeout
	if seconds > 0 {
		timeout = time.Duration(seconds) * time.Second
	}
	if timeout > maxShellTimeout {
		timeout = maxShellTimeout
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, detectShell(), "-c", command)
	cmd.Dir = workDir
	// Children holding the output pipes open must not outlive the deadline.
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()

	// A cancelled parent is the caller's decision, not a command result.
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	result := ShellResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.ExitCode = -1
	} else if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return Result{}, NewToolErrorf(ErrExecutionFailed, "command error: %v", err)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	return Result{
		LLMContent: formatShellResult(result, t.limits),
		Display:    fmt.Sprintf("$ %s (exit %d)", truncateCommand(command), result.ExitCode),
	}, nil
}

// formatShellResult formats the shell result for the LLM.
func formatShellResult(result ShellResult, limits OutputLimits) string {
	var sb strings.Builder

	stdout := result.Stdout
	stderr := result.Stderr
	truncated := false

	if limits.MaxBytes > 0 {
		if int64(len(stdout)) > limits.MaxBytes {
			stdout = stdout[:limits.MaxBytes]
			truncated = true
		}
		if int64(len(stderr)) > limits.MaxBytes {
			stderr = stderr[:limits.MaxBytes]
			truncated = true
		}
	}

	if result.TimedOut {
		sb.WriteString("[Command timed out]\n\n")
	}

	if stdout != "" {
		sb.WriteString("stdout:\n")
		sb.WriteString(stdout)
		if !strings.HasSuffix(stdout, "\n") {
			sb.WriteString("\n")
		}
	}

	if stderr != "" {
		if stdout != "" {
			sb.WriteString("\n")
		}
		sb.WriteString("stderr:\n")
		sb.WriteString(stderr)
		if !strings.HasSuffix(stderr, "\n") {
			sb.WriteString("\n")
		}
	}

	fmt.Fprintf(&sb, "\nexit_code: %d", result.ExitCode)

	if truncated {
		sb.WriteString("\n\n[Output truncated due to size limit]")
	}

	return sb.String()
}

// detectShell returns the user's shell.
func detectShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "bash"
}

// truncateCommand truncates a command for titles and messages.
func truncateCommand(cmd string) string {
	if len(cmd) > 50 {
		return cmd[:47] + "..."
	}
	return cmd
}
