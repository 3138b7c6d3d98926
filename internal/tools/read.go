package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"

	"github.com/samsaffron/noma/internal/llm"
)

// ReadFileTool implements the read_file tool.
type ReadFileTool struct {
	limits OutputLimits
}

// NewReadFileTool creates a new ReadFileTool.
func NewReadFileTool(limits OutputLimits) *ReadFileTool {
	return &ReadFileTool{limits: limits}
}

func (t *ReadFileTool) Declaration() llm.FunctionDeclaration {
	return llm.FunctionDeclaration{
		Name:        ReadFileToolName,
		Description: "Read file contents. Returns line-numbered output. Use start_line/end_line for pagination.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_path": map[string]any{
					"type":        "string",
					"description": "Absolute or relative path to the file to read",
				},
				"start_line": map[string]any{
					"type":        "integer",
					"minimum":     1,
					"description": "1-indexed start line (default: 1)",
				},
				"end_line": map[string]any{
					"type":        "integer",
					"minimum":     1,
					"description": "1-indexed end line (default: EOF)",
				},
			},
			"required":             []any{"file_path"},
			"additionalProperties": false,
		},
	}
}

func (t *ReadFileTool) Kind() Kind { return KindRead }

func (t *ReadFileTool) ShouldConfirmExecute(context.Context, map[string]any) (*ConfirmationDetails, error) {
	return nil, nil
}

func (t *ReadFileTool) ValidateParams(args map[string]any) error {
	start, err := intArg(args, "start_line")
	if err != nil {
		return err
	}
	end, err := intArg(args, "end_line")
	if err != nil {
		return err
	}
	if start > 0 && end > 0 && end < start {
		return NewToolErrorf(ErrInvalidParams, "end_line %d is before start_line %d", end, start)
	}
	_, err = requiredString(args, "file_path")
	return err
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	path, err := requiredString(args, "file_path")
	if err != nil {
		return Result{}, err
	}
	startLine, _ := intArg(args, "start_line")
	endLine, _ := intArg(args, "end_line")

	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fileError(path, err)
	}

	if isBinaryContent(data) {
		return Result{}, NewToolErrorf(ErrExecutionFailed, "%s appears to be a binary file", path)
	}

	lines := strings.Split(string(data), "\n")
	totalLines := len(lines)

	start := 0
	if startLine > 0 {
		start = startLine - 1
	}
	if start >= totalLines {
		return Result{}, NewToolErrorf(ErrInvalidParams, "start_line %d exceeds file length %d", startLine, totalLines)
	}

	end := totalLines
	if endLine > 0 && endLine < totalLines {
		end = endLine
	}

	if start >= end {
		return Result{LLMContent: "No content in requested range."}, nil
	}

	selected := lines[start:end]

	truncated := false
	if t.limits.MaxLines > 0 && len(selected) > t.limits.MaxLines {
		selected = selected[:t.limits.MaxLines]
		truncated = true
	}

	var sb strings.Builder
	for i, line := range selected {
		fmt.Fprintf(&sb, "%d: %s\n", start+i+1, line)
	}
	output := strings.TrimSuffix(sb.String(), "\n")

	if t.limits.MaxBytes > 0 && int64(len(output)) > t.limits.MaxBytes {
		output = output[:t.limits.MaxBytes]
		truncated = true
	}

	if truncated {
		output += fmt.Sprintf("\n\n[Output truncated. Total lines: %d. Use start_line/end_line for pagination.]", totalLines)
	}

	return Result{
		LLMContent: output,
		Display:    fmt.Sprintf("Read %d lines from %s", len(selected), path),
	}, nil
}

// fileError maps filesystem errors onto tool error types.
func fileError(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return NewToolErrorf(ErrFileNotFound, "file not found: %s", path)
	case errors.Is(err, fs.ErrPermission):
		return NewToolErrorf(ErrPermissionDenied, "permission denied: %s", path)
	}
	return NewToolErrorf(ErrExecutionFailed, "read error: %v", err)
}

// isBinaryContent detects if content is binary using http.DetectContentType.
func isBinaryContent(data []byte) bool {
	if len(data) == 0 {
		return false
	}

	sample := data
	if len(sample) > 512 {
		sample = sample[:512]
	}

	contentType := http.DetectContentType(sample)
	if strings.HasPrefix(contentType, "text/") {
		return false
	}
	if strings.Contains(contentType, "json") || strings.Contains(contentType, "xml") {
		return false
	}

	for _, b := range sample {
		if b == 0 {
			return true
		}
	}
	return false
}
