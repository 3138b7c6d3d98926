package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	diff "github.com/shogoki/gotextdiff"

	"github.com/samsaffron/noma/internal/llm"
)

// maxDiffSize skips diff previews of very large files.
const maxDiffSize = 256 * 1024

// WriteFileTool implements the write_file tool.
type WriteFileTool struct {
	perms *Permissions
}

// NewWriteFileTool creates a new WriteFileTool.
func NewWriteFileTool(perms *Permissions) *WriteFileTool {
	return &WriteFileTool{perms: perms}
}

func (t *WriteFileTool) Declaration() llm.FunctionDeclaration {
	return llm.FunctionDeclaration{
		Name:        WriteFileToolName,
		Description: "Create or overwrite a file with the specified content. Creates parent directories if needed.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_path": map[string]any{
					"type":        "string",
					"description": "Path to the file to write",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "Full file content to write",
				},
			},
			"required":             []any{"file_path", "content"},
			"additionalProperties": false,
		},
	}
}

func (t *WriteFileTool) Kind() Kind { return KindEdit }

func (t *WriteFileTool) ValidateParams(args map[string]any) error {
	path, err := requiredString(args, "file_path")
	if err != nil {
		return err
	}
	if _, err := stringArg(args, "content"); err != nil {
		return err
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return NewToolErrorf(ErrInvalidParams, "%s is a directory", path)
	}
	return nil
}

// ExclusivityKey serializes writes to the same file.
func (t *WriteFileTool) ExclusivityKey(args map[string]any) string {
	path, _ := stringArg(args, "file_path")
	if path == "" {
		return ""
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

func (t *WriteFileTool) ShouldConfirmExecute(_ context.Context, args map[string]any) (*ConfirmationDetails, error) {
	path, err := requiredString(args, "file_path")
	if err != nil {
		return nil, err
	}
	content, _ := stringArg(args, "content")
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, NewToolErrorf(ErrInvalidParams, "cannot resolve path: %v", err)
	}
	if t.perms.AllowsPath(absPath) {
		return nil, nil
	}

	existing, err := os.ReadFile(absPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fileError(absPath, err)
	}
	if err == nil && string(existing) == content {
		return nil, nil
	}

	title := "Write " + absPath
	if errors.Is(err, fs.ErrNotExist) {
		title = "Create " + absPath
	}
	return &ConfirmationDetails{
		Type:        ConfirmEdit,
		Title:       title,
		FilePath:    absPath,
		Diff:        unifiedDiff(absPath, string(existing), content),
		ApprovalKey: absPath,
	}, nil
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	path, err := requiredString(args, "file_path")
	if err != nil {
		return Result{}, err
	}
	content, _ := stringArg(args, "content")

	absPath, err := filepath.Abs(path)
	if err != nil {
		return Result{}, NewToolErrorf(ErrInvalidParams, "cannot resolve path: %v", err)
	}

	existingContent := ""
	isNew := true
	var existingMode os.FileMode
	if info, err := os.Stat(absPath); err == nil {
		existingMode = info.Mode()
		if data, err := os.ReadFile(absPath); err == nil {
			existingContent = string(data)
			isNew = false
		}
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Result{}, NewToolErrorf(ErrExecutionFailed, "failed to create directory: %v", err)
	}

	mode := existingMode
	if isNew {
		mode = 0644
	}
	if err := writeAtomic(absPath, []byte(content), mode); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return Result{}, NewToolErrorf(ErrPermissionDenied, "permission denied: %s", absPath)
		}
		return Result{}, NewToolErrorf(ErrExecutionFailed, "%v", err)
	}

	if isNew {
		return Result{
			LLMContent: fmt.Sprintf("Created new file: %s (%d lines).", absPath, countLines(content)),
		}, nil
	}
	return Result{
		LLMContent: fmt.Sprintf("Updated %s: %d lines -> %d lines.", absPath, countLines(existingContent), countLines(content)),
		Display:    unifiedDiff(absPath, existingContent, content),
	}, nil
}

// writeAtomic writes to a uniquely-named temp file, then renames it over path.
// Using os.CreateTemp avoids a name collision when concurrent calls target the same destination.
func writeAtomic(path string, data []byte, mode os.FileMode) error {
	tf, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tf.Name()

	if _, err := tf.Write(data); err != nil {
		tf.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tf.Sync(); err != nil {
		tf.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tf.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	// CreateTemp creates files with 0600 which is too restrictive for source files.
	if err := os.Chmod(tempPath, mode); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to set file permissions: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// unifiedDiff renders old -> new, or "" when either side is too large.
func unifiedDiff(path, oldContent, newContent string) string {
	if len(oldContent) > maxDiffSize || len(newContent) > maxDiffSize {
		return ""
	}
	return string(diff.Diff(path, []byte(oldContent), path, []byte(newContent)))
}

// countLines counts the number of lines in a string.
func countLines(s string) int {
	if s == "" {
		return 0
	}
	count := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		count++
	}
	return count
}
