package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/samsaffron/noma/internal/llm"
)

// GlobTool implements the glob tool.
type GlobTool struct {
	limits OutputLimits
}

// NewGlobTool creates a new GlobTool.
func NewGlobTool(limits OutputLimits) *GlobTool {
	return &GlobTool{limits: limits}
}

// FileEntry represents a file in glob results.
type FileEntry struct {
	FilePath  string    `json:"file_path"`
	IsDir     bool      `json:"is_dir"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
}

func (t *GlobTool) Declaration() llm.FunctionDeclaration {
	return llm.FunctionDeclaration{
		Name:        GlobToolName,
		Description: "Find files by glob pattern (supports ** for recursive matching). Returns file metadata sorted by modification time.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{
					"type":        "string",
					"description": "Glob pattern supporting ** for recursive matching, e.g., '**/*.go' or 'src/**/*.ts'",
				},
				"path": map[string]any{
					"type":        "string",
					"description": "Base directory for the search (defaults to current directory)",
				},
			},
			"required": []any{"pattern"},
		},
	}
}

func (t *GlobTool) Kind() Kind { return KindSearch }

func (t *GlobTool) ShouldConfirmExecute(context.Context, map[string]any) (*ConfirmationDetails, error) {
	return nil, nil
}

func (t *GlobTool) ValidateParams(args map[string]any) error {
	pattern, err := requiredString(args, "pattern")
	if err != nil {
		return err
	}
	if !doublestar.ValidatePattern(pattern) {
		return NewToolErrorf(ErrInvalidParams, "invalid glob pattern: %s", pattern)
	}
	return nil
}

func (t *GlobTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	warning := WarnUnknownParams(args, []string{"pattern", "path"})

	pattern, err := requiredString(args, "pattern")
	if err != nil {
		return Result{}, err
	}
	basePath, err := stringArg(args, "path")
	if err != nil {
		return Result{}, err
	}
	if basePath == "" {
		basePath, err = os.Getwd()
		if err != nil {
			return Result{}, NewToolErrorf(ErrExecutionFailed, "cannot get working directory: %v", err)
		}
	}

	absBasePath, err := filepath.Abs(basePath)
	if err != nil {
		return Result{}, NewToolErrorf(ErrExecutionFailed, "cannot resolve path: %v", err)
	}
	if info, err := os.Stat(absBasePath); err != nil {
		return Result{}, fileError(absBasePath, err)
	} else if !info.IsDir() {
		return Result{}, NewToolErrorf(ErrInvalidParams, "%s is not a directory", absBasePath)
	}

	maxResults := t.limits.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultOutputLimits().MaxResults
	}

	var entries []FileEntry
	err = filepath.WalkDir(absBasePath, func(path string, d os.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return nil
		}
		if path != absBasePath && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		relPath, err := filepath.Rel(absBasePath, path)
		if err != nil {
			return nil
		}
		matched, err := doublestar.Match(pattern, filepath.ToSlash(relPath))
		if err != nil || !matched {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		entries = append(entries, FileEntry{
			FilePath:  path,
			IsDir:     d.IsDir(),
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
		})
		if len(entries) >= maxResults {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Result{}, err
		}
		return Result{}, NewToolErrorf(ErrExecutionFailed, "walk error: %v", err)
	}

	if len(entries) == 0 {
		return Result{LLMContent: warning + "No files matched the pattern."}, nil
	}

	// Newest first.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ModTime.After(entries[j].ModTime)
	})

	return Result{
		LLMContent: warning + formatGlobResults(entries, len(entries) >= maxResults),
		Display:    fmt.Sprintf("Found %d files matching %s", len(entries), pattern),
	}, nil
}

// formatGlobResults formats glob results for the LLM.
func formatGlobResults(entries []FileEntry, truncated bool) string {
	var sb strings.Builder
	for _, e := range entries {
		typeIndicator := "f"
		if e.IsDir {
			typeIndicator = "d"
		}
		fmt.Fprintf(&sb, "[%s] %s  %s  %s\n", typeIndicator, formatSize(e.SizeBytes), e.ModTime.Format("2006-01-02 15:04"), e.FilePath)
	}
	if truncated {
		fmt.Fprintf(&sb, "\n[Results truncated at %d files]", len(entries))
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// formatSize formats a byte count as human-readable.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%4dB", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%4.0f%c", float64(bytes)/float64(div), "KMGTPE"[exp])
}
