package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	writeTestFile(t, path, "one\ntwo\nthree\nfour")
	tool := NewReadFileTool(DefaultOutputLimits())

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"whole file", map[string]any{"file_path": path}, "1: one\n2: two\n3: three\n4: four"},
		{"line range", map[string]any{"file_path": path, "start_line": float64(2), "end_line": float64(3)}, "2: two\n3: three"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tool.Execute(context.Background(), tt.args)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if res.LLMContent != tt.want {
				t.Errorf("got %q, want %q", res.LLMContent, tt.want)
			}
		})
	}

	_, err := tool.Execute(context.Background(), map[string]any{"file_path": path, "start_line": float64(10)})
	if got := ErrorTypeOf(err, ""); got != ErrInvalidParams {
		t.Errorf("start past the end: expected %s, got %s (%v)", ErrInvalidParams, got, err)
	}
}

func TestReadFileTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "long.txt")
	writeTestFile(t, path, strings.Repeat("line\n", 10))
	tool := NewReadFileTool(OutputLimits{MaxLines: 3, MaxBytes: 1024})

	res, err := tool.Execute(context.Background(), map[string]any{"file_path": path})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasPrefix(res.LLMContent, "1: line\n2: line\n3: line\n\n[Output truncated") {
		t.Errorf("expected truncated output, got %q", res.LLMContent)
	}
}

func TestReadFileErrors(t *testing.T) {
	dir := t.TempDir()
	tool := NewReadFileTool(DefaultOutputLimits())

	_, err := tool.Execute(context.Background(), map[string]any{"file_path": filepath.Join(dir, "missing")})
	if got := ErrorTypeOf(err, ""); got != ErrFileNotFound {
		t.Errorf("missing file: expected %s, got %s", ErrFileNotFound, got)
	}

	bin := filepath.Join(dir, "blob.bin")
	if err := os.WriteFile(bin, []byte{0x00, 0x01, 0x02, 0xff}, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err = tool.Execute(context.Background(), map[string]any{"file_path": bin})
	if err == nil || !strings.Contains(err.Error(), "binary") {
		t.Errorf("expected binary file error, got %v", err)
	}

	err = tool.ValidateParams(map[string]any{"file_path": "x", "start_line": float64(5), "end_line": float64(2)})
	if got := ErrorTypeOf(err, ""); got != ErrInvalidParams {
		t.Errorf("inverted range: expected %s, got %s", ErrInvalidParams, got)
	}

	details, err := tool.ShouldConfirmExecute(context.Background(), map[string]any{"file_path": "x"})
	if err != nil || details != nil {
		t.Errorf("expected reads to need no confirmation, got %+v, %v", details, err)
	}
}

func TestWriteFileConfirmation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.go")
	writeTestFile(t, path, "package main\n")
	tool := NewWriteFileTool(nil)

	args := map[string]any{"file_path": path, "content": "package main\n\nfunc main() {}\n"}
	details, err := tool.ShouldConfirmExecute(context.Background(), args)
	if err != nil {
		t.Fatalf("ShouldConfirmExecute: %v", err)
	}
	if details == nil {
		t.Fatal("expected confirmation for a changed file")
	}
	if details.Type != ConfirmEdit {
		t.Errorf("expected type %s, got %s", ConfirmEdit, details.Type)
	}
	if details.FilePath != path || details.ApprovalKey != path {
		t.Errorf("expected path and approval key %s, got %s and %s", path, details.FilePath, details.ApprovalKey)
	}
	if !strings.Contains(details.Diff, "+func main() {}") {
		t.Errorf("expected diff to show the added line, got:\n%s", details.Diff)
	}

	// Unchanged content needs no confirmation.
	details, err = tool.ShouldConfirmExecute(context.Background(), map[string]any{"file_path": path, "content": "package main\n"})
	if err != nil || details != nil {
		t.Errorf("expected no confirmation for unchanged content, got %+v, %v", details, err)
	}

	// New files are titled as creations.
	details, err = tool.ShouldConfirmExecute(context.Background(), map[string]any{"file_path": filepath.Join(dir, "new.go"), "content": "x"})
	if err != nil {
		t.Fatalf("ShouldConfirmExecute: %v", err)
	}
	if details == nil || !strings.HasPrefix(details.Title, "Create ") {
		t.Errorf("expected a Create title, got %+v", details)
	}
}

func TestWriteFileAllowedPathsSkipConfirmation(t *testing.T) {
	dir := t.TempDir()
	cfg := ToolConfig{AllowedPaths: []string{dir}}
	perms, err := cfg.BuildPermissions()
	if err != nil {
		t.Fatalf("BuildPermissions: %v", err)
	}
	tool := NewWriteFileTool(perms)

	details, err := tool.ShouldConfirmExecute(context.Background(), map[string]any{"file_path": filepath.Join(dir, "a", "b.txt"), "content": "hi"})
	if err != nil {
		t.Fatalf("ShouldConfirmExecute: %v", err)
	}
	if details != nil {
		t.Errorf("expected allowed path to skip confirmation, got %+v", details)
	}
}

func TestWriteFileExecute(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.txt")
	tool := NewWriteFileTool(nil)

	res, err := tool.Execute(context.Background(), map[string]any{"file_path": path, "content": "a\nb\n"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.LLMContent, "Created new file") {
		t.Errorf("expected creation message, got %q", res.LLMContent)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "a\nb\n" {
		t.Errorf("expected written content, got %q", data)
	}

	if err := os.Chmod(path, 0600); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	res, err = tool.Execute(context.Background(), map[string]any{"file_path": path, "content": "a\nb\nc\n"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.LLMContent, "2 lines -> 3 lines") {
		t.Errorf("expected line counts in result, got %q", res.LLMContent)
	}
	if !strings.Contains(res.Display, "+c") {
		t.Errorf("expected diff in display, got %q", res.Display)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected mode 0600 preserved, got %v", info.Mode().Perm())
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("temp files must not be left behind, found %d entries", len(entries))
	}
}

func TestWriteFileExclusivityKey(t *testing.T) {
	tool := NewWriteFileTool(nil)
	abs, err := filepath.Abs("rel.txt")
	if err != nil {
		t.Fatalf("Abs: %v", err)
	}
	if got := tool.ExclusivityKey(map[string]any{"file_path": "rel.txt"}); got != abs {
		t.Errorf("expected key %s, got %s", abs, got)
	}
	if got := tool.ExclusivityKey(map[string]any{}); got != "" {
		t.Errorf("expected empty key without a path, got %s", got)
	}

	err = tool.ValidateParams(map[string]any{"file_path": t.TempDir(), "content": ""})
	if got := ErrorTypeOf(err, ""); got != ErrInvalidParams {
		t.Errorf("writing a directory: expected %s, got %s", ErrInvalidParams, got)
	}
}

func TestGlob(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "a.go"), "package a")
	writeTestFile(t, filepath.Join(dir, "sub", "b.go"), "package b")
	writeTestFile(t, filepath.Join(dir, "sub", "c.txt"), "c")
	writeTestFile(t, filepath.Join(dir, ".hidden", "d.go"), "package d")

	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(dir, "a.go"), old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	tool := NewGlobTool(DefaultOutputLimits())
	res, err := tool.Execute(context.Background(), map[string]any{"pattern": "**/*.go", "path": dir})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	lines := strings.Split(res.LLMContent, "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 matches, got %d: %q", len(lines), res.LLMContent)
	}
	if !strings.HasSuffix(lines[0], filepath.Join(dir, "sub", "b.go")) {
		t.Errorf("expected newest file first, got %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], filepath.Join(dir, "a.go")) {
		t.Errorf("expected older file second, got %q", lines[1])
	}
	if strings.Contains(res.LLMContent, ".hidden") {
		t.Error("expected hidden directories to be skipped")
	}

	res, err = tool.Execute(context.Background(), map[string]any{"pattern": "*.rs", "path": dir, "extra": 1})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if want := "Unknown parameter 'extra' was ignored\nNo files matched the pattern."; res.LLMContent != want {
		t.Errorf("got %q, want %q", res.LLMContent, want)
	}
}

func TestGlobErrors(t *testing.T) {
	tool := NewGlobTool(DefaultOutputLimits())

	err := tool.ValidateParams(map[string]any{"pattern": "[unclosed"})
	if got := ErrorTypeOf(err, ""); got != ErrInvalidParams {
		t.Errorf("bad pattern: expected %s, got %s", ErrInvalidParams, got)
	}

	_, err = tool.Execute(context.Background(), map[string]any{"pattern": "*", "path": filepath.Join(t.TempDir(), "nope")})
	if got := ErrorTypeOf(err, ""); got != ErrFileNotFound {
		t.Errorf("missing dir: expected %s, got %s", ErrFileNotFound, got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tool.Execute(ctx, map[string]any{"pattern": "*", "path": t.TempDir()})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{512, " 512B"},
		{2048, "   2K"},
		{3 * 1024 * 1024, "   3M"},
	}
	for _, tt := range tests {
		if got := formatSize(tt.size); got != tt.want {
			t.Errorf("formatSize(%d) = %q, want %q", tt.size, got, tt.want)
		}
	}
}
