package tools

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestApprovalCache(t *testing.T) {
	c := NewApprovalCache()

	if c.Approved(ShellToolName, "git") {
		t.Fatal("expected empty cache to approve nothing")
	}

	c.Set(ShellToolName, "git", ProceedAlways)
	if !c.Approved(ShellToolName, "git") {
		t.Error("expected git to be approved after ProceedAlways")
	}
	if c.Approved(ShellToolName, "rm") {
		t.Error("expected approval to be scoped to its key")
	}
	if c.Approved(WriteFileToolName, "git") {
		t.Error("expected approval to be scoped to its tool")
	}

	c.Set(ShellToolName, "rm", ProceedOnce)
	if c.Approved(ShellToolName, "rm") {
		t.Error("expected ProceedOnce not to approve")
	}
	if c.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", c.Len())
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("expected empty cache after Clear, got %d", c.Len())
	}

	var nilCache *ApprovalCache
	if nilCache.Approved(ShellToolName, "git") {
		t.Error("expected nil cache to approve nothing")
	}
}

func TestCacheKeySeparatesFields(t *testing.T) {
	if cacheKey("ab", "c") == cacheKey("a", "bc") {
		t.Error("expected distinct keys for different field splits")
	}
}

func TestRootCommand(t *testing.T) {
	tests := []struct {
		command string
		want    string
	}{
		{"git status", "git"},
		{"  ls -la", "ls"},
		{"FOO=1 BAR=2 go test ./...", "go"},
		{"", ""},
		{"A=1", ""},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			if got := RootCommand(tt.command); got != tt.want {
				t.Errorf("RootCommand(%q) = %q, want %q", tt.command, got, tt.want)
			}
		})
	}
}

func TestPermissionsCommands(t *testing.T) {
	cfg := ToolConfig{AllowedCommands: []string{"git status*", "ls *", "npm test"}}
	perms, err := cfg.BuildPermissions()
	if err != nil {
		t.Fatalf("BuildPermissions: %v", err)
	}

	tests := []struct {
		command string
		want    bool
	}{
		{"git status", true},
		{"git status --short", true},
		{"git push", false},
		{"ls -la", true},
		{"npm test", true},
		{"npm install", false},
		{"  npm test  ", true},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			if got := perms.AllowsCommand(tt.command); got != tt.want {
				t.Errorf("AllowsCommand(%q) = %v, want %v", tt.command, got, tt.want)
			}
		})
	}

	var none *Permissions
	if none.AllowsCommand("ls") {
		t.Error("expected nil permissions to allow nothing")
	}
}

func TestPermissionsPaths(t *testing.T) {
	dir := t.TempDir()
	cfg := ToolConfig{AllowedPaths: []string{
		filepath.Join(dir, "src"),
		filepath.Join(dir, "**", "*.md"),
	}}
	perms, err := cfg.BuildPermissions()
	if err != nil {
		t.Fatalf("BuildPermissions: %v", err)
	}

	tests := []struct {
		path string
		want bool
	}{
		{filepath.Join(dir, "src", "main.go"), true},
		{filepath.Join(dir, "src"), true},
		{filepath.Join(dir, "docs", "deep", "README.md"), true},
		{filepath.Join(dir, "srcx", "main.go"), false},
		{filepath.Join(dir, "main.go"), false},
	}
	for _, tt := range tests {
		if got := perms.AllowsPath(tt.path); got != tt.want {
			t.Errorf("AllowsPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestToolConfigValidate(t *testing.T) {
	cfg := ToolConfig{
		Enabled:         []string{ReadFileToolName, "teleport"},
		AllowedCommands: []string{"git [status"},
	}
	errs := cfg.Validate()
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d: %v", len(errs), errs)
	}
	if !strings.Contains(errs[0].Error(), "unknown tool: teleport") {
		t.Errorf("unexpected first error: %v", errs[0])
	}
	if !strings.Contains(errs[1].Error(), "invalid command pattern") {
		t.Errorf("unexpected second error: %v", errs[1])
	}

	if _, err := cfg.BuildPermissions(); err == nil {
		t.Error("expected BuildPermissions to fail on an invalid pattern")
	}
}
