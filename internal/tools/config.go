package tools

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gobwas/glob"
)

// ToolConfig holds configuration for the built-in tools.
type ToolConfig struct {
	Enabled         []string `mapstructure:"enabled"`          // Enabled tool names
	AllowedCommands []string `mapstructure:"allowed_commands"` // Shell globs run without confirmation
	AllowedPaths    []string `mapstructure:"allowed_paths"`    // Path globs written without confirmation
}

// NewToolConfigFromFields creates a ToolConfig from individual field values.
// This allows callers from the config package to create ToolConfigs without circular imports.
func NewToolConfigFromFields(enabled, allowedCommands, allowedPaths []string) ToolConfig {
	return ToolConfig{
		Enabled:         enabled,
		AllowedCommands: allowedCommands,
		AllowedPaths:    allowedPaths,
	}
}

// Validate checks tool names and patterns.
func (c *ToolConfig) Validate() []error {
	var errs []error
	for _, name := range c.Enabled {
		if !ValidToolName(name) {
			errs = append(errs, fmt.Errorf("unknown tool: %s", name))
		}
	}
	for _, pattern := range c.AllowedCommands {
		if _, err := glob.Compile(pattern); err != nil {
			errs = append(errs, fmt.Errorf("invalid command pattern %q: %w", pattern, err))
		}
	}
	for _, pattern := range c.AllowedPaths {
		if !doublestar.ValidatePattern(filepath.ToSlash(pattern)) {
			errs = append(errs, fmt.Errorf("invalid path pattern %q", pattern))
		}
	}
	return errs
}

// BuildPermissions compiles the allow lists.
func (c *ToolConfig) BuildPermissions() (*Permissions, error) {
	perms := &Permissions{}
	for _, pattern := range c.AllowedCommands {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid command pattern %q: %w", pattern, err)
		}
		perms.commands = append(perms.commands, g)
	}
	for _, pattern := range c.AllowedPaths {
		abs, err := filepath.Abs(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid path pattern %q: %w", pattern, err)
		}
		perms.paths = append(perms.paths, filepath.ToSlash(abs))
	}
	return perms, nil
}

// Permissions decides which calls skip confirmation.
type Permissions struct {
	commands []glob.Glob
	paths    []string
}

// AllowsCommand reports whether command matches an allowed pattern.
func (p *Permissions) AllowsCommand(command string) bool {
	if p == nil {
		return false
	}
	command = strings.TrimSpace(command)
	for _, g := range p.commands {
		if g.Match(command) {
			return true
		}
	}
	return false
}

// AllowsPath reports whether the absolute path matches an allowed pattern.
// A pattern naming a directory allows everything beneath it.
func (p *Permissions) AllowsPath(absPath string) bool {
	if p == nil {
		return false
	}
	path := filepath.ToSlash(absPath)
	for _, pattern := range p.paths {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
		if strings.HasPrefix(path, strings.TrimSuffix(pattern, "/")+"/") {
			return true
		}
	}
	return false
}

// OutputLimits defines limits for tool output.
type OutputLimits struct {
	MaxLines   int   // Max lines for read_file
	MaxBytes   int64 // Max bytes per tool output
	MaxResults int   // Max results for glob
}

// DefaultOutputLimits returns the default output limits.
func DefaultOutputLimits() OutputLimits {
	return OutputLimits{
		MaxLines:   2000,
		MaxBytes:   50 * 1024,
		MaxResults: 200,
	}
}
