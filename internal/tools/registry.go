package tools

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sahilm/fuzzy"

	"github.com/samsaffron/noma/internal/llm"
)

// maxSuggestions bounds the "did you mean" list for unknown tools.
const maxSuggestions = 3

// Registry holds the tools available to the model.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// NewBuiltinRegistry registers the enabled built-in tools.
func NewBuiltinRegistry(cfg ToolConfig) (*Registry, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	perms, err := cfg.BuildPermissions()
	if err != nil {
		return nil, err
	}
	limits := DefaultOutputLimits()

	r := NewRegistry()
	for _, name := range cfg.Enabled {
		var tool Tool
		switch name {
		case ReadFileToolName:
			tool = NewReadFileTool(limits)
		case WriteFileToolName:
			tool = NewWriteFileTool(perms)
		case GlobToolName:
			tool = NewGlobTool(limits)
		case ShellToolName:
			tool = NewShellTool(perms, limits)
		default:
			return nil, fmt.Errorf("unimplemented tool: %s", name)
		}
		if err := r.Register(tool); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(tool Tool) error {
	name := tool.Declaration().Name
	if name == "" {
		return errors.New("tool has no name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = tool
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Lookup returns a tool by name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Declarations returns the declarations sent to the model, sorted by name.
func (r *Registry) Declarations() []llm.FunctionDeclaration {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	decls := make([]llm.FunctionDeclaration, 0, len(names))
	for _, name := range names {
		if tool, ok := r.tools[name]; ok {
			decls = append(decls, tool.Declaration())
		}
	}
	return decls
}

// Suggest returns registered names close to name, best match first.
func (r *Registry) Suggest(name string) []string {
	if name == "" {
		return nil
	}
	names := r.Names()
	matches := fuzzy.Find(name, names)
	if len(matches) == 0 {
		// Catch names that embed a registered one, e.g. read_file_contents.
		for _, candidate := range names {
			if len(fuzzy.Find(candidate, []string{name})) > 0 {
				matches = append(matches, fuzzy.Match{Str: candidate})
			}
		}
	}
	out := make([]string, 0, maxSuggestions)
	for _, m := range matches {
		if len(out) == maxSuggestions {
			break
		}
		out = append(out, m.Str)
	}
	return out
}
