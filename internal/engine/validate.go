package engine

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/samsaffron/noma/internal/tools"
)

// schemaValidator checks tool arguments against declared parameter schemas.
// Resolved schemas are cached by their JSON text.
type schemaValidator struct {
	mu    sync.Mutex
	cache map[string]*jsonschema.Resolved
}

func newSchemaValidator() *schemaValidator {
	return &schemaValidator{cache: make(map[string]*jsonschema.Resolved)}
}

// validate returns a *tools.ToolError of type invalid_params when args do
// not satisfy the tool's schema or its own parameter checks.
func (v *schemaValidator) validate(tool tools.Tool, args map[string]any) error {
	decl := tool.Declaration()
	if len(decl.Parameters) > 0 {
		resolved, err := v.resolve(decl.Parameters)
		if err != nil {
			return tools.NewToolErrorf(tools.ErrInvalidParams, "tool %q has an invalid parameter schema: %v", decl.Name, err)
		}
		instance, err := jsonInstance(args)
		if err != nil {
			return tools.NewToolErrorf(tools.ErrInvalidParams, "arguments are not valid JSON: %v", err)
		}
		if err := resolved.Validate(instance); err != nil {
			return tools.NewToolErrorf(tools.ErrInvalidParams, "invalid arguments for %s: %v", decl.Name, err)
		}
	}
	if pv, ok := tool.(tools.ParamValidator); ok {
		if err := pv.ValidateParams(args); err != nil {
			return tools.NewToolError(tools.ErrInvalidParams, err.Error())
		}
	}
	return nil
}

func (v *schemaValidator) resolve(params map[string]any) (*jsonschema.Resolved, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	key := string(data)

	v.mu.Lock()
	defer v.mu.Unlock()
	if resolved, ok := v.cache[key]; ok {
		return resolved, nil
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, err
	}
	v.cache[key] = resolved
	return resolved, nil
}

// jsonInstance normalises args to the shapes encoding/json produces, so
// integers set by Go callers validate like decoded JSON numbers.
func jsonInstance(args map[string]any) (any, error) {
	if args == nil {
		args = map[string]any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
