package llm

import (
	"sort"

	"google.golang.org/genai"
)

// maxGeminiSchemaDepth stops conversion of self-referencing or very deep
// schemas, which the Gemini API rejects with a 400.
const maxGeminiSchemaDepth = 16

// schemaToGenai converts a JSON schema map into the Gemini subset. Keywords
// Gemini does not understand ($ref, pattern, additionalProperties, ...) are
// dropped rather than rejected.
func schemaToGenai(schema map[string]any) *genai.Schema {
	return convertGeminiSchema(schema, 0)
}

func convertGeminiSchema(schema map[string]any, depth int) *genai.Schema {
	if schema == nil || depth > maxGeminiSchemaDepth {
		return &genai.Schema{Type: genai.TypeString}
	}

	typ, nullable := geminiSchemaType(schema["type"])
	out := &genai.Schema{
		Type:        typ,
		Description: stringField(schema, "description"),
	}
	if nullable {
		out.Nullable = genai.Ptr(true)
	}
	if enum := stringSlice(schema["enum"]); len(enum) > 0 {
		out.Enum = enum
		if out.Type == genai.TypeUnspecified {
			out.Type = genai.TypeString
		}
	}

	if props, ok := schema["properties"].(map[string]any); ok && len(props) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(props))
		names := make([]string, 0, len(props))
		for name, prop := range props {
			propMap, ok := prop.(map[string]any)
			if !ok {
				continue
			}
			out.Properties[name] = convertGeminiSchema(propMap, depth+1)
			names = append(names, name)
		}
		sort.Strings(names)
		out.PropertyOrdering = names
		out.Required = knownRequired(schemaRequired(schema), out.Properties)
		if out.Type == genai.TypeUnspecified {
			out.Type = genai.TypeObject
		}
	}

	if items, ok := schema["items"].(map[string]any); ok {
		out.Items = convertGeminiSchema(items, depth+1)
		if out.Type == genai.TypeUnspecified {
			out.Type = genai.TypeArray
		}
	}

	for _, key := range []string{"anyOf", "oneOf"} {
		variants, ok := schema[key].([]any)
		if !ok {
			continue
		}
		for _, v := range variants {
			if vm, ok := v.(map[string]any); ok {
				out.AnyOf = append(out.AnyOf, convertGeminiSchema(vm, depth+1))
			}
		}
	}

	if out.Type == genai.TypeUnspecified && len(out.AnyOf) == 0 {
		out.Type = genai.TypeString
	}
	return out
}

// geminiSchemaType maps a JSON schema "type", which may be a list such as
// ["string", "null"], to a single Gemini type plus nullability.
func geminiSchemaType(v any) (genai.Type, bool) {
	var names []string
	switch t := v.(type) {
	case string:
		names = []string{t}
	case []any:
		names = stringSlice(t)
	case []string:
		names = t
	}
	nullable := false
	typ := genai.TypeUnspecified
	for _, name := range names {
		switch name {
		case "null":
			nullable = true
		case "string":
			typ = genai.TypeString
		case "integer":
			typ = genai.TypeInteger
		case "number":
			typ = genai.TypeNumber
		case "boolean":
			typ = genai.TypeBoolean
		case "array":
			typ = genai.TypeArray
		case "object":
			typ = genai.TypeObject
		}
	}
	return typ, nullable
}

func knownRequired(required []string, props map[string]*genai.Schema) []string {
	var out []string
	for _, name := range required {
		if _, ok := props[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

func stringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

func stringField(schema map[string]any, key string) string {
	if v, ok := schema[key].(string); ok {
		return v
	}
	return ""
}
