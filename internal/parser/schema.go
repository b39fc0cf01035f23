package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/starford/quill/internal/apperr"
)

// Schema validates front-matter against a JSON Schema document.
type Schema struct {
	compiled *jsonschema.Schema
}

// LoadSchema compiles the JSON Schema file at path.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("parser: read schema: %w", err)
	}
	return CompileSchema(data)
}

// CompileSchema compiles a JSON Schema from raw bytes.
func CompileSchema(data []byte) (*Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parser: decode schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("frontmatter.json", doc); err != nil {
		return nil, fmt.Errorf("parser: add schema: %w", err)
	}
	sch, err := c.Compile("frontmatter.json")
	if err != nil {
		return nil, fmt.Errorf("parser: compile schema: %w", err)
	}
	return &Schema{compiled: sch}, nil
}

// Validate checks fm against the schema. A nil Schema accepts everything.
// Violations wrap apperr.ErrParse.
func (s *Schema) Validate(fm map[string]any) error {
	if s == nil {
		return nil
	}
	if fm == nil {
		fm = map[string]any{}
	}
	// Round-trip through JSON so YAML-native values (ints, times) take the
	// shapes the validator expects.
	raw, err := json.Marshal(jsonSafe(fm))
	if err != nil {
		return fmt.Errorf("%w: front-matter not representable as JSON: %v", apperr.ErrParse, err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrParse, err)
	}
	if err := s.compiled.Validate(inst); err != nil {
		return fmt.Errorf("%w: front-matter schema: %v", apperr.ErrParse, err)
	}
	return nil
}

// jsonSafe rewrites map[any]any nodes, which encoding/json rejects.
func jsonSafe(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = jsonSafe(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = jsonSafe(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = jsonSafe(val)
		}
		return out
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return v
	}
}
