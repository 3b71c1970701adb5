package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// compileSchema validates the structural invariants of a tool's input
// schema and compiles it for use at dispatch time. It enforces that
// every entry in "required" names a declared property.
func compileSchema(name string, raw map[string]any) (*jsonschema.Schema, error) {
	props := map[string]any{}
	if p, ok := raw["properties"].(map[string]any); ok {
		props = p
	}

	if req, ok := raw["required"]; ok {
		names, err := requiredNames(req)
		if err != nil {
			return nil, err
		}
		for _, field := range names {
			if _, ok := props[field]; !ok {
				return nil, fmt.Errorf("required field %q is not declared in properties", field)
			}
		}
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("schema is not serializable: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("schema unmarshal: %w", err)
	}

	c := jsonschema.NewCompiler()
	url := name + ".schema.json"
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("schema resource: %w", err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema compile: %w", err)
	}
	return sch, nil
}

// requiredNames normalizes the "required" schema entry, which may be
// []any (decoded JSON) or []string (literal definitions in Go source).
func requiredNames(req any) ([]string, error) {
	switch v := req.(type) {
	case []string:
		return v, nil
	case []any:
		names := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("required entry %v is not a string", item)
			}
			names = append(names, s)
		}
		return names, nil
	default:
		return nil, fmt.Errorf("required must be an array of strings, got %T", req)
	}
}

// validateArgs checks the call arguments against the definition's
// schema. Missing required fields are reported by name before the full
// schema validation runs, so the caller gets a precise message.
func (e *entry) validateArgs(args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}

	if req, ok := e.def.InputSchema["required"]; ok {
		names, err := requiredNames(req)
		if err == nil {
			var missing []string
			for _, field := range names {
				if _, present := args[field]; !present {
					missing = append(missing, field)
				}
			}
			if len(missing) > 0 {
				sort.Strings(missing)
				if len(missing) == 1 {
					return fmt.Errorf("missing required field %q", missing[0])
				}
				return fmt.Errorf("missing required fields %v", missing)
			}
		}
	}

	if e.schema == nil {
		return nil
	}

	// Round-trip through JSON so argument values carry the decoded-JSON
	// shapes the validator expects regardless of how they were built.
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("arguments are not serializable: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("arguments unmarshal: %w", err)
	}
	if err := e.schema.Validate(inst); err != nil {
		return err
	}
	return nil
}
