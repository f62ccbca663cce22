package tools

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaFor renders a JSON Schema document for a parameter declaration.
// Property order is stable (sorted) so the document is canonical.
func SchemaFor(params map[string]ParamSpec) []byte {
	properties := make(map[string]any, len(params))
	var required []string
	for name, spec := range params {
		prop := make(map[string]any, 2)
		if spec.Type != "" {
			prop["type"] = spec.Type
		}
		if spec.Description != "" {
			prop["description"] = spec.Description
		}
		properties[name] = prop
		if spec.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)

	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	// json.Marshal sorts map keys, so the document is deterministic.
	b, err := json.Marshal(doc)
	if err != nil {
		// The input is maps of strings and bools; this cannot fail.
		panic(fmt.Sprintf("marshal parameter schema: %v", err))
	}
	return b
}

// BaseTool carries a tool's name, description and parameter declaration,
// and implements Validate by compiling the declaration to a JSON Schema
// once. Concrete tools embed it and implement Execute.
type BaseTool struct {
	name        string
	description string
	params      map[string]ParamSpec
	schema      *jsonschema.Schema
}

// NewBase builds the embedded core of a tool. It panics when the
// parameter declaration does not compile; declarations are static and a
// bad one is a programming error caught by the tool's own tests.
func NewBase(name, description string, params map[string]ParamSpec) BaseTool {
	doc := SchemaFor(params)
	schema, err := jsonschema.CompileString(name+".schema.json", string(doc))
	if err != nil {
		panic(fmt.Sprintf("compile parameter schema for %s: %v", name, err))
	}
	return BaseTool{
		name:        name,
		description: description,
		params:      params,
		schema:      schema,
	}
}

// Name implements Tool.
func (b BaseTool) Name() string { return b.name }

// Description implements Tool.
func (b BaseTool) Description() string { return b.description }

// Params implements Tool. The returned map is a copy.
func (b BaseTool) Params() map[string]ParamSpec {
	out := make(map[string]ParamSpec, len(b.params))
	for k, v := range b.params {
		out[k] = v
	}
	return out
}

// Validate implements Tool by checking params against the compiled
// schema. Values are normalized through JSON first, so Go-native values
// (ints, typed maps) validate the way their wire form would.
func (b BaseTool) Validate(params map[string]any) error {
	if params == nil {
		params = map[string]any{}
	}
	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("parameters not representable as JSON: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("decode parameters: %w", err)
	}
	if err := b.schema.Validate(decoded); err != nil {
		return fmt.Errorf("invalid parameters for %s: %w", b.name, err)
	}
	return nil
}
