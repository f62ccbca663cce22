package config

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
)

var schemaCache struct {
	once sync.Once
	doc  []byte
	err  error
}

// JSONSchema returns the JSON Schema for vibe.yaml, reflected from the
// Config struct's yaml field tags. The `vibe config schema` command
// prints it for editor completion and CI validation.
func JSONSchema() ([]byte, error) {
	schemaCache.once.Do(func() {
		r := &jsonschema.Reflector{
			FieldNameTag:   "yaml",
			ExpandedStruct: true,
		}
		s := r.Reflect(&Config{})
		s.Title = "vibe kernel configuration"
		schemaCache.doc, schemaCache.err = json.MarshalIndent(s, "", "  ")
	})
	return schemaCache.doc, schemaCache.err
}
