package identity

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
)

var (
	manifestSchemaOnce sync.Once
	manifestSchemaDoc  []byte
	manifestSchemaErr  error
)

// ManifestSchema returns the JSON Schema for the on-disk manifest
// document. Federation consumers validate exported manifests against
// it; the manifest's nested sections stay as $defs references so they
// can be cited individually.
func ManifestSchema() ([]byte, error) {
	manifestSchemaOnce.Do(func() {
		r := &jsonschema.Reflector{FieldNameTag: "json"}
		s := r.Reflect(&Manifest{})
		s.Title = "agent identity manifest"
		manifestSchemaDoc, manifestSchemaErr = json.MarshalIndent(s, "", "  ")
	})
	return manifestSchemaDoc, manifestSchemaErr
}
