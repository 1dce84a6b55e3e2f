package capabilities

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// schemaFor reflects a parameter struct into a plain JSON schema map for
// function registration.
func schemaFor(v any) map[string]any {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(v)

	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	delete(m, "$schema")
	delete(m, "$id")
	return m
}
