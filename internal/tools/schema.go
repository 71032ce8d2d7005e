package tools

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// GenerateSchema derives a JSON Schema for a tool input struct. Field
// descriptions come from jsonschema_description tags. The result is a
// plain map so built-in schemas share a representation with the
// schemas remote providers return from tools/list.
func GenerateSchema[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(&v)

	data, err := json.Marshal(schema)
	if err != nil {
		// Reflect output always marshals; a failure here is a bug in
		// the input struct definition.
		panic(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		panic(err)
	}

	delete(m, "$schema")
	delete(m, "$id")
	return m
}
