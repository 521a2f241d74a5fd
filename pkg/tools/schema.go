package tools

import (
	"encoding/json"
	"reflect"

	"github.com/invopop/jsonschema"
)

// SchemaOf reflects a typed argument struct into the JSON-Schema-shaped
// map descriptors carry. Field descriptions and enums come from
// `jsonschema` struct tags. Zero-field argument structs (tools taking no
// input) short-circuit: the ExpandedStruct reflector resolves the root by
// type name, which anonymous empty structs don't have.
func SchemaOf(v interface{}) map[string]interface{} {
	if isEmptyStruct(v) {
		return map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		}
	}

	reflector := &jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(v)

	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]interface{}{"type": "object"}
	}

	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]interface{}{"type": "object"}
	}

	delete(out, "$schema")
	delete(out, "$id")
	delete(out, "additionalProperties")
	return out
}

func isEmptyStruct(v interface{}) bool {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t != nil && t.Kind() == reflect.Struct && t.NumField() == 0
}
