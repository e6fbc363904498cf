package analysis

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/invopop/jsonschema"
)

const (
	propertiesKey           = "properties"
	additionalPropertiesKey = "additionalProperties"
	typeKey                 = "type"
	requiredKey             = "required"
	itemsKey                = "items"
)

// GenerateSchema reflects T into a JSON Schema that OpenAI strict structured
// output accepts: no additional properties and every property required.
func GenerateSchema[T any]() (map[string]any, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	schema := reflector.Reflect(v)

	b, err := schema.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	delete(m, "$schema")
	ensureStrict(m)
	return m, nil
}

func ensureStrict(schema map[string]any) {
	if schemaType, ok := schema[typeKey].(string); ok && schemaType == "object" {
		schema[additionalPropertiesKey] = false

		if properties, ok := schema[propertiesKey].(map[string]any); ok {
			required := make([]string, 0, len(properties))
			for name := range properties {
				required = append(required, name)
			}
			sort.Strings(required)
			if len(required) > 0 {
				schema[requiredKey] = required
			}
		}
	}

	if properties, ok := schema[propertiesKey].(map[string]any); ok {
		for _, prop := range properties {
			if propMap, ok := prop.(map[string]any); ok {
				ensureStrict(propMap)
			}
		}
	}

	if items, ok := schema[itemsKey].(map[string]any); ok {
		ensureStrict(items)
	}
}

var (
	schemaOnce sync.Once
	schemaMap  map[string]any
	schemaJSON string
	schemaErr  error
)

// Schema returns the Analysis schema as a map and as indented JSON. The
// result is computed once.
func Schema() (map[string]any, string, error) {
	schemaOnce.Do(func() {
		schemaMap, schemaErr = GenerateSchema[Analysis]()
		if schemaErr != nil {
			return
		}
		b, err := json.MarshalIndent(schemaMap, "", "  ")
		if err != nil {
			schemaErr = fmt.Errorf("encode schema: %w", err)
			return
		}
		schemaJSON = string(b)
	})
	return schemaMap, schemaJSON, schemaErr
}
