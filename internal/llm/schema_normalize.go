package llm

// chooseModel prefers a per-request model override over the provider's
// configured default, so a single provider instance can serve requests that
// each pin a different model.
func chooseModel(requested, configured string) string {
	if requested != "" {
		return requested
	}
	return configured
}

// normalizeSchemaForOpenAI adapts a JSON schema for OpenAI/Copilot-style
// strict function calling: every object gets additionalProperties: false and
// every property it declares listed in required, recursively. Free-form maps
// (object schemas whose own additionalProperties is a schema, not a bool) are
// rewritten to an array of key/value pairs first, since strict mode forbids
// genuinely open-ended objects.
func normalizeSchemaForOpenAI(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return nil
	}
	schema = normalizeFreeFormMapProperties(schema)
	return applyStrictObjectRules(schema)
}

func applyStrictObjectRules(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return nil
	}
	out := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		out[k] = v
	}

	if props, ok := out["properties"].(map[string]interface{}); ok {
		normalizedProps := make(map[string]interface{}, len(props))
		required := make([]string, 0, len(props))
		for name, propSchema := range props {
			if nested, ok := propSchema.(map[string]interface{}); ok {
				normalizedProps[name] = applyStrictObjectRules(nested)
			} else {
				normalizedProps[name] = propSchema
			}
			required = append(required, name)
		}
		out["properties"] = normalizedProps
		out["required"] = required
	}

	if items, ok := out["items"].(map[string]interface{}); ok {
		out["items"] = applyStrictObjectRules(items)
	}

	if anyOf, ok := out["anyOf"].([]interface{}); ok {
		normalized := make([]interface{}, len(anyOf))
		for i, branch := range anyOf {
			if branchMap, ok := branch.(map[string]interface{}); ok {
				normalized[i] = applyStrictObjectRules(branchMap)
			} else {
				normalized[i] = branch
			}
		}
		out["anyOf"] = normalized
	}

	if out["type"] == "object" {
		if _, hasProps := out["properties"]; hasProps {
			out["additionalProperties"] = false
		}
	}

	return out
}

// normalizeFreeFormMapProperties walks a schema looking for object schemas
// whose additionalProperties is itself a schema (i.e. a free-form
// string-keyed map), and rewrites each into an array of {key, value} objects
// -- the shape OpenAI's strict mode can actually validate. Non-map shapes
// (properties/items/anyOf) are traversed but otherwise left untouched.
func normalizeFreeFormMapProperties(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return nil
	}
	out := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		out[k] = v
	}

	if valueSchema, ok := freeFormMapValueSchema(out); ok {
		return convertFreeFormMapToArray(out, valueSchema)
	}

	if props, ok := out["properties"].(map[string]interface{}); ok {
		normalizedProps := make(map[string]interface{}, len(props))
		for name, propSchema := range props {
			if nested, ok := propSchema.(map[string]interface{}); ok {
				normalizedProps[name] = normalizeFreeFormMapProperties(nested)
			} else {
				normalizedProps[name] = propSchema
			}
		}
		out["properties"] = normalizedProps
	}

	if items, ok := out["items"].(map[string]interface{}); ok {
		out["items"] = normalizeFreeFormMapProperties(items)
	}

	if anyOf, ok := out["anyOf"].([]interface{}); ok {
		normalized := make([]interface{}, len(anyOf))
		for i, branch := range anyOf {
			if branchMap, ok := branch.(map[string]interface{}); ok {
				normalized[i] = normalizeFreeFormMapProperties(branchMap)
			} else {
				normalized[i] = branch
			}
		}
		out["anyOf"] = normalized
	}

	return out
}

// freeFormMapValueSchema reports whether schema is an object whose
// additionalProperties is a nested schema map (as opposed to a bool or
// absent), and returns that nested schema.
func freeFormMapValueSchema(schema map[string]interface{}) (map[string]interface{}, bool) {
	if schema["type"] != "object" {
		return nil, false
	}
	valueSchema, ok := schema["additionalProperties"].(map[string]interface{})
	if !ok {
		return nil, false
	}
	return valueSchema, true
}

// convertFreeFormMapToArray rewrites a free-form map schema into an array of
// {key: string, value: <valueSchema>} objects, preserving descriptive
// metadata (description, title, default) from the original schema.
func convertFreeFormMapToArray(schema, valueSchema map[string]interface{}) map[string]interface{} {
	entry := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"key":   map[string]interface{}{"type": "string"},
			"value": valueSchema,
		},
		"required":             []string{"key", "value"},
		"additionalProperties": false,
	}

	out := map[string]interface{}{
		"type":  "array",
		"items": entry,
	}
	for _, meta := range []string{"description", "title", "default"} {
		if v, ok := schema[meta]; ok {
			out[meta] = v
		}
	}
	return out
}
