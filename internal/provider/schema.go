package provider

import "encoding/json"

// SanitizeSchema strips "additionalProperties" recursively from a JSON
// schema document before it's handed to a provider SDK. Several provider
// tool-schema validators (notably Gemini's) reject the key outright; the
// teacher's gemini_schema.go performs the same strip for that reason.
func SanitizeSchema(raw []byte) []byte {
	if len(raw) == 0 {
		return raw
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return raw
	}
	stripAdditionalProperties(doc)
	out, err := json.Marshal(doc)
	if err != nil {
		return raw
	}
	return out
}

func stripAdditionalProperties(v any) {
	switch node := v.(type) {
	case map[string]any:
		delete(node, "additionalProperties")
		for _, child := range node {
			stripAdditionalProperties(child)
		}
	case []any:
		for _, child := range node {
			stripAdditionalProperties(child)
		}
	}
}

// SchemaProperties extracts the top-level "properties" value from a raw
// JSON schema document, or nil if absent/malformed.
func SchemaProperties(raw []byte) map[string]any {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	props, _ := doc["properties"].(map[string]any)
	return props
}

// SchemaRequired extracts the top-level "required" string list from a raw
// JSON schema document, or nil if absent/malformed.
func SchemaRequired(raw []byte) []string {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	items, _ := doc["required"].([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
