package providers

import "encoding/json"

// schemaKeysUnsupported lists JSON-Schema keywords individual providers
// reject outright. MCP servers emit rich schemas; the strictest backends
// (Anthropic's input_schema validator, Gemini via OpenAI-compatible proxies)
// 400 on keywords they don't know, so those are stripped rather than risking
// the whole tool list.
var schemaKeysUnsupported = map[string][]string{
	"anthropic": {"$schema", "$id", "$defs", "definitions", "additionalProperties"},
	"gemini":    {"$schema", "$id", "$defs", "definitions", "additionalProperties", "default", "examples"},
}

// CleanSchemaForProvider deep-copies schema with the provider's unsupported
// JSON-Schema keywords removed at every nesting level. Providers with no
// entry in the table get the schema back untouched (already a copy).
func CleanSchemaForProvider(provider string, schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return map[string]interface{}{"type": "object"}
	}

	// Deep copy via JSON round-trip so callers' schemas are never mutated.
	raw, err := json.Marshal(schema)
	if err != nil {
		return schema
	}
	var copied map[string]interface{}
	if err := json.Unmarshal(raw, &copied); err != nil {
		return schema
	}

	drop := schemaKeysUnsupported[provider]
	if len(drop) == 0 {
		return copied
	}
	stripKeys(copied, drop)
	return copied
}

func stripKeys(node interface{}, drop []string) {
	switch v := node.(type) {
	case map[string]interface{}:
		for _, key := range drop {
			delete(v, key)
		}
		for _, child := range v {
			stripKeys(child, drop)
		}
	case []interface{}:
		for _, child := range v {
			stripKeys(child, drop)
		}
	}
}

// CleanToolSchemas renders tool definitions into the OpenAI-compatible wire
// shape with per-provider schema cleaning applied to each parameters object.
func CleanToolSchemas(provider string, tools []ToolDefinition) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        t.Function.Name,
				"description": t.Function.Description,
				"parameters":  CleanSchemaForProvider(provider, t.Function.Parameters),
			},
		})
	}
	return out
}
