package providers

import "testing"

func TestCleanSchemaForProviderStripsUnsupportedKeys(t *testing.T) {
	schema := map[string]interface{}{
		"type":                 "object",
		"$schema":              "https://json-schema.org/draft-07/schema#",
		"additionalProperties": false,
		"properties": map[string]interface{}{
			"name": map[string]interface{}{
				"type":    "string",
				"$schema": "nested should go too",
			},
		},
	}

	cleaned := CleanSchemaForProvider("anthropic", schema)
	if _, ok := cleaned["$schema"]; ok {
		t.Error("$schema survived cleaning")
	}
	if _, ok := cleaned["additionalProperties"]; ok {
		t.Error("additionalProperties survived cleaning")
	}
	props := cleaned["properties"].(map[string]interface{})
	nested := props["name"].(map[string]interface{})
	if _, ok := nested["$schema"]; ok {
		t.Error("nested $schema survived cleaning")
	}

	// The input must not be mutated.
	if _, ok := schema["$schema"]; !ok {
		t.Error("cleaning mutated the caller's schema")
	}
}

func TestCleanSchemaForProviderNilSchema(t *testing.T) {
	cleaned := CleanSchemaForProvider("anthropic", nil)
	if cleaned["type"] != "object" {
		t.Fatalf("cleaned = %v, want bare object schema", cleaned)
	}
}

func TestCleanToolSchemasWireShape(t *testing.T) {
	tools := []ToolDefinition{{
		Type: "function",
		Function: ToolFunctionSchema{
			Name:        "web_fetch",
			Description: "fetch a url",
			Parameters:  map[string]interface{}{"type": "object"},
		},
	}}

	out := CleanToolSchemas("openai", tools)
	if len(out) != 1 {
		t.Fatalf("out = %d entries", len(out))
	}
	fn := out[0]["function"].(map[string]interface{})
	if out[0]["type"] != "function" || fn["name"] != "web_fetch" {
		t.Fatalf("wire shape wrong: %+v", out[0])
	}
}
