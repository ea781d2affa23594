package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// completionSchema is the minimum shape of an OpenAI-compatible chat/completions response
// that the client is willing to read a reply from.
var completionSchema = map[string]any{
	"$schema":  "http://json-schema.org/draft-07/schema#",
	"type":     "object",
	"required": []string{"choices"},
	"properties": map[string]any{
		"model": map[string]any{"type": "string"},
		"choices": map[string]any{
			"type":     "array",
			"minItems": 1,
			"items": map[string]any{
				"type":     "object",
				"required": []string{"message"},
				"properties": map[string]any{
					"message": map[string]any{
						"type":     "object",
						"required": []string{"content"},
						"properties": map[string]any{
							"content": map[string]any{"type": []string{"string", "null"}},
						},
					},
				},
			},
		},
		"usage": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"total_tokens":      map[string]any{"type": "integer", "minimum": 0},
				"prompt_tokens":     map[string]any{"type": "integer", "minimum": 0},
				"completion_tokens": map[string]any{"type": "integer", "minimum": 0},
			},
		},
	},
}

var (
	compiledOnce sync.Once
	compiled     *jsonschema.Schema
	compileErr   error
)

// ValidateCompletion checks a raw chat/completions body against the response envelope schema.
func ValidateCompletion(data []byte) error {
	compiledOnce.Do(func() {
		compiled, compileErr = compileSchema(completionSchema)
	})
	if compileErr != nil {
		return compileErr
	}
	return validateWith(compiled, data)
}

// compileSchema compiles a schema expressed as a Go map.
func compileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

func validateWith(schema *jsonschema.Schema, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
