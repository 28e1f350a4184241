package extraction

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	//go:embed prompts/system_v1.txt
	systemPromptV1 string
	//go:embed prompts/schema_v1.json
	schemaV1 []byte
)

// PromptVersion is recorded on every result so cached entries can be traced to the
// instruction that produced them.
const PromptVersion = "v1"

const userPrompt = "Extract the document attached to this message."

// SystemInstruction is the fixed instruction sent with every extraction call.
func SystemInstruction() string {
	return systemPromptV1 + string(schemaV1)
}

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func outputSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("schema_v1.json", bytes.NewReader(schemaV1)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("schema_v1.json")
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile schema: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// validateOutput checks a parsed extraction against the output schema.
func validateOutput(data map[string]any) error {
	schema, err := outputSchema()
	if err != nil {
		return err
	}
	// Round trip so numbers are float64 and nested values are plain JSON types.
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
