package validate

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/*.json
var schemaFS embed.FS

const (
	DesiredStateSchema = "desired-state.schema.json"
	ConfigSchema       = "config.schema.json"
)

// ValidateDesiredStateJSON checks a desired-state document, already converted
// to JSON, against the embedded schema.
func ValidateDesiredStateJSON(data []byte) error {
	return validateEmbedded(DesiredStateSchema, data)
}

// ValidateConfigJSON checks a global configuration, already converted to
// JSON, against the embedded schema.
func ValidateConfigJSON(data []byte) error {
	return validateEmbedded(ConfigSchema, data)
}

func validateEmbedded(name string, data []byte) error {
	schema, err := schemaFS.ReadFile("schema/" + name)
	if err != nil {
		return fmt.Errorf("loading schema %s: %w", name, err)
	}
	return ValidateAgainstSchema(name, schema, data, "")
}

// ValidateAgainstSchema compiles schema under name and validates data with it.
// A non-empty ref selects a sub-schema, e.g. "#/$defs/entry".
func ValidateAgainstSchema(name string, schema []byte, data []byte, ref string) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(schema)); err != nil {
		return fmt.Errorf("adding schema %s: %w", name, err)
	}
	sch, err := compiler.Compile(name + ref)
	if err != nil {
		return fmt.Errorf("compiling schema %s%s: %w", name, ref, err)
	}

	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("schema validation against %s failed: %w", name, err)
	}
	return nil
}
