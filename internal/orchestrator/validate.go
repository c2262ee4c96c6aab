package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/lucentlabs/ferry/internal/ferrors"
)

// validateInput checks arguments against tool's published input_schema. A
// tool with no schema, or an empty schema object, accepts anything.
func validateInput(toolName string, schema json.RawMessage, arguments json.RawMessage) *ferrors.Error {
	if len(bytes.TrimSpace(schema)) == 0 || string(bytes.TrimSpace(schema)) == "{}" {
		return nil
	}

	compiler := jsonschema.NewCompiler()
	const resourceName = "schema.json"
	if err := compiler.AddResource(resourceName, bytes.NewReader(schema)); err != nil {
		return ferrors.Validation("tool %q has a malformed input schema: %v", toolName, err)
	}
	compiled, err := compiler.Compile(resourceName)
	if err != nil {
		return ferrors.Validation("tool %q has a malformed input schema: %v", toolName, err)
	}

	var doc any
	if len(bytes.TrimSpace(arguments)) == 0 {
		doc = map[string]any{}
	} else if err := json.Unmarshal(arguments, &doc); err != nil {
		return ferrors.Validation("tool %q arguments are not valid JSON: %v", toolName, err)
	}

	if err := compiled.Validate(doc); err != nil {
		return ferrors.Validation("tool %q input rejected by its schema: %v", toolName, summarizeValidationError(err))
	}
	return nil
}

func summarizeValidationError(err error) string {
	if verr, ok := err.(*jsonschema.ValidationError); ok {
		if len(verr.Causes) > 0 {
			return fmt.Sprintf("%s", verr.Causes[0])
		}
		return verr.Message
	}
	return err.Error()
}
