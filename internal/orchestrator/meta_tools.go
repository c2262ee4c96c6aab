package orchestrator

import (
	"encoding/json"

	"github.com/invopop/jsonschema"

	"github.com/lucentlabs/ferry/pkg/models"
)

// Names of the two meta-tools spec.md §4.7 exposes to the LM. These are the
// only tools the LM sees directly; everything in the catalog is reached
// through executeCodeTool.
const (
	executeCodeTool        = "execute_code"
	getToolDefinitionsTool = "get_tool_definitions"
)

// executeCodeInput is execute_code's input shape.
type executeCodeInput struct {
	Code string `json:"code" jsonschema:"required,description=JavaScript source to run inside the sandbox. Call catalog tools as async functions by name and return a value."`
}

// getToolDefinitionsInput is get_tool_definitions' input shape.
type getToolDefinitionsInput struct {
	ToolNames []string `json:"tool_names" jsonschema:"required,description=Catalog tool names to fetch input schemas for."`
}

// metaToolDefinitions returns the two meta-tools the LM is shown, with input
// schemas generated from Go structs rather than hand-written JSON literals.
func metaToolDefinitions() []models.ToolDefinition {
	return []models.ToolDefinition{
		{
			Name:        executeCodeTool,
			Description: "Run a short JavaScript snippet in an isolated sandbox that can call catalog tools by name and return a result.",
			InputSchema: reflectSchema(&executeCodeInput{}),
		},
		{
			Name:        getToolDefinitionsTool,
			Description: "Fetch the input_schema for one or more catalog tool names, by name.",
			InputSchema: reflectSchema(&getToolDefinitionsInput{}),
		},
	}
}

var schemaReflector = &jsonschema.Reflector{
	ExpandedStruct: true,
	DoNotReference: true,
}

func reflectSchema(v any) json.RawMessage {
	schema := schemaReflector.Reflect(v)
	b, err := json.Marshal(schema)
	if err != nil {
		// Reflection over a fixed, package-local struct; a marshal failure
		// here is a programming error, not a runtime condition to recover from.
		panic(err)
	}
	return b
}
