// Package retry builds repair prompts for MCP tool calls the harness's
// capability model issued with invalid parameters. This is distinct from the
// harness step loop's own one-retry tool-contract correction (a disallowed
// tool name): this retry concerns a permitted tool called with a payload the
// MCP server itself rejected as invalid, surfaced so the model can be asked
// to redo the call with corrected parameters.
package retry

import "fmt"

// promptTemplate is the canonical format for repair prompts consumed by the
// model. The schema (when provided) is injected above the Error line. The
// model must return only the corrected params JSON, which is used to retry
// the tool call.
const promptTemplate = `
Tool: %s
%sError: %s
Redo the tool call now with valid parameters.
Use only valid schema fields and ensure required fields and types/enums are valid.
Example params: %s`

// RetryableError is returned when an MCP server reports invalid tool
// parameters and a structured repair prompt is available. Typical flow:
//  1. Present Prompt to the model via the transcript
//  2. Capture the JSON-only corrected params
//  3. Decode into the tool's payload type
//  4. Retry the same tool call
type RetryableError struct {
	Prompt string
	Cause  error
}

// Error returns the error message.
func (e *RetryableError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause == nil {
		return e.Prompt
	}
	return fmt.Sprintf("%s: %v", e.Prompt, e.Cause)
}

// BuildRepairPrompt constructs a deterministic, compact repair instruction.
// schema is an optional compact JSON schema excerpt; exampleJSON is a minimal
// valid example of the params payload.
func BuildRepairPrompt(tool string, errMsg string, exampleJSON string, schema string) string {
	schemaPart := ""
	if schema != "" {
		schemaPart = "Schema: " + schema + "\n"
	}
	return fmt.Sprintf(promptTemplate, tool, schemaPart, errMsg, exampleJSON)
}
