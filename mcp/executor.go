package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"choiros.io/kernel/harness/model"
)

// ToolExecutor adapts an mcp.Caller to harness.ToolExecutor, so the actor
// harness's step loop can run a capability's tool calls over MCP without
// knowing about the protocol itself. Suite resolves a tool name to its MCP
// toolset; tools with no configured suite are rejected rather than silently
// dispatched to an arbitrary default.
type ToolExecutor struct {
	caller  Caller
	suites  map[string]string             // tool name -> suite
	schemas map[string]*jsonschema.Schema // tool name -> compiled payload schema
}

// NewToolExecutor builds a ToolExecutor. suites maps each allowed tool name
// to the MCP suite (server) that serves it.
func NewToolExecutor(caller Caller, suites map[string]string) *ToolExecutor {
	return &ToolExecutor{caller: caller, suites: suites}
}

// SetPayloadSchema compiles schemaJSON as a JSON Schema and has Execute
// validate every call to tool against it before the call ever reaches the
// MCP server. A capability that passes a model-hallucinated field or omits a
// required one fails locally instead of round-tripping to a remote tool
// process first. Call once per tool during setup; returns the compile error
// so a malformed schema fails at wiring time, not on the first tool call.
func (e *ToolExecutor) SetPayloadSchema(tool string, schemaJSON json.RawMessage) error {
	var doc any
	if err := json.Unmarshal(schemaJSON, &doc); err != nil {
		return fmt.Errorf("mcp: unmarshal schema for tool %q: %w", tool, err)
	}
	c := jsonschema.NewCompiler()
	resource := tool + ".schema.json"
	if err := c.AddResource(resource, doc); err != nil {
		return fmt.Errorf("mcp: add schema resource for tool %q: %w", tool, err)
	}
	schema, err := c.Compile(resource)
	if err != nil {
		return fmt.Errorf("mcp: compile schema for tool %q: %w", tool, err)
	}
	if e.schemas == nil {
		e.schemas = make(map[string]*jsonschema.Schema)
	}
	e.schemas[tool] = schema
	return nil
}

// Execute implements harness.ToolExecutor.
func (e *ToolExecutor) Execute(ctx context.Context, call model.ToolCall) (model.ToolResultPart, error) {
	suite, ok := e.suites[string(call.Name)]
	if !ok {
		return model.ToolResultPart{}, fmt.Errorf("mcp: no suite configured for tool %q", call.Name)
	}

	if schema, ok := e.schemas[string(call.Name)]; ok {
		if err := validatePayload(schema, call.Payload); err != nil {
			return model.ToolResultPart{ToolUseID: call.ID, Content: fmt.Sprintf("invalid arguments: %s", err), IsError: true}, nil
		}
	}

	resp, err := e.caller.CallTool(ctx, CallRequest{Suite: suite, Tool: string(call.Name), Payload: call.Payload})
	if err != nil {
		return model.ToolResultPart{ToolUseID: call.ID, Content: err.Error(), IsError: true}, nil
	}

	var content any
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &content); err != nil {
			content = string(resp.Result)
		}
	}
	return model.ToolResultPart{ToolUseID: call.ID, Content: content, IsError: resp.IsError}, nil
}

// validatePayload unmarshals payload into the any-typed form jsonschema/v6
// validates against; an empty payload validates against the schema as an
// empty object rather than being skipped, since most tool schemas require at
// least one property.
func validatePayload(schema *jsonschema.Schema, payload json.RawMessage) error {
	var doc any = map[string]any{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &doc); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	return schema.Validate(doc)
}
