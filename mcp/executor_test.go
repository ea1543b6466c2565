package mcp_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"choiros.io/kernel/harness/model"
	"choiros.io/kernel/mcp"
)

type stubCaller struct {
	lastReq mcp.CallRequest
	resp    mcp.CallResponse
	err     error
}

func (s *stubCaller) CallTool(ctx context.Context, req mcp.CallRequest) (mcp.CallResponse, error) {
	s.lastReq = req
	return s.resp, s.err
}

func TestExecute_DispatchesToConfiguredSuite(t *testing.T) {
	t.Parallel()

	caller := &stubCaller{resp: mcp.CallResponse{Result: json.RawMessage(`{"answer":42}`)}}
	exec := mcp.NewToolExecutor(caller, map[string]string{"web_search": "research"})

	part, err := exec.Execute(context.Background(), model.ToolCall{ID: "call-1", Name: "web_search", Payload: json.RawMessage(`{"query":"x"}`)})
	require.NoError(t, err)
	require.Equal(t, "call-1", part.ToolUseID)
	require.False(t, part.IsError)
	require.Equal(t, "research", caller.lastReq.Suite)
}

func TestExecute_RejectsToolWithNoConfiguredSuite(t *testing.T) {
	t.Parallel()

	exec := mcp.NewToolExecutor(&stubCaller{}, map[string]string{})
	_, err := exec.Execute(context.Background(), model.ToolCall{ID: "call-1", Name: "unknown_tool"})
	require.Error(t, err)
}

func TestExecute_RejectsPayloadFailingSchemaWithoutCallingCaller(t *testing.T) {
	t.Parallel()

	caller := &stubCaller{resp: mcp.CallResponse{Result: json.RawMessage(`{"answer":42}`)}}
	exec := mcp.NewToolExecutor(caller, map[string]string{"web_search": "research"})
	require.NoError(t, exec.SetPayloadSchema("web_search", json.RawMessage(`{
		"type": "object",
		"properties": {"query": {"type": "string"}},
		"required": ["query"]
	}`)))

	part, err := exec.Execute(context.Background(), model.ToolCall{ID: "call-1", Name: "web_search", Payload: json.RawMessage(`{"limit":5}`)})
	require.NoError(t, err)
	require.True(t, part.IsError)
	require.Empty(t, caller.lastReq.Tool, "caller must not be invoked once schema validation fails")
}

func TestExecute_AllowsPayloadSatisfyingSchema(t *testing.T) {
	t.Parallel()

	caller := &stubCaller{resp: mcp.CallResponse{Result: json.RawMessage(`{"answer":42}`)}}
	exec := mcp.NewToolExecutor(caller, map[string]string{"web_search": "research"})
	require.NoError(t, exec.SetPayloadSchema("web_search", json.RawMessage(`{
		"type": "object",
		"properties": {"query": {"type": "string"}},
		"required": ["query"]
	}`)))

	part, err := exec.Execute(context.Background(), model.ToolCall{ID: "call-1", Name: "web_search", Payload: json.RawMessage(`{"query":"x"}`)})
	require.NoError(t, err)
	require.False(t, part.IsError)
}

func TestSetPayloadSchema_RejectsMalformedSchema(t *testing.T) {
	t.Parallel()

	exec := mcp.NewToolExecutor(&stubCaller{}, map[string]string{"web_search": "research"})
	err := exec.SetPayloadSchema("web_search", json.RawMessage(`{"type": "not-a-real-type"}`))
	require.Error(t, err)
}
