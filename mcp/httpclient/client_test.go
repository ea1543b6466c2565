package httpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"choiros.io/kernel/mcp"
)

func TestCallTool_SendsSuiteAndToolName(t *testing.T) {
	var captured rpcRequest

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() { _ = r.Body.Close() }()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		require.Equal(t, "tools/call", captured.Method)

		result := json.RawMessage(`{"content":[{"type":"text","text":"{\"ok\":true}","mimeType":"application/json"}]}`)
		resp := rpcResponse{JSONRPC: "2.0", Result: result, ID: captured.ID}
		require.NoError(t, json.NewEncoder(w).Encode(&resp))
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	client, err := New(server.URL)
	require.NoError(t, err)

	resp, err := client.CallTool(context.Background(), mcp.CallRequest{
		Suite:   "research",
		Tool:    "web_search",
		Payload: json.RawMessage(`{"query":"go generics"}`),
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(resp.Result))
	require.JSONEq(t, `{"ok":true}`, string(resp.Structured))

	params := captured.Params.(map[string]any)
	require.Equal(t, "research", params["suite"])
	require.Equal(t, "web_search", params["name"])
}

func TestCallTool_PropagatesInvalidParamsError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: mcp.JSONRPCInvalidParams, Message: "missing query"}, ID: req.ID}
		require.NoError(t, json.NewEncoder(w).Encode(&resp))
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	client, err := New(server.URL)
	require.NoError(t, err)

	_, err = client.CallTool(context.Background(), mcp.CallRequest{Suite: "research", Tool: "web_search", Payload: json.RawMessage(`{}`)})
	require.Error(t, err)
	var mcpErr *mcp.Error
	require.ErrorAs(t, err, &mcpErr)
	require.Equal(t, mcp.JSONRPCInvalidParams, mcpErr.Code)
}
