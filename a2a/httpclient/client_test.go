package httpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"choiros.io/kernel/a2a"
)

func TestDelegate_SendsRunAndObjective(t *testing.T) {
	var captured rpcRequest

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		defer func() { _ = r.Body.Close() }()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		require.Equal(t, "conductor/delegate", captured.Method)

		resp := rpcResponse{JSONRPC: "2.0", Result: json.RawMessage(`{"accepted":true,"detail":"ok"}`), ID: captured.ID}
		require.NoError(t, json.NewEncoder(w).Encode(&resp))
	})

	server := httptest.NewServer(handler)
	defer server.Close()

	client, err := New(server.URL)
	require.NoError(t, err)

	resp, err := client.Delegate(context.Background(), a2a.DelegateRequest{
		RunID:      "run-1",
		AppAgentID: "app-1",
		Objective:  "draft the doc",
	})
	require.NoError(t, err)
	require.True(t, resp.Accepted)
	require.Equal(t, "ok", resp.Detail)

	params := captured.Params.(map[string]any)
	require.Equal(t, "run-1", params["run_id"])
	require.Equal(t, "app-1", params["app_agent_id"])
	require.Equal(t, "draft the doc", params["objective"])
}

func TestDelegate_PropagatesRPCError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: a2a.JSONRPCInvalidParams, Message: "bad objective"}, ID: req.ID}
		require.NoError(t, json.NewEncoder(w).Encode(&resp))
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	client, err := New(server.URL)
	require.NoError(t, err)

	_, err = client.Delegate(context.Background(), a2a.DelegateRequest{RunID: "run-1", AppAgentID: "app-1", Objective: "x"})
	require.Error(t, err)
	var rpcErr *a2a.Error
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, a2a.JSONRPCInvalidParams, rpcErr.Code)
}
