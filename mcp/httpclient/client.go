// Package httpclient implements mcp.Caller over JSON-RPC HTTP (tools/call).
//
// The request/response envelope follows the adjacent a2a/httpclient JSON-RPC
// client, narrowed to the MCP tools/call method; the content-item
// normalization that turns a tool's raw content list into
// mcp.CallResponse's Result/Structured split is grounded on
// features/mcp/runtime/rpc.go's normalizeToolResult, shared with
// mcp/stdioclient's stdio transport so both callers expose the same
// Result/Structured contract regardless of wire format.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"choiros.io/kernel/mcp"
)

type (
	// Option configures the Client.
	Option func(*Client)

	// Client implements mcp.Caller over JSON-RPC HTTP.
	Client struct {
		endpoint string
		http     *http.Client
		headers  http.Header
		id       uint64
	}

	rpcRequest struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
		ID      uint64 `json:"id"`
		Params  any    `json:"params,omitempty"`
	}

	rpcResponse struct {
		JSONRPC string          `json:"jsonrpc"`
		Result  json.RawMessage `json:"result"`
		Error   *rpcError       `json:"error"`
		ID      uint64          `json:"id"`
	}

	rpcError struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}

	toolsCallResult struct {
		Content []contentItem `json:"content"`
		IsError bool          `json:"isError"`
	}

	contentItem struct {
		Type     string  `json:"type"`
		Text     *string `json:"text"`
		MimeType *string `json:"mimeType"`
	}
)

func (c contentItem) text() string {
	if c.Text == nil {
		return ""
	}
	return *c.Text
}

// Error converts rpcError into a human-readable string.
func (e *rpcError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message)
}

func (e *rpcError) callerError() *mcp.Error {
	if e == nil {
		return nil
	}
	return &mcp.Error{Code: e.Code, Message: e.Message}
}

// WithHTTPClient overrides the underlying *http.Client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithHeader adds a static header to all outgoing requests.
func WithHeader(name, value string) Option {
	return func(cl *Client) {
		if cl.headers == nil {
			cl.headers = make(http.Header)
		}
		cl.headers.Add(name, value)
	}
}

// New constructs a Client pointed at the given MCP server's JSON-RPC
// endpoint.
func New(endpoint string, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("mcp/httpclient: endpoint is required")
	}
	cl := &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 30 * time.Second},
		headers:  make(http.Header),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cl)
		}
	}
	return cl, nil
}

var _ mcp.Caller = (*Client)(nil)

func (c *Client) nextID() uint64 {
	return atomic.AddUint64(&c.id, 1)
}

// CallTool invokes tools/call on the remote MCP endpoint.
func (c *Client) CallTool(ctx context.Context, req mcp.CallRequest) (mcp.CallResponse, error) {
	params := map[string]any{
		"suite":     req.Suite,
		"name":      req.Tool,
		"arguments": req.Payload,
	}
	rpcReq := rpcRequest{JSONRPC: "2.0", Method: "tools/call", ID: c.nextID(), Params: params}
	body, err := json.Marshal(rpcReq)
	if err != nil {
		return mcp.CallResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return mcp.CallResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, vs := range c.headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	mcp.InjectTraceHeaders(ctx, httpReq.Header)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return mcp.CallResponse{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return mcp.CallResponse{}, fmt.Errorf("mcp http status %d", resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return mcp.CallResponse{}, err
	}
	if rpcResp.Error != nil {
		return mcp.CallResponse{}, rpcResp.Error.callerError()
	}

	var result toolsCallResult
	if err := json.Unmarshal(rpcResp.Result, &result); err != nil {
		return mcp.CallResponse{}, err
	}
	return normalizeToolResult(result)
}

// normalizeToolResult turns the MCP content-item list the server returns
// into the Result/Structured split mcp.CallResponse exposes: Result is
// always a JSON value (the tool's text re-encoded as a JSON string if it
// wasn't already valid JSON), and Structured carries that same value (the
// text itself when the item is declared application/json).
func normalizeToolResult(result toolsCallResult) (mcp.CallResponse, error) {
	if len(result.Content) == 0 {
		return mcp.CallResponse{}, errors.New("mcp/httpclient: empty tool response")
	}
	item := result.Content[0]
	var payload, structured json.RawMessage
	if item.Text != nil {
		textBytes := []byte(*item.Text)
		if json.Valid(textBytes) {
			payload = append(json.RawMessage(nil), textBytes...)
		} else if marshaled, err := json.Marshal(*item.Text); err == nil {
			payload = marshaled
		} else {
			return mcp.CallResponse{}, err
		}
		if item.MimeType != nil && *item.MimeType == "application/json" && json.Valid(textBytes) {
			structured = append(json.RawMessage(nil), textBytes...)
		}
	}
	if len(payload) == 0 {
		text := item.text()
		if text == "" {
			return mcp.CallResponse{}, errors.New("mcp/httpclient: tool returned no content")
		}
		marshaled, err := json.Marshal(text)
		if err != nil {
			return mcp.CallResponse{}, err
		}
		payload = marshaled
	}
	if structured == nil && json.Valid(payload) {
		structured = append(json.RawMessage(nil), payload...)
	}
	return mcp.CallResponse{Result: payload, Structured: structured, IsError: result.IsError}, nil
}
