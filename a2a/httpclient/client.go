// Package httpclient implements a2a.Delegator over JSON-RPC HTTP, adapted
// from the teacher's tasks/send client but narrowed to the kernel's single
// delegate call.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"choiros.io/kernel/a2a"
	"choiros.io/kernel/a2a/retry"
)

type (
	// Option configures the Client.
	Option func(*Client)

	// Client implements a2a.Delegator over JSON-RPC HTTP.
	Client struct {
		endpoint string
		http     *http.Client
		headers  http.Header
		id       uint64
		retry    retry.Config
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
)

// Error converts rpcError into a human-readable string.
func (e *rpcError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("a2a error %d: %s", e.Code, e.Message)
}

func (e *rpcError) delegatorError() *a2a.Error {
	if e == nil {
		return nil
	}
	return &a2a.Error{Code: e.Code, Message: e.Message}
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

// WithBearerToken configures the client to send an Authorization Bearer token.
func WithBearerToken(token string) Option {
	return WithHeader("Authorization", "Bearer "+token)
}

// WithRetry overrides the retry configuration applied to delegate calls.
// The default is retry.DefaultConfig().
func WithRetry(cfg retry.Config) Option {
	return func(cl *Client) { cl.retry = cfg }
}

// New constructs a Client pointed at the given app agent's A2A JSON-RPC
// endpoint.
func New(endpoint string, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("a2a/httpclient: endpoint is required")
	}
	cl := &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 30 * time.Second},
		headers:  make(http.Header),
		retry:    retry.DefaultConfig(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cl)
		}
	}
	return cl, nil
}

var _ a2a.Delegator = (*Client)(nil)

func (c *Client) nextID() uint64 {
	return atomic.AddUint64(&c.id, 1)
}

// Delegate invokes the conductor/delegate method on the app agent's
// endpoint, retrying transient failures per c.retry.
func (c *Client) Delegate(ctx context.Context, req a2a.DelegateRequest) (a2a.DelegateResponse, error) {
	var resp a2a.DelegateResponse
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		r, err := c.delegateOnce(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	return resp, err
}

func (c *Client) delegateOnce(ctx context.Context, req a2a.DelegateRequest) (a2a.DelegateResponse, error) {
	rpcReq := rpcRequest{
		JSONRPC: "2.0",
		Method:  "conductor/delegate",
		ID:      c.nextID(),
		Params: map[string]any{
			"run_id":         req.RunID,
			"correlation_id": req.CorrelationID,
			"app_agent_id":   req.AppAgentID,
			"objective":      req.Objective,
			"payload":        req.Payload,
		},
	}
	body, err := json.Marshal(rpcReq)
	if err != nil {
		return a2a.DelegateResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return a2a.DelegateResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, vs := range c.headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return a2a.DelegateResponse{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return a2a.DelegateResponse{}, &retry.HTTPStatusError{StatusCode: resp.StatusCode, Message: c.endpoint}
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return a2a.DelegateResponse{}, err
	}
	if rpcResp.Error != nil {
		return a2a.DelegateResponse{}, rpcResp.Error.delegatorError()
	}

	var ack struct {
		Accepted bool   `json:"accepted"`
		Detail   string `json:"detail"`
	}
	if len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, &ack); err != nil {
			return a2a.DelegateResponse{}, err
		}
	}
	return a2a.DelegateResponse{Accepted: ack.Accepted, Detail: ack.Detail}, nil
}
