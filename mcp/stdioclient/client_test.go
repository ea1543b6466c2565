package stdioclient_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"choiros.io/kernel/mcp"
	"choiros.io/kernel/mcp/stdioclient"
)

const stdioHelperEnv = "CHOIROS_MCP_STDIO_HELPER"

// TestCallTool_SpeaksStdioFraming re-execs this test binary as a fake MCP
// server (TestStdioHelper below) so the transport is exercised end to end:
// initialize handshake, Content-Length framing, and a real child process.
func TestCallTool_SpeaksStdioFraming(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, err := stdioclient.New(ctx, stdioclient.Options{
		Command:     os.Args[0],
		Args:        []string{"-test.run=TestStdioHelper", "--"},
		Env:         []string{stdioHelperEnv + "=1"},
		InitTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	resp, err := client.CallTool(ctx, mcp.CallRequest{
		Suite:   "writer_suite",
		Tool:    "draft_document",
		Payload: json.RawMessage(`{"subject":"quarterly-report"}`),
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"draft":"ok"}`, string(resp.Result))
	require.JSONEq(t, `{"draft":"ok"}`, string(resp.Structured))
	require.False(t, resp.IsError)
}

func TestStdioHelper(t *testing.T) {
	if os.Getenv(stdioHelperEnv) != "1" {
		t.Skip("helper process")
	}
	runStdioHelper()
}

// runStdioHelper plays a minimal MCP stdio server: it answers initialize
// and one tools/call, then exits.
func runStdioHelper() {
	reader := bufio.NewReader(os.Stdin)
	writer := bufio.NewWriter(os.Stdout)
	for {
		frame, err := readHelperFrame(reader)
		if err != nil {
			break
		}
		var req helperRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			continue
		}
		switch req.Method {
		case "initialize":
			writeHelperFrame(writer, helperResponse{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{"capabilities":{}}`)})
		case "tools/call":
			result := json.RawMessage(`{"content":[{"type":"text","text":"{\"draft\":\"ok\"}","mimeType":"application/json"}],"isError":false}`)
			writeHelperFrame(writer, helperResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
		default:
			writeHelperFrame(writer, helperResponse{JSONRPC: "2.0", ID: req.ID, Error: &helperError{Code: -32601, Message: "unknown method"}})
		}
	}
	_ = writer.Flush()
	os.Exit(0)
}

type helperRequest struct {
	Method string `json:"method"`
	ID     uint64 `json:"id"`
}

type helperResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *helperError    `json:"error,omitempty"`
	ID      uint64          `json:"id"`
}

type helperError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func readHelperFrame(reader *bufio.Reader) ([]byte, error) {
	length := -1
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			if length < 0 {
				continue
			}
			break
		}
		if after, ok := strings.CutPrefix(strings.ToLower(trimmed), "content-length:"); ok {
			n, err := strconv.Atoi(strings.TrimSpace(after))
			if err != nil {
				return nil, err
			}
			length = n
		}
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeHelperFrame(writer *bufio.Writer, resp helperResponse) {
	data, _ := json.Marshal(resp)
	_, _ = fmt.Fprintf(writer, "Content-Length: %d\r\n\r\n", len(data))
	_, _ = writer.Write(data)
	_ = writer.Flush()
}
