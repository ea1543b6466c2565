package mcp

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// InjectTraceHeaders propagates the current trace context onto outgoing MCP
// HTTP headers, so a tool call's trace_id/span_id survive the hop to the
// MCP server, per spec.md §6's trace-context carry-through requirement.
func InjectTraceHeaders(ctx context.Context, header http.Header) {
	if ctx == nil || header == nil {
		return
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(header))
}

// TraceMeta returns the current trace context as a flat string map suitable
// for a JSON-RPC request's "_meta" field, for transports that cannot carry
// HTTP headers (e.g. stdio).
func TraceMeta(ctx context.Context) map[string]string {
	if ctx == nil {
		return nil
	}
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) == 0 {
		return nil
	}
	meta := make(map[string]string, len(carrier))
	for k, v := range carrier {
		meta[k] = v
	}
	return meta
}
