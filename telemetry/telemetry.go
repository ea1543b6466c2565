// Package telemetry defines logging, metrics, and tracing contracts shared by
// every kernel component. Components depend on these interfaces rather than a
// concrete backend so that ELog, MEM, REV, SCHED, HARN, ATD and COND can be
// exercised in tests with no-op implementations and run in production behind
// OpenTelemetry and clue/log.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger emits structured, context-scoped log messages. Implementations
	// must be safe for concurrent use.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters, timers, and gauges. Tag arguments are
	// alternating key/value string pairs appended to the metric name's labels.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, d time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer creates spans for tracing component operations.
	Tracer interface {
		// Start begins a new span as a child of the span in ctx, if any, and
		// returns the updated context plus the new span.
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
		// Span returns the current span in ctx, or a no-op span if none exists.
		Span(ctx context.Context) Span
	}

	// Span represents one unit of traced work.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, keyvals ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}

	// ToolTelemetry captures observability metadata gathered while a
	// capability worker executes a single tool call: duration, token usage
	// when the tool call went through a model, and the backing model/provider
	// identity when applicable.
	ToolTelemetry struct {
		// Duration is the wall-clock time spent executing the tool call.
		Duration time.Duration
		// Provider identifies the model provider used, if the tool call was
		// itself an agent-as-tool invocation. Empty for non-model tools.
		Provider string
		// Model identifies the specific model identifier used, if applicable.
		Model string
		// Usage carries token accounting for model-backed tool calls.
		Usage TokenUsage
	}

	// TokenUsage accounts for prompt/completion tokens consumed by a model call.
	TokenUsage struct {
		PromptTokens     int
		CompletionTokens int
		TotalTokens      int
	}
)
