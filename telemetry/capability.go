package telemetry

import (
	"context"
	"time"
)

type (
	// capabilityLogger decorates a Logger so every call is automatically
	// tagged with the actor harness capability that owns it (e.g.
	// "researcher", "terminal", "conductor"), without every harness call
	// site having to pass "capability", cap itself.
	capabilityLogger struct {
		inner      Logger
		capability string
	}

	// capabilityMetrics decorates a Metrics recorder the same way, appending
	// a "capability" tag to every counter/timer/gauge it records.
	capabilityMetrics struct {
		inner      Metrics
		capability string
	}
)

// NewCapabilityLogger wraps inner so every log line is tagged with
// capability. A Harness constructs one of these for its own Logger field so
// ELog/ATD/SCHED events and log lines for the same run can be correlated by
// capability without threading it through every call.
func NewCapabilityLogger(inner Logger, capability string) Logger {
	if inner == nil {
		inner = NoopLogger{}
	}
	return capabilityLogger{inner: inner, capability: capability}
}

// NewCapabilityMetrics wraps inner the same way for Metrics.
func NewCapabilityMetrics(inner Metrics, capability string) Metrics {
	if inner == nil {
		inner = NoopMetrics{}
	}
	return capabilityMetrics{inner: inner, capability: capability}
}

func (l capabilityLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	l.inner.Debug(ctx, msg, l.tag(keyvals)...)
}

func (l capabilityLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	l.inner.Info(ctx, msg, l.tag(keyvals)...)
}

func (l capabilityLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	l.inner.Warn(ctx, msg, l.tag(keyvals)...)
}

func (l capabilityLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	l.inner.Error(ctx, msg, l.tag(keyvals)...)
}

func (l capabilityLogger) tag(keyvals []any) []any {
	if l.capability == "" {
		return keyvals
	}
	return append(append([]any(nil), keyvals...), "capability", l.capability)
}

func (m capabilityMetrics) IncCounter(name string, value float64, tags ...string) {
	m.inner.IncCounter(name, value, m.tag(tags)...)
}

func (m capabilityMetrics) RecordTimer(name string, d time.Duration, tags ...string) {
	m.inner.RecordTimer(name, d, m.tag(tags)...)
}

func (m capabilityMetrics) RecordGauge(name string, value float64, tags ...string) {
	m.inner.RecordGauge(name, value, m.tag(tags)...)
}

func (m capabilityMetrics) tag(tags []string) []string {
	if m.capability == "" {
		return tags
	}
	return append(append([]string(nil), tags...), "capability", m.capability)
}
