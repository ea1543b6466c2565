package anthropic

import (
	"context"
	"sync"
	"testing"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"choiros.io/kernel/harness/model"
)

// recordingMetrics captures IncCounter/RecordTimer/RecordGauge calls so tests
// can assert on the capability tag threaded through them.
type recordingMetrics struct {
	mu       sync.Mutex
	counters []recordedMetric
	gauges   []recordedMetric
}

type recordedMetric struct {
	name  string
	value float64
	tags  []string
}

func (m *recordingMetrics) IncCounter(name string, value float64, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, recordedMetric{name: name, value: value, tags: append([]string(nil), tags...)})
}

func (m *recordingMetrics) RecordTimer(string, time.Duration, ...string) {}

func (m *recordingMetrics) RecordGauge(name string, value float64, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges = append(m.gauges, recordedMetric{name: name, value: value, tags: append([]string(nil), tags...)})
}

func (m *recordingMetrics) hasTag(metrics []recordedMetric, key, value string) bool {
	for _, rec := range metrics {
		for i := 0; i+1 < len(rec.tags); i += 2 {
			if rec.tags[i] == key && rec.tags[i+1] == value {
				return true
			}
		}
	}
	return false
}

func TestResolveModelID_PrefersCapabilityOverClass(t *testing.T) {
	stub := &stubMessagesClient{}
	cl, err := New(stub, Options{
		DefaultModel: "claude-default",
		HighModel:    "claude-high",
		ModelByCapability: map[string]string{
			"researcher": "claude-researcher",
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got := cl.resolveModelID(&model.Request{Capability: "researcher", ModelClass: model.ModelClassHighReasoning})
	if got != "claude-researcher" {
		t.Fatalf("expected capability override, got %q", got)
	}

	got = cl.resolveModelID(&model.Request{Capability: "terminal", ModelClass: model.ModelClassHighReasoning})
	if got != "claude-high" {
		t.Fatalf("expected high model fallback, got %q", got)
	}

	got = cl.resolveModelID(&model.Request{})
	if got != "claude-default" {
		t.Fatalf("expected default model fallback, got %q", got)
	}
}

func TestComplete_RecordsCapabilityTaggedMetrics(t *testing.T) {
	stub := &stubMessagesClient{}
	metrics := &recordingMetrics{}
	cl, err := New(stub, Options{DefaultModel: "claude-default", MaxTokens: 64, Metrics: metrics})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	stub.resp = &sdk.Message{
		Content:    []sdk.ContentBlockUnion{{Type: "text", Text: "ok"}},
		StopReason: sdk.StopReasonEndTurn,
		Usage:      sdk.Usage{InputTokens: 3, OutputTokens: 2},
	}

	req := &model.Request{
		Capability: "researcher",
		Messages: []*model.Message{{
			Role:  model.ConversationRoleUser,
			Parts: []model.Part{model.TextPart{Text: "hi"}},
		}},
	}

	if _, err := cl.Complete(context.Background(), req); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if !metrics.hasTag(metrics.counters, "capability", "researcher") {
		t.Fatalf("expected a counter tagged capability=researcher, got %+v", metrics.counters)
	}
	if !metrics.hasTag(metrics.gauges, "capability", "researcher") {
		t.Fatalf("expected a token gauge tagged capability=researcher, got %+v", metrics.gauges)
	}
}
