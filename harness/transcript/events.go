package transcript

import "time"

// EventType identifies the kind of durable transcript event recorded for a
// harness step. These mirror the observation events an actor harness appends
// to the kernel event log while it runs, projected here into the shape
// BuildMessagesFromEvents needs to replay a transcript without depending on
// the event log's generic envelope.
type EventType string

const (
	EventAssistantMessage EventType = "assistant_message"
	EventToolCall         EventType = "tool_call"
	EventToolResult       EventType = "tool_result"
	EventPlannerNote      EventType = "planner_note"
	EventUserMessage      EventType = "user_message"
	EventThinking         EventType = "thinking"
)

// Event is a single durable transcript entry. Data carries type-specific
// fields (e.g. "message", "tool_call_id", "tool_name", "payload", "result",
// "error") as a plain map, matching how these events are decoded off the
// event log's JSON-encoded payload.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      any
}
