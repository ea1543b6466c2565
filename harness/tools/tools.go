// Package tools defines the tool identifier type that the actor harness's
// capability policy checks against a capability's allowed_tool_names set
// (spec.md §4.5). A capability such as researcher, terminal, or the writer
// delegation surface advertises a fixed set of Idents; the harness rejects
// any tool_use whose Name falls outside that set, with one corrective retry
// before blocking the run.
package tools

// Ident names a single tool within a capability's allowed_tool_names set,
// for example "web_search", "bash", or "draft_document". Provider adapters
// and the harness step loop key policy checks, MCP suite resolution, and
// transcript encoding on this type instead of bare strings so a typo in a
// tool name can't silently widen what a capability is allowed to invoke.
type Ident string

// String returns the tool identifier as plain text for logging and
// provider wire encoding.
func (i Ident) String() string { return string(i) }

// Unavailable is substituted for a tool_use whose Name the model emitted
// but that was not advertised in the request's tool definitions (for
// example a hallucinated name, or a name outside the capability's
// allowed_tool_names). Encoding it as a real tool_use keeps the
// tool_use/tool_result pairing required by chat-completion wire formats
// intact; the harness's policy check still rejects the underlying action
// on the next step.
const Unavailable Ident = "tool_unavailable"
