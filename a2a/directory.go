package a2a

import "fmt"

// Directory resolves an app agent id to the Delegator that can reach it.
// It is a narrowed stand-in for the teacher's registry-backed AgentCard
// discovery (runtime/a2a/registry.go): that file validates AgentCards
// against a ProviderConfig pulled from a design-time registry service this
// kernel has no equivalent of, so Directory keeps only the concept —
// look up a known app agent by id — without the registry/runtime
// dependency.
type Directory struct {
	delegators map[string]Delegator
}

// NewDirectory builds a Directory from a static app_agent_id -> Delegator
// map, e.g. one httpclient.Client per known app agent endpoint.
func NewDirectory(delegators map[string]Delegator) *Directory {
	return &Directory{delegators: delegators}
}

// ErrUnknownAppAgent is returned when Resolve is asked for an app agent id
// the Directory has no Delegator for.
type ErrUnknownAppAgent struct {
	AppAgentID string
}

func (e *ErrUnknownAppAgent) Error() string {
	return fmt.Sprintf("a2a: no delegator registered for app agent %q", e.AppAgentID)
}

// Resolve returns the Delegator for appAgentID.
func (d *Directory) Resolve(appAgentID string) (Delegator, error) {
	del, ok := d.delegators[appAgentID]
	if !ok {
		return nil, &ErrUnknownAppAgent{AppAgentID: appAgentID}
	}
	return del, nil
}
