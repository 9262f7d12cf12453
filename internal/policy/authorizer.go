package policy

import (
	"log/slog"

	"github.com/nextlevelbuilder/sessiond/internal/faults"
)

// Decision is the outcome of an (agent, tool) authorization check. The
// policy is returned alongside so the executor can read guardrails without
// a second load.
type Decision struct {
	Allowed bool
	Error   *faults.Error
	Policy  Policy
}

// Authorizer decides allow/deny for tool invocations from the policy store.
type Authorizer struct {
	store *Store
}

// NewAuthorizer wraps a policy store.
func NewAuthorizer(store *Store) *Authorizer {
	return &Authorizer{store: store}
}

// Authorize loads the agent's policy and resolves the decision for toolID.
func (a *Authorizer) Authorize(agentID, toolID string) (Decision, error) {
	p, err := a.store.Load(agentID)
	if err != nil {
		return Decision{}, err
	}
	if !p.Allows(toolID) {
		slog.Warn("security.tool_forbidden", "agent", agentID, "tool", toolID)
		return Decision{
			Allowed: false,
			Error:   faults.New(faults.ToolForbidden, "tool %q is not allowed for agent %q", toolID, agentID),
			Policy:  p,
		}, nil
	}
	return Decision{Allowed: true, Policy: p}, nil
}
