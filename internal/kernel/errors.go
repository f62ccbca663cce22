package kernel

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotRunning is returned by operations that require a booted kernel.
var ErrNotRunning = errors.New("kernel is not running")

// UnknownAgentError reports a task addressed to an agent id the runtime
// registry does not hold. It carries the registered ids so the submitter
// can see what was available at rejection time.
type UnknownAgentError struct {
	AgentID   string
	Available []string
}

// Error implements error.
func (e *UnknownAgentError) Error() string {
	available := "none"
	if len(e.Available) > 0 {
		available = strings.Join(e.Available, ", ")
	}
	return fmt.Sprintf("unknown agent %q (available: %s)", e.AgentID, available)
}

// AgentInactiveError reports a task addressed to a registered agent
// whose manifest does not permit dispatch on a running kernel.
type AgentInactiveError struct {
	AgentID string

	// Status is the manifest's status flag, or "unissued" when the
	// agent was registered after the last boot and has no manifest yet.
	Status string
}

// Error implements error.
func (e *AgentInactiveError) Error() string {
	return fmt.Sprintf("agent %q is not dispatchable (manifest status: %s)", e.AgentID, e.Status)
}

// manifestUnissued is the AgentInactiveError status for agents without
// a generated manifest.
const manifestUnissued = "unissued"
