// Package agent defines the contract between the kernel and the agents
// it dispatches tasks to: the Agent interface and the Response every
// processing hook returns.
package agent

import (
	"context"

	"github.com/haasonsaas/vibe/internal/task"
	"github.com/haasonsaas/vibe/internal/tools"
)

// Agent is a named, registered entity the kernel dispatches tasks to.
// Implementations are opaque to the kernel: planners, coders, testers
// and orchestrators all plug in through this one interface.
type Agent interface {
	// ID returns the agent's stable identifier. Registration keys on it;
	// two agents with the same id cannot coexist in one kernel.
	ID() string

	// Capabilities returns the agent's declared capability names. The
	// identity registry indexes them for discovery; the kernel attaches
	// no semantics to the strings themselves.
	Capabilities() []string

	// Process handles one task. A returned error marks the task failed
	// in the ledger and propagates to the tick caller unchanged. A
	// Response with a populated ToolCall asks the kernel to execute the
	// invocation through the tool registry within the same tick.
	Process(ctx context.Context, t *task.Task) (*Response, error)
}

// Response is the typed result of a processing hook.
type Response struct {
	// Success reports whether the agent handled the task as intended.
	// A blocked or failed tool call does not force Success false; the
	// agent decides how to report it.
	Success bool `json:"success"`

	// Output carries the agent's structured output.
	Output map[string]any `json:"output,omitempty"`

	// Error describes what went wrong when Success is false.
	Error string `json:"error,omitempty"`

	// ToolCall is the invocation the agent wants executed. The kernel
	// runs it through the registry and fills ToolResult before the
	// response reaches the ledger.
	ToolCall *tools.Invocation `json:"tool_call,omitempty"`

	// ToolResult is the outcome of ToolCall, filled by the kernel, or by
	// the agent itself when it drove the registry directly.
	ToolResult *tools.Result `json:"tool_result,omitempty"`

	// AgentID is the id of the agent that produced the response.
	AgentID string `json:"agent_id,omitempty"`

	// TaskID is the id of the task the response answers.
	TaskID string `json:"task_id,omitempty"`
}

// AsMap renders the response in the canonical form the ledger stores.
func (r *Response) AsMap() map[string]any {
	if r == nil {
		return nil
	}
	m := map[string]any{"success": r.Success}
	if r.Output != nil {
		m["output"] = r.Output
	}
	if r.Error != "" {
		m["error"] = r.Error
	}
	if r.ToolCall != nil {
		m["tool_call"] = map[string]any{
			"tool":       r.ToolCall.Tool,
			"parameters": r.ToolCall.Parameters,
		}
	}
	if r.ToolResult != nil {
		m["tool_result"] = r.ToolResult.AsMap()
	}
	if r.AgentID != "" {
		m["agent_id"] = r.AgentID
	}
	if r.TaskID != "" {
		m["task_id"] = r.TaskID
	}
	return m
}

// Func adapts a plain function into an Agent. Test doubles and small
// inline agents use it instead of declaring a struct.
type Func struct {
	AgentID   string
	AgentCaps []string
	Handler   func(ctx context.Context, t *task.Task) (*Response, error)
}

// ID implements Agent.
func (f *Func) ID() string { return f.AgentID }

// Capabilities implements Agent.
func (f *Func) Capabilities() []string { return f.AgentCaps }

// Process implements Agent.
func (f *Func) Process(ctx context.Context, t *task.Task) (*Response, error) {
	return f.Handler(ctx, t)
}
