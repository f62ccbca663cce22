package kerneltools

import (
	"context"

	"github.com/haasonsaas/vibe/internal/task"
	"github.com/haasonsaas/vibe/internal/tools"
)

// DelegateTool submits a new task through the kernel on behalf of the
// calling agent. The delegated task joins the tail of the queue; it does
// not run inside the current tick.
type DelegateTool struct {
	tools.BaseTool
	kernelRef
}

// NewDelegateTool creates an unbound delegate_task tool. Bind must be
// called before the first execution.
func NewDelegateTool() *DelegateTool {
	return &DelegateTool{
		BaseTool: tools.NewBase(
			"delegate_task",
			"Submit a new task to another agent. The task is queued and runs after the current one.",
			map[string]tools.ParamSpec{
				"agent_id": {Type: "string", Required: true, Description: "Id of the agent to delegate to."},
				"payload":  {Type: "object", Required: true, Description: "Task payload. Use {\"user_message\": \"...\"} for the standard delegation shape."},
			},
		),
	}
}

// Execute implements tools.Tool. Unknown agents, malformed delegation
// payloads and an unbound kernel all come back as failed results.
func (t *DelegateTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	k := t.kernel()
	if k == nil {
		return tools.Failf("delegate_task is not bound to a kernel"), nil
	}

	agentID, _ := params["agent_id"].(string)
	payload, _ := params["payload"].(map[string]any)

	if task.DeclaresDelegation(payload) {
		if _, err := task.DecodeDelegationPayload(payload); err != nil {
			return tools.Failf("invalid delegation payload: %v", err), nil
		}
	}

	id, err := k.Submit(task.New(agentID, payload))
	if err != nil {
		return tools.Failf("delegate to %s: %v", agentID, err), nil
	}

	return tools.Succeed(map[string]any{
		"task_id":  id,
		"agent_id": agentID,
	}), nil
}
