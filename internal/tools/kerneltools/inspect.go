package kerneltools

import (
	"context"

	"github.com/haasonsaas/vibe/internal/tools"
)

// StatusNotFound is the status inspect_result reports for a task id the
// ledger has never seen. The lookup itself succeeded, so the result is
// still a success.
const StatusNotFound = "NOT_FOUND"

// InspectTool reads a task's ledger record so agents can act on the
// results of work they delegated.
type InspectTool struct {
	tools.BaseTool
	kernelRef
}

// NewInspectTool creates an unbound inspect_result tool. Bind must be
// called before the first execution.
func NewInspectTool() *InspectTool {
	return &InspectTool{
		BaseTool: tools.NewBase(
			"inspect_result",
			"Look up the recorded status and output of a previously submitted task.",
			map[string]tools.ParamSpec{
				"task_id":       {Type: "string", Required: true, Description: "Id of the task to inspect."},
				"include_input": {Type: "boolean", Description: "Also return the task's input payload. Off by default."},
			},
		),
	}
}

// Execute implements tools.Tool.
func (t *InspectTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	k := t.kernel()
	if k == nil {
		return tools.Failf("inspect_result is not bound to a kernel"), nil
	}

	taskID, _ := params["task_id"].(string)
	rec, err := k.GetTaskResult(ctx, taskID)
	if err != nil {
		return tools.Failf("inspect %s: %v", taskID, err), nil
	}
	if rec == nil {
		return tools.Succeed(map[string]any{"status": StatusNotFound}), nil
	}

	out := map[string]any{
		"status":    string(rec.Status),
		"timestamp": rec.Timestamp,
	}
	if rec.OutputResult != nil {
		out["output"] = rec.OutputResult
	}
	if rec.ErrorMessage != "" {
		out["error"] = rec.ErrorMessage
	}
	if include, _ := params["include_input"].(bool); include {
		out["input_payload"] = rec.InputPayload
	}
	return tools.Succeed(out), nil
}
