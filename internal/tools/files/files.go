package files

import (
	"github.com/haasonsaas/vibe/internal/tools"
)

// VibeDir is the one dot-directory search_file descends into. It is the
// kernel's conventional scratch space inside a workspace.
const VibeDir = ".vibe"

// Config scopes the file tools to a workspace.
type Config struct {
	// Workspace is the root every path is resolved against. Defaults to
	// the process working directory.
	Workspace string
}

// All returns the four bundled file tools scoped to cfg.
func All(cfg Config) []tools.Tool {
	return []tools.Tool{
		NewReadTool(cfg),
		NewWriteTool(cfg),
		NewListTool(cfg),
		NewSearchTool(cfg),
	}
}

// stringParam fetches a string parameter, tolerating absence. Parameter
// types are enforced by schema validation before execution.
func stringParam(params map[string]any, key string) string {
	v, _ := params[key].(string)
	return v
}

// boolParam fetches a boolean parameter, tolerating absence.
func boolParam(params map[string]any, key string) bool {
	v, _ := params[key].(bool)
	return v
}
