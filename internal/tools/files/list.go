package files

import (
	"context"
	"fmt"
	"os"

	"github.com/haasonsaas/vibe/internal/tools"
)

// ListTool lists a workspace directory.
type ListTool struct {
	tools.BaseTool
	resolver Resolver
}

// NewListTool creates the list_directory tool scoped to the workspace.
func NewListTool(cfg Config) *ListTool {
	return &ListTool{
		BaseTool: tools.NewBase(
			"list_directory",
			"List a workspace directory as sorted [DIR] and [FILE] entries.",
			map[string]tools.ParamSpec{
				"path": {Type: "string", Description: "Directory to list, relative to the workspace root. Defaults to the root itself."},
			},
		),
		resolver: Resolver{Root: cfg.Workspace},
	}
}

// Execute implements tools.Tool. Paths outside the workspace are
// rejected as failed results.
func (t *ListTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	path := stringParam(params, "path")
	if path == "" {
		path = "."
	}

	resolved, err := t.resolver.Resolve(path)
	if err != nil {
		return tools.Failf("%v", err), nil
	}

	dirEntries, err := os.ReadDir(resolved)
	if err != nil {
		return tools.Failf("list directory: %v", err), nil
	}

	// os.ReadDir returns entries sorted by name; directories and files
	// stay interleaved in that order.
	entries := make([]string, 0, len(dirEntries))
	for _, entry := range dirEntries {
		kind := "[FILE]"
		if entry.IsDir() {
			kind = "[DIR]"
		}
		entries = append(entries, fmt.Sprintf("%s %s", kind, entry.Name()))
	}

	return tools.Succeed(map[string]any{
		"path":    path,
		"entries": entries,
		"count":   len(entries),
	}), nil
}
