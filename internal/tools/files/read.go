package files

import (
	"context"
	"os"
	"unicode/utf8"

	"github.com/haasonsaas/vibe/internal/tools"
)

// ReadTool returns a workspace file's contents as text.
type ReadTool struct {
	tools.BaseTool
	resolver Resolver
}

// NewReadTool creates the read_file tool scoped to the workspace.
func NewReadTool(cfg Config) *ReadTool {
	return &ReadTool{
		BaseTool: tools.NewBase(
			"read_file",
			"Read a text file from the workspace and return its contents.",
			map[string]tools.ParamSpec{
				"path": {Type: "string", Required: true, Description: "Path to the file, relative to the workspace root."},
			},
		),
		resolver: Resolver{Root: cfg.Workspace},
	}
}

// Execute implements tools.Tool. Unreadable or non-text files are
// reported as failed results, never as errors.
func (t *ReadTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	path := stringParam(params, "path")
	resolved, err := t.resolver.Resolve(path)
	if err != nil {
		return tools.Failf("%v", err), nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return tools.Failf("read file: %v", err), nil
	}
	if !utf8.Valid(data) {
		return tools.Failf("file is not valid UTF-8 text: %s", path), nil
	}

	return tools.Succeed(map[string]any{
		"path":    path,
		"content": string(data),
		"bytes":   len(data),
	}), nil
}
