package files

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/haasonsaas/vibe/internal/tools"
)

// WriteTool writes text files inside the workspace.
type WriteTool struct {
	tools.BaseTool
	resolver Resolver
}

// NewWriteTool creates the write_file tool scoped to the workspace.
func NewWriteTool(cfg Config) *WriteTool {
	return &WriteTool{
		BaseTool: tools.NewBase(
			"write_file",
			"Write text to a file in the workspace, replacing any existing contents.",
			map[string]tools.ParamSpec{
				"path":        {Type: "string", Required: true, Description: "Path to the file, relative to the workspace root."},
				"content":     {Type: "string", Required: true, Description: "Text to write."},
				"create_dirs": {Type: "boolean", Description: "Create missing parent directories. Off by default."},
			},
		),
		resolver: Resolver{Root: cfg.Workspace},
	}
}

// Execute implements tools.Tool. Parent directories are created only
// when create_dirs is true; otherwise a missing parent is a failure.
func (t *WriteTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	path := stringParam(params, "path")
	content := stringParam(params, "content")

	resolved, err := t.resolver.Resolve(path)
	if err != nil {
		return tools.Failf("%v", err), nil
	}

	parent := filepath.Dir(resolved)
	if boolParam(params, "create_dirs") {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return tools.Failf("create parent directories: %v", err), nil
		}
	} else if _, err := os.Stat(parent); errors.Is(err, os.ErrNotExist) {
		return tools.Failf("parent directory does not exist: %s (pass create_dirs to create it)", filepath.Dir(path)), nil
	}

	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return tools.Failf("write file: %v", err), nil
	}

	return tools.Succeed(map[string]any{
		"path":          path,
		"bytes_written": len(content),
	}), nil
}
