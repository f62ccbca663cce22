package files

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/vibe/internal/tools"
)

// MaxSearchResults caps search_file output. Hitting the cap sets the
// truncated flag instead of growing the result without bound.
const MaxSearchResults = 50

// SearchTool recursively matches filenames inside the workspace.
type SearchTool struct {
	tools.BaseTool
	resolver Resolver
}

// NewSearchTool creates the search_file tool scoped to the workspace.
func NewSearchTool(cfg Config) *SearchTool {
	return &SearchTool{
		BaseTool: tools.NewBase(
			"search_file",
			"Recursively find workspace files whose names match a glob pattern.",
			map[string]tools.ParamSpec{
				"pattern": {Type: "string", Required: true, Description: "Glob pattern matched against file names, for example *.md."},
				"path":    {Type: "string", Description: "Directory to search from, relative to the workspace root. Defaults to the root itself."},
			},
		),
		resolver: Resolver{Root: cfg.Workspace},
	}
}

// Execute implements tools.Tool. Dot-entries are skipped, except the
// conventional .vibe directory, which is searched like any other.
func (t *SearchTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	pattern := stringParam(params, "pattern")
	base := stringParam(params, "path")
	if base == "" {
		base = "."
	}

	start, err := t.resolver.Resolve(base)
	if err != nil {
		return tools.Failf("%v", err), nil
	}
	rootAbs, err := t.resolver.RootAbs()
	if err != nil {
		return tools.Failf("%v", err), nil
	}

	var matches []string
	truncated := false
	walkErr := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, not fatal.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		name := d.Name()
		if path != start && strings.HasPrefix(name, ".") && name != VibeDir {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		ok, matchErr := filepath.Match(pattern, name)
		if matchErr != nil {
			return matchErr
		}
		if !ok {
			return nil
		}
		if len(matches) >= MaxSearchResults {
			truncated = true
			return fs.SkipAll
		}
		rel, relErr := filepath.Rel(rootAbs, path)
		if relErr != nil {
			rel = path
		}
		matches = append(matches, rel)
		return nil
	})
	if walkErr != nil {
		if errors.Is(walkErr, filepath.ErrBadPattern) {
			return tools.Failf("invalid pattern: %s", pattern), nil
		}
		return tools.Failf("search failed: %v", walkErr), nil
	}

	return tools.Succeed(map[string]any{
		"pattern":   pattern,
		"matches":   matches,
		"count":     len(matches),
		"truncated": truncated,
	}), nil
}
