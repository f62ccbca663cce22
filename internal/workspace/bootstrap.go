package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/vibe/internal/tools/files"
)

// BootstrapFile is one file to seed into a fresh workspace. Name is a
// path relative to the workspace root.
type BootstrapFile struct {
	Name    string
	Content string
}

// BootstrapResult captures the paths created or skipped.
type BootstrapResult struct {
	Created []string
	Skipped []string
}

const backlogSkeleton = `# BACKLOG.md

Standing agenda for this workspace. Boot reads the unchecked entries
under Outstanding Tasks as advisory context; the kernel never acts on
them itself.

## Outstanding Tasks

## Completed Tasks
`

const policySkeleton = `# Safety rules consulted before every tool execution. The first
# blocking match denies the call; inspect the loaded set with
# "vibe policy rules".
safety_rules:
  - id: protect_git
    condition: path_contains
    pattern: .git
    action: block
    message: git internals are protected from direct modification
  - id: confine_to_workspace
    condition: path_outside_root
    action: block
    message: paths outside the workspace root are off limits
`

const configSkeleton = `# Kernel configuration. Relative paths resolve against the process
# working directory; environment variables expand before parsing.
version: 1

workspace:
  root: .

ledger:
  path: .vibe/ledger.db

policy:
  path: policy.yaml
  watch: false

logging:
  level: info
  format: text
`

// DefaultBootstrapFiles returns the conventional seed set: a backlog
// skeleton with both required sections, a starter rule file, and a
// config file pointing at the conventional locations.
func DefaultBootstrapFiles() []BootstrapFile {
	return []BootstrapFile{
		{Name: DefaultBacklogPath, Content: backlogSkeleton},
		{Name: "policy.yaml", Content: policySkeleton},
		{Name: "vibe.yaml", Content: configSkeleton},
	}
}

// bootstrapDirs are created unconditionally: the inbox so message drops
// have a destination, and the dot-directory holding the ledger.
var bootstrapDirs = []string{DefaultInboxDir, files.VibeDir}

// EnsureWorkspaceFiles seeds root with the given files, creating the
// conventional directories and any parents on the way. Existing files
// are skipped unless overwrite is set.
func EnsureWorkspaceFiles(root string, seed []BootstrapFile, overwrite bool) (BootstrapResult, error) {
	result := BootstrapResult{}
	base := strings.TrimSpace(root)
	if base == "" {
		base = "."
	}
	for _, dir := range bootstrapDirs {
		if err := os.MkdirAll(filepath.Join(base, dir), 0o755); err != nil {
			return result, fmt.Errorf("create workspace dir: %w", err)
		}
	}

	for _, file := range seed {
		name := strings.TrimSpace(file.Name)
		if name == "" {
			continue
		}
		if filepath.IsAbs(name) || strings.Contains(name, "..") {
			return result, fmt.Errorf("bootstrap file %q escapes the workspace", file.Name)
		}
		path := filepath.Join(base, name)
		if !overwrite {
			if _, err := os.Stat(path); err == nil {
				result.Skipped = append(result.Skipped, path)
				continue
			} else if !os.IsNotExist(err) {
				return result, fmt.Errorf("stat %s: %w", path, err)
			}
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return result, fmt.Errorf("create parent for %s: %w", path, err)
		}
		if err := os.WriteFile(path, []byte(file.Content), 0o644); err != nil {
			return result, fmt.Errorf("write %s: %w", path, err)
		}
		result.Created = append(result.Created, path)
	}

	return result, nil
}
