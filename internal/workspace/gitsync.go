package workspace

import (
	"os"
	"strconv"
	"strings"
)

// DefaultGitStatusEnv is the environment variable an external sync
// process uses to hand the kernel its last git synchronization outcome.
const DefaultGitStatusEnv = "VIBE_GIT_STATUS"

// Recognized git sync statuses. BEHIND_BY_<n> carries a numeric suffix.
const (
	GitSynced      = "SYNCED"
	GitBehindBy    = "BEHIND_BY_"
	GitDiverged    = "DIVERGED"
	GitFetchFailed = "FETCH_FAILED"
	GitNoRepo      = "NO_REPO"
)

// GitSyncStatus reads the sync status from the named environment
// variable, verbatim. An unset variable yields the empty string.
func GitSyncStatus(env string) string {
	if env == "" {
		env = DefaultGitStatusEnv
	}
	return os.Getenv(env)
}

// ValidGitStatus reports whether s is one of the recognized status
// values. The kernel logs unrecognized values but stores them anyway;
// the channel is advisory.
func ValidGitStatus(s string) bool {
	switch s {
	case GitSynced, GitDiverged, GitFetchFailed, GitNoRepo:
		return true
	}
	if n, ok := strings.CutPrefix(s, GitBehindBy); ok {
		_, err := strconv.Atoi(n)
		return err == nil && n != ""
	}
	return false
}
