// Package naming defines the kernel's tool naming convention: lowercase
// words joined by single underscores, the form every bundled tool
// follows (read_file, delegate_task). The registry enforces the
// convention at registration; Normalize coerces free-form names into it
// for hosts that derive tool names from external sources.
package naming

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// MaxNameLength caps tool names. Model providers reject longer function
// names, so the cap is enforced here rather than discovered downstream.
const MaxNameLength = 64

// namePattern is the conventional form: lowercase alphanumeric words
// joined by single underscores, starting with a letter.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9]*(_[a-z0-9]+)*$`)

// Valid reports whether name follows the convention.
func Valid(name string) bool {
	return name != "" && len(name) <= MaxNameLength && namePattern.MatchString(name)
}

// Check returns a descriptive error when name breaks the convention.
func Check(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("tool name is empty")
	case len(name) > MaxNameLength:
		return fmt.Errorf("tool name %q exceeds %d characters", name, MaxNameLength)
	case !namePattern.MatchString(name):
		return fmt.Errorf("tool name %q is not lowercase_with_underscores", name)
	}
	return nil
}

var invalidRuns = regexp.MustCompile(`[^a-z0-9]+`)

// Normalize coerces raw into conventional form: lowercased, every run
// of non-alphanumeric characters collapsed to one underscore, leading
// digits and edge underscores trimmed. Names that still exceed
// MaxNameLength are truncated with a short hash suffix so two long
// names cannot normalize into a collision. An input with nothing usable
// normalizes to "tool".
func Normalize(raw string) string {
	name := strings.ToLower(strings.TrimSpace(raw))
	name = invalidRuns.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	name = strings.TrimLeft(name, "0123456789_")
	if name == "" {
		return "tool"
	}
	if len(name) <= MaxNameLength {
		return name
	}
	sum := sha256.Sum256([]byte(raw))
	suffix := "_" + hex.EncodeToString(sum[:])[:8]
	return strings.TrimRight(name[:MaxNameLength-len(suffix)], "_") + suffix
}
