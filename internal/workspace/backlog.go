package workspace

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// DefaultBacklogPath is the conventional backlog location under a
// workspace.
const DefaultBacklogPath = "workspace/BACKLOG.md"

// Backlog section headings. Both must be present for a backlog file to
// parse.
const (
	outstandingHeading = "## Outstanding Tasks"
	completedHeading   = "## Completed Tasks"
)

// Backlog is the parsed agenda from BACKLOG.md.
type Backlog struct {
	// Items are the unchecked entries under Outstanding Tasks, in file
	// order, with the checkbox prefix stripped.
	Items []string `json:"items"`

	// CompletedCount is the number of checked entries under Completed
	// Tasks, kept for reporting.
	CompletedCount int `json:"completed_count"`
}

// ParseBacklog reads the workspace backlog. A missing file yields an
// empty backlog and no error; a file missing either required section is
// malformed and returns an error.
func ParseBacklog(path string) (*Backlog, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return &Backlog{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open backlog: %w", err)
	}
	defer f.Close()

	b := &Backlog{}
	sawOutstanding, sawCompleted := false, false
	section := ""

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case outstandingHeading:
			sawOutstanding = true
			section = outstandingHeading
			continue
		case completedHeading:
			sawCompleted = true
			section = completedHeading
			continue
		}
		if strings.HasPrefix(line, "## ") {
			section = ""
			continue
		}

		switch section {
		case outstandingHeading:
			if item, ok := strings.CutPrefix(line, "- [ ]"); ok {
				if item = strings.TrimSpace(item); item != "" {
					b.Items = append(b.Items, item)
				}
			}
		case completedHeading:
			if strings.HasPrefix(line, "- [x]") || strings.HasPrefix(line, "- [X]") {
				b.CompletedCount++
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read backlog: %w", err)
	}

	if !sawOutstanding || !sawCompleted {
		return nil, fmt.Errorf("backlog %s is malformed: required sections %q and %q", path, outstandingHeading, completedHeading)
	}
	return b, nil
}
