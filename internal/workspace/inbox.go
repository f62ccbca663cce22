// Package workspace reads the convention-based side channels a kernel
// workspace may carry: an inbox of markdown messages, a BACKLOG.md
// agenda, and a git synchronization status handed over in the
// environment. All three are advisory; the kernel surfaces them and
// acts on none of them.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultInboxDir is the conventional inbox location under a workspace.
const DefaultInboxDir = "workspace/inbox"

// Message is one inbox file, loaded at boot as high-priority context.
type Message struct {
	// Filename is the base name of the markdown file.
	Filename string `json:"filename"`

	// Content is the file's full text.
	Content string `json:"content"`
}

// ScanInbox loads the markdown files directly under dir, sorted by
// filename. A missing directory yields no messages and no error;
// subdirectories and non-markdown files are ignored.
func ScanInbox(dir string) ([]Message, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan inbox: %w", err)
	}

	var messages []Message
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read inbox message %s: %w", entry.Name(), err)
		}
		messages = append(messages, Message{
			Filename: entry.Name(),
			Content:  string(data),
		})
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].Filename < messages[j].Filename })
	return messages, nil
}
