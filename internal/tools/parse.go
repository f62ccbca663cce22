package tools

import (
	"encoding/json"
	"errors"

	"github.com/kaptinlin/jsonrepair"
)

// ErrNoInvocation reports that the scanned text contains no tool call.
var ErrNoInvocation = errors.New("no tool invocation found")

// ParseInvocation extracts the first JSON object carrying a "tool" key
// from model output. The object may be embedded in prose. Strict JSON is
// tried first; sloppy output (single quotes, trailing commas, unquoted
// keys) goes through a repair pass before giving up on a candidate.
func ParseInvocation(text string) (*Invocation, error) {
	for _, candidate := range jsonCandidates(text) {
		if inv, ok := decodeInvocation(candidate); ok {
			return inv, nil
		}
	}
	return nil, ErrNoInvocation
}

func decodeInvocation(s string) (*Invocation, bool) {
	if inv, ok := unmarshalInvocation(s); ok {
		return inv, true
	}
	repaired, err := jsonrepair.JSONRepair(s)
	if err != nil {
		return nil, false
	}
	return unmarshalInvocation(repaired)
}

func unmarshalInvocation(s string) (*Invocation, bool) {
	// Decode into a raw map first: only objects that actually carry a
	// "tool" key count as invocations, regardless of other content.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, false
	}
	if _, ok := raw["tool"]; !ok {
		return nil, false
	}

	var inv Invocation
	if err := json.Unmarshal([]byte(s), &inv); err != nil {
		return nil, false
	}
	if inv.Tool == "" {
		return nil, false
	}
	if inv.Parameters == nil {
		inv.Parameters = map[string]any{}
	}
	return &inv, true
}

// jsonCandidates returns the balanced {...} spans of text in order of
// appearance, outer objects before the objects nested in them. Balancing
// tracks both quote styles so that sloppy single-quoted output still
// splits on the right brace.
func jsonCandidates(text string) []string {
	var candidates []string
	for start := 0; start < len(text); start++ {
		if text[start] != '{' {
			continue
		}
		end := matchBrace(text, start)
		if end < 0 {
			continue
		}
		candidates = append(candidates, text[start:end+1])
	}
	return candidates
}

// matchBrace returns the index of the brace closing text[open], or -1.
func matchBrace(text string, open int) int {
	depth := 0
	var quote byte
	escaped := false
	for i := open; i < len(text); i++ {
		c := text[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
