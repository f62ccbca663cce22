// Package policy evaluates tool invocations against declarative safety
// rules loaded from a YAML file.
//
// The engine is deliberately asymmetric about failure: a missing or
// unreadable rule file yields zero rules and universal permission, while
// a path that cannot be resolved during evaluation is treated as outside
// the project root and blocked. Configuration fails open, path
// resolution fails closed.
package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Condition names understood by the engine. Rules with other condition
// values are kept but never match, so newer rule files keep working
// against older kernels.
const (
	ConditionPathContains    = "path_contains"
	ConditionPathMatches     = "path_matches"
	ConditionPathOutsideRoot = "path_outside_root"
)

// ActionBlock is the only action that denies an invocation. Other
// actions are recorded for forward compatibility and never block.
const ActionBlock = "block"

// Rule is one entry of the safety_rules list.
type Rule struct {
	ID        string `yaml:"id"`
	Condition string `yaml:"condition"`
	Pattern   string `yaml:"pattern"`
	Action    string `yaml:"action"`
	Message   string `yaml:"message"`
}

// Decision is the outcome of evaluating one tool invocation.
type Decision struct {
	Allowed bool
	RuleID  string
	Message string
}

// Engine holds the loaded rules and the project root used by
// path_outside_root. Evaluate is safe for concurrent use with Reload.
type Engine struct {
	mu     sync.RWMutex
	rules  []Rule
	path   string
	root   string
	strict bool
	logger *slog.Logger

	watchMu     sync.Mutex
	watchCancel func()
	watchDone   chan struct{}
}

// Option configures Load.
type Option func(*Engine)

// WithRoot sets the project root against which path_outside_root is
// judged. Defaults to the process working directory.
func WithRoot(root string) Option {
	return func(e *Engine) { e.root = root }
}

// WithLogger routes the engine's warnings to the given logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Strict makes Load and Reload propagate rule-file parse errors instead
// of degrading to zero rules. Used by the CLI's dry-run command.
func Strict() Option {
	return func(e *Engine) { e.strict = true }
}

// Load builds an engine from the rule file at path. A missing file, or
// an empty path, yields an engine with zero rules and a nil error. Parse
// failures degrade to zero rules with a warning unless Strict is set.
func Load(path string, opts ...Option) (*Engine, error) {
	e := &Engine{
		path:   path,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.Reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload re-reads the rule file and swaps the active rule set. In strict
// mode a parse failure leaves the previous rules in place and returns
// the error.
func (e *Engine) Reload() error {
	rules, err := readRules(e.path)
	if err != nil {
		if e.strict {
			return err
		}
		e.logger.Warn("safety rules unreadable, running with zero rules",
			"path", e.path,
			"error", err)
		rules = nil
	}
	e.mu.Lock()
	e.rules = rules
	e.mu.Unlock()
	return nil
}

func readRules(path string) ([]Rule, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read safety rules: %w", err)
	}

	var doc struct {
		SafetyRules []Rule `yaml:"safety_rules"`
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse safety rules: %w", err)
	}
	return doc.SafetyRules, nil
}

// Rules returns a copy of the active rule set in declaration order.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate checks a tool invocation against the rules in declaration
// order and short-circuits on the first blocking match. Invocations
// without a path parameter pass: every shipped condition inspects the
// conventional path key and nothing else.
func (e *Engine) Evaluate(tool string, params map[string]any) Decision {
	raw, ok := params["path"]
	if !ok {
		return Decision{Allowed: true}
	}
	path := stringify(raw)

	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	for _, r := range rules {
		if r.Action != ActionBlock {
			continue
		}
		if !e.matches(r, path) {
			continue
		}
		e.logger.Info("tool invocation blocked by safety rule",
			"tool", tool,
			"rule_id", r.ID,
			"path", path)
		msg := r.Message
		if msg == "" {
			msg = fmt.Sprintf("blocked by safety rule %s", r.ID)
		}
		return Decision{Allowed: false, RuleID: r.ID, Message: msg}
	}
	return Decision{Allowed: true}
}

func (e *Engine) matches(r Rule, path string) bool {
	switch r.Condition {
	case ConditionPathContains:
		return strings.Contains(path, r.Pattern)
	case ConditionPathMatches:
		return path == r.Pattern
	case ConditionPathOutsideRoot:
		return e.outsideRoot(path)
	default:
		return false
	}
}

// outsideRoot reports whether path resolves outside the project root.
// Any resolution failure counts as outside.
func (e *Engine) outsideRoot(path string) bool {
	root := e.root
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return true
		}
		root = wd
	}
	canonRoot, err := filepath.Abs(root)
	if err != nil {
		return true
	}
	if resolved, err := filepath.EvalSymlinks(canonRoot); err == nil {
		canonRoot = resolved
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return true
	}
	// Resolve symlinks when the target exists; a file about to be
	// created is judged by its lexical location.
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	rel, err := filepath.Rel(canonRoot, abs)
	if err != nil {
		return true
	}
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
