package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/vibe/internal/observability"
	"github.com/haasonsaas/vibe/internal/policy"
	"github.com/haasonsaas/vibe/internal/tools/naming"
)

// Gate is the policy hook consulted before any tool runs.
type Gate interface {
	Evaluate(tool string, params map[string]any) policy.Decision
}

// Registry manages the available tools with thread-safe registration and
// lookup, and is the single entry point for tool execution.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	gate   Gate
	logger *slog.Logger
	meters *observability.Metrics
}

// RegistryOption configures NewRegistry.
type RegistryOption func(*Registry)

// WithPolicy attaches the policy gate consulted before every execution.
func WithPolicy(gate Gate) RegistryOption {
	return func(r *Registry) { r.gate = gate }
}

// WithLogger routes registry logs to the given logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records execution counters on the given collector.
func WithMetrics(m *observability.Metrics) RegistryOption {
	return func(r *Registry) { r.meters = m }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		tools:  make(map[string]Tool),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool. Unconventional and duplicate names are both
// rejected: either one is a wiring bug, not a runtime condition.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if err := naming.Check(name); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = tool
	return nil
}

// Get returns a tool by name and whether it was found.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Has reports whether a tool with the name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs one invocation through the pipeline: lookup, policy gate,
// parameter validation, execution. The policy gate deliberately runs
// before the tool's own validation so a dangerous call is denied even
// when its parameters are malformed. All failures come back as Results.
func (r *Registry) Execute(ctx context.Context, inv Invocation) *Result {
	tool, ok := r.Get(inv.Tool)
	if !ok {
		return r.observe(inv.Tool, Failf("tool not found: %s", inv.Tool), 0)
	}

	if r.gate != nil {
		decision := r.gate.Evaluate(inv.Tool, inv.Parameters)
		if !decision.Allowed {
			if r.meters != nil {
				r.meters.PolicyBlocks.WithLabelValues(inv.Tool, decision.RuleID).Inc()
			}
			res := &Result{
				Success: false,
				Error:   decision.Message,
				Meta: map[string]any{
					MetaBlockedByPolicy: true,
					"rule_id":           decision.RuleID,
				},
			}
			return r.observe(inv.Tool, res, 0)
		}
	}

	if err := tool.Validate(inv.Parameters); err != nil {
		return r.observe(inv.Tool, Failf("parameter validation failed: %v", err), 0)
	}

	start := time.Now()
	res := r.run(ctx, tool, inv.Parameters)
	return r.observe(inv.Tool, res, time.Since(start))
}

// run invokes the tool's execution hook, converting error returns and
// panics into failed results carrying the failure's type and message.
func (r *Registry) run(ctx context.Context, tool Tool, params map[string]any) (res *Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked",
				"tool", tool.Name(),
				"panic", fmt.Sprint(rec))
			res = Failf("panic: %v", rec)
		}
	}()

	res, err := tool.Execute(ctx, params)
	if err != nil {
		return Failf("%T: %v", err, err)
	}
	if res == nil {
		return Failf("tool %s returned no result", tool.Name())
	}
	return res
}

func (r *Registry) observe(name string, res *Result, d time.Duration) *Result {
	status := "success"
	if !res.Success {
		status = "error"
	}
	if r.meters != nil {
		r.meters.ToolExecutions.WithLabelValues(name, status).Inc()
		if d > 0 {
			r.meters.ToolDuration.WithLabelValues(name).Observe(d.Seconds())
		}
	}
	if !res.Success {
		r.logger.Debug("tool execution failed",
			"tool", name,
			"error", res.Error,
			"blocked", res.Blocked())
	}
	return res
}

// DescribeForModel renders a prompt fragment listing every tool with its
// parameters, followed by the canonical invocation syntax the model must
// emit.
func (r *Registry) DescribeForModel() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Available tools:\n")
	for _, name := range names {
		tool := r.tools[name]
		fmt.Fprintf(&b, "\n### %s\n%s\n", tool.Name(), tool.Description())

		params := tool.Params()
		if len(params) == 0 {
			b.WriteString("Parameters: none\n")
			continue
		}
		paramNames := make([]string, 0, len(params))
		for p := range params {
			paramNames = append(paramNames, p)
		}
		sort.Strings(paramNames)

		b.WriteString("Parameters:\n")
		for _, p := range paramNames {
			spec := params[p]
			typ := spec.Type
			if typ == "" {
				typ = "any"
			}
			requirement := "optional"
			if spec.Required {
				requirement = "required"
			}
			fmt.Fprintf(&b, "  - %s (%s, %s): %s\n", p, typ, requirement, spec.Description)
		}
	}

	example := Invocation{
		Tool:       "tool_name",
		Parameters: map[string]any{"parameter": "value"},
	}
	// The example is a fixed struct; marshalling cannot fail.
	exampleJSON, _ := json.Marshal(example)
	b.WriteString("\nTo invoke a tool, emit exactly one JSON object of this form:\n")
	b.WriteString(string(exampleJSON))
	b.WriteString("\n")
	return b.String()
}
