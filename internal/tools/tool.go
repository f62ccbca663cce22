// Package tools defines the tool protocol and the registry that runs
// every tool invocation through the same gate-validate-execute pipeline.
package tools

import (
	"context"
	"fmt"
)

// ParamSpec describes one tool parameter for validation and for the
// prompt fragment shown to models.
type ParamSpec struct {
	// Type is a JSON Schema primitive type name: "string", "boolean",
	// "integer", "number", "object" or "array". Empty means untyped.
	Type string `json:"type,omitempty"`

	// Required marks the parameter as mandatory.
	Required bool `json:"required,omitempty"`

	// Description tells the model what to pass.
	Description string `json:"description,omitempty"`
}

// Tool is the protocol every kernel tool implements.
type Tool interface {
	// Name returns the tool's registry name. Must be a valid function
	// name (alphanumeric and underscores).
	Name() string

	// Description returns a natural-language summary that helps the
	// model decide when to use the tool.
	Description() string

	// Params declares the accepted parameters by name.
	Params() map[string]ParamSpec

	// Validate checks a parameter map before execution. The registry
	// calls it after the policy gate and before Execute.
	Validate(params map[string]any) error

	// Execute runs the tool. Failures that belong to the caller (bad
	// path, missing file) are reported inside the Result; an error
	// return is reserved for situations the tool cannot express as a
	// result at all.
	Execute(ctx context.Context, params map[string]any) (*Result, error)
}

// Invocation is one requested tool call, in the canonical shape models
// are instructed to emit.
type Invocation struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`
}

// Result is the outcome of a tool execution. Tool failures are data, not
// errors: the kernel records them and moves on.
type Result struct {
	// Success reports whether the tool did what was asked.
	Success bool `json:"success"`

	// Output carries the tool's structured output when successful.
	Output map[string]any `json:"output,omitempty"`

	// Error describes the failure when Success is false.
	Error string `json:"error,omitempty"`

	// Meta carries execution metadata, such as blocked_by_policy.
	Meta map[string]any `json:"meta,omitempty"`
}

// MetaBlockedByPolicy is set to true in Result.Meta when the policy gate
// denied the invocation.
const MetaBlockedByPolicy = "blocked_by_policy"

// Succeed builds a successful result with the given output.
func Succeed(output map[string]any) *Result {
	return &Result{Success: true, Output: output}
}

// Failf builds a failed result with a formatted error message.
func Failf(format string, args ...any) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Blocked reports whether the result was denied by the policy gate.
func (r *Result) Blocked() bool {
	if r == nil || r.Meta == nil {
		return false
	}
	blocked, _ := r.Meta[MetaBlockedByPolicy].(bool)
	return blocked
}

// AsMap renders the result for ledger serialization.
func (r *Result) AsMap() map[string]any {
	if r == nil {
		return nil
	}
	m := map[string]any{"success": r.Success}
	if r.Output != nil {
		m["output"] = r.Output
	}
	if r.Error != "" {
		m["error"] = r.Error
	}
	if r.Meta != nil {
		m["meta"] = r.Meta
	}
	return m
}
