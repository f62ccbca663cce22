package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/vibe/internal/task"
	"github.com/haasonsaas/vibe/internal/tools"
)

// Model is the text-completion surface a model-driven agent needs: one
// system prompt, one user prompt, one reply. Hosts wrap whatever
// provider they use behind it.
type Model interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// ModelFunc adapts a plain function into a Model.
type ModelFunc func(ctx context.Context, system, prompt string) (string, error)

// Complete implements Model.
func (f ModelFunc) Complete(ctx context.Context, system, prompt string) (string, error) {
	return f(ctx, system, prompt)
}

// DefaultMaxRounds bounds the converse-and-execute loop when
// WithMaxRounds is not given.
const DefaultMaxRounds = 10

// ErrMaxRounds reports that the model was still requesting tools when
// the round budget ran out.
var ErrMaxRounds = errors.New("model agent exhausted its tool rounds")

// ModelAgent drives a text model against the tool registry. Each round
// it completes the running transcript, executes the first tool
// invocation found in the reply through the registry, folds the result
// back into the transcript and asks again. A reply with no invocation
// is the final answer.
//
// The registry's pipeline stays fully in force: a call the policy gate
// blocks comes back as a failed result the model can see and route
// around, never as an error.
type ModelAgent struct {
	id        string
	caps      []string
	model     Model
	registry  *tools.Registry
	maxRounds int
	logger    *slog.Logger
}

// ModelAgentOption configures NewModelAgent.
type ModelAgentOption func(*ModelAgent)

// WithCapabilities sets the capability names the agent declares at
// registration.
func WithCapabilities(caps ...string) ModelAgentOption {
	return func(a *ModelAgent) { a.caps = caps }
}

// WithMaxRounds overrides the round budget. Values below one keep the
// default.
func WithMaxRounds(n int) ModelAgentOption {
	return func(a *ModelAgent) {
		if n > 0 {
			a.maxRounds = n
		}
	}
}

// WithLogger routes the agent's logs to the given logger.
func WithLogger(logger *slog.Logger) ModelAgentOption {
	return func(a *ModelAgent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewModelAgent builds a model-driven agent over the given registry.
func NewModelAgent(id string, model Model, registry *tools.Registry, opts ...ModelAgentOption) *ModelAgent {
	a := &ModelAgent{
		id:        id,
		model:     model,
		registry:  registry,
		maxRounds: DefaultMaxRounds,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ID implements Agent.
func (a *ModelAgent) ID() string { return a.id }

// Capabilities implements Agent.
func (a *ModelAgent) Capabilities() []string { return a.caps }

// Process implements Agent. The task must carry the delegation payload
// shape; its user_message becomes the opening prompt.
func (a *ModelAgent) Process(ctx context.Context, tk *task.Task) (*Response, error) {
	dp, err := task.DecodeDelegationPayload(tk.Payload)
	if err != nil {
		return nil, err
	}
	if dp.UserMessage == "" {
		return nil, fmt.Errorf("task %s carries no user_message", tk.ID)
	}

	system := a.registry.DescribeForModel() +
		"\nReply in prose, with no JSON object, once the task is done.\n"

	var transcript strings.Builder
	transcript.WriteString(dp.UserMessage)

	var lastCall *tools.Invocation
	var lastResult *tools.Result
	for round := 1; round <= a.maxRounds; round++ {
		reply, err := a.model.Complete(ctx, system, transcript.String())
		if err != nil {
			return nil, fmt.Errorf("model completion: %w", err)
		}

		inv, err := tools.ParseInvocation(reply)
		if errors.Is(err, tools.ErrNoInvocation) {
			return &Response{
				Success: true,
				Output: map[string]any{
					"answer": strings.TrimSpace(reply),
					"rounds": round,
				},
				ToolCall:   lastCall,
				ToolResult: lastResult,
				AgentID:    a.id,
				TaskID:     tk.ID,
			}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("parse model reply: %w", err)
		}

		res := a.registry.Execute(ctx, *inv)
		lastCall, lastResult = inv, res
		a.logger.Debug("model requested tool",
			"agent", a.id,
			"task", tk.ID,
			"round", round,
			"tool", inv.Tool,
			"success", res.Success)

		transcript.WriteString(foldExchange(inv, res))
	}

	return nil, fmt.Errorf("%w: %d rounds on task %s", ErrMaxRounds, a.maxRounds, tk.ID)
}

// foldExchange renders one executed call the way the next round's
// prompt shows it.
func foldExchange(inv *tools.Invocation, res *tools.Result) string {
	// Both values are plain maps and strings; marshalling cannot fail.
	call, _ := json.Marshal(inv)
	result, _ := json.Marshal(res.AsMap())
	return fmt.Sprintf("\n\nTool call:\n%s\nTool result:\n%s", call, result)
}
