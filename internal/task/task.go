// Package task defines the unit of work dispatched by the kernel and the
// well-known payload shape agents use to delegate work to each other.
package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
)

// Task is a unit of work addressed to a single agent. Tasks are immutable
// from the caller's view once submitted: the queue and the ledger operate
// on their own copies.
type Task struct {
	// ID is an opaque identifier, assigned by the kernel when empty.
	ID string `json:"id"`

	// AgentID names the agent the task is addressed to.
	AgentID string `json:"agent_id"`

	// Payload carries the work description. Its schema is agent-specific;
	// the kernel only understands the delegation shape (DelegationPayload).
	Payload map[string]any `json:"payload"`

	// Priority is stored and surfaced but never consulted by the
	// scheduler. Dispatch is strictly FIFO.
	Priority int `json:"priority"`

	// Created is the submission wall-clock time in UTC.
	Created time.Time `json:"created"`
}

// New builds a task for agentID with a fresh random id and creation time.
func New(agentID string, payload map[string]any) *Task {
	return &Task{
		ID:      uuid.NewString(),
		AgentID: agentID,
		Payload: payload,
		Created: time.Now().UTC(),
	}
}

// EnsureID assigns a fresh id if the task arrived without one and returns
// the id in force afterwards.
func (t *Task) EnsureID() string {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return t.ID
}

// Clone returns a copy of the task with its own payload map. Nested
// values are shared; callers treat payloads as read-only after submit.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.Payload != nil {
		c.Payload = make(map[string]any, len(t.Payload))
		for k, v := range t.Payload {
			c.Payload[k] = v
		}
	}
	return &c
}

// DelegationPayload is the one payload shape the kernel itself
// understands: a user-style message plus optional carry-over context.
// Agents remain free to define arbitrary payload schemas of their own.
type DelegationPayload struct {
	UserMessage string         `mapstructure:"user_message" json:"user_message"`
	Context     map[string]any `mapstructure:"context" json:"context,omitempty"`
}

// DeclaresDelegation reports whether the payload claims the well-known
// delegation shape, i.e. carries a user_message key.
func DeclaresDelegation(payload map[string]any) bool {
	_, ok := payload["user_message"]
	return ok
}

// DecodeDelegationPayload interprets payload as the well-known delegation
// shape. Payloads that declare the shape with mistyped fields (for
// example a non-string user_message) fail to decode; payloads that never
// mention user_message decode to the zero shape.
func DecodeDelegationPayload(payload map[string]any) (*DelegationPayload, error) {
	var dp DelegationPayload
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{Result: &dp})
	if err != nil {
		return nil, fmt.Errorf("build delegation decoder: %w", err)
	}
	if err := dec.Decode(payload); err != nil {
		return nil, fmt.Errorf("decode delegation payload: %w", err)
	}
	return &dp, nil
}
