// Package identity issues and stores machine-readable manifests for
// registered agents. A manifest is generated at kernel boot, describes
// the agent's class, credentials, capabilities and governance, and
// carries a deterministic sha256 fingerprint over its canonical JSON
// form so identical manifests are identical documents.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/vibe/internal/agent"
)

// ProtocolVersion identifies the manifest document format.
const ProtocolVersion = "1.0"

// FingerprintPrefix starts every manifest fingerprint.
const FingerprintPrefix = "sha256:"

// StatusActive marks an agent as dispatchable. Submission validation
// rejects agents whose manifest carries any other status.
const StatusActive = "active"

// Class tags the agent's role in the manifest. The set is closed;
// Generate maps anything it cannot classify to ClassOrchestrationOperator.
type Class string

const (
	ClassOrchestrationOperator Class = "orchestration_operator"
	ClassTaskExecutor          Class = "task_executor"
	ClassSpecialistService     Class = "specialist_service"
)

// ClassTagged is implemented by agents that declare their manifest
// class. Declared here rather than in package agent so the agent
// contract stays free of identity concerns.
type ClassTagged interface {
	ManifestClass() Class
}

// Describer is implemented by agents that declare a specialization
// label for their manifest.
type Describer interface {
	Specialization() string
}

// Manifest is the machine-readable identity declaration for one agent.
type Manifest struct {
	ProtocolVersion string       `json:"protocol_version"`
	Agent           AgentInfo    `json:"agent"`
	Credentials     Credentials  `json:"credentials"`
	Capabilities    Capabilities `json:"capabilities"`
	Governance      Governance   `json:"governance"`
}

// AgentInfo identifies the agent the manifest was issued for.
type AgentInfo struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Version        string `json:"version"`
	Class          Class  `json:"class"`
	Specialization string `json:"specialization"`
	Status         string `json:"status"`
	Issuer         string `json:"issuer"`
	IssuedAt       string `json:"issued_at"`
}

// Credentials states what the agent is mandated to do and the bounds it
// operates under.
type Credentials struct {
	Mandates       []string `json:"mandates"`
	Constraints    []string `json:"constraints"`
	PrimeDirective string   `json:"prime_directive"`
}

// Capabilities lists the agent's declared capability names and the
// operations it answers to, with per-operation payload schemas.
type Capabilities struct {
	Interfaces []string    `json:"interfaces"`
	Operations []Operation `json:"operations"`
}

// Operation describes one named operation with JSON-Schema documents
// for its input and output.
type Operation struct {
	Name         string         `json:"name"`
	InputSchema  map[string]any `json:"input_schema"`
	OutputSchema map[string]any `json:"output_schema"`
}

// Governance names who answers for the agent and where its audit trail
// lives.
type Governance struct {
	Principal    string `json:"principal"`
	Contact      string `json:"contact"`
	AuditTrail   string `json:"audit_trail"`
	Transparency string `json:"transparency"`
}

// Defaults for generated manifests. GenerateOptions overrides any of them.
const (
	DefaultAgentVersion   = "0.1.0"
	DefaultIssuer         = "vibe-kernel"
	DefaultPrincipal      = "workspace-operator"
	DefaultTransparency   = "full"
	DefaultPrimeDirective = "Process assigned tasks within the declared capabilities and record every outcome."
)

// DefaultConstraints are the bounds every generated manifest declares
// unless overridden: the kernel's file tools are workspace-confined and
// every tool call passes the policy gate.
var DefaultConstraints = []string{"workspace_confined", "policy_gated"}

// GenerateOptions customizes manifest generation. Zero values select
// the package defaults.
type GenerateOptions struct {
	// Version is the agent version stamped into the manifest.
	Version string

	// Issuer is the organization issuing the manifest.
	Issuer string

	// Principal, Contact, AuditTrail and Transparency fill the
	// governance section. AuditTrail conventionally points at the
	// ledger's storage path.
	Principal    string
	Contact      string
	AuditTrail   string
	Transparency string

	// PrimeDirective, Mandates and Constraints fill the credentials
	// section. Mandates defaults to the agent's capability list.
	PrimeDirective string
	Mandates       []string
	Constraints    []string

	// Now replaces the issue timestamp source. Intended for tests.
	Now func() time.Time
}

// Generate issues a manifest for the agent. The class tag comes from the
// optional ClassTagged interface, the specialization from Describer;
// agents implementing neither are classified as orchestration operators
// with a capability-derived specialization. The operations list always
// includes the generic process operation, declared or not.
func Generate(a agent.Agent, opts GenerateOptions) *Manifest {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	class := ClassOrchestrationOperator
	if tagged, ok := a.(ClassTagged); ok {
		if c := tagged.ManifestClass(); validClass(c) {
			class = c
		}
	}

	caps := append([]string(nil), a.Capabilities()...)

	specialization := strings.Join(caps, ", ")
	if d, ok := a.(Describer); ok && d.Specialization() != "" {
		specialization = d.Specialization()
	}
	if specialization == "" {
		specialization = "general"
	}

	mandates := opts.Mandates
	if mandates == nil {
		mandates = append([]string(nil), caps...)
	}
	constraints := opts.Constraints
	if constraints == nil {
		constraints = append([]string(nil), DefaultConstraints...)
	}

	return &Manifest{
		ProtocolVersion: ProtocolVersion,
		Agent: AgentInfo{
			ID:             a.ID(),
			Name:           humanize(a.ID()),
			Version:        orDefault(opts.Version, DefaultAgentVersion),
			Class:          class,
			Specialization: specialization,
			Status:         StatusActive,
			Issuer:         orDefault(opts.Issuer, DefaultIssuer),
			IssuedAt:       now().UTC().Format(time.RFC3339),
		},
		Credentials: Credentials{
			Mandates:       mandates,
			Constraints:    constraints,
			PrimeDirective: orDefault(opts.PrimeDirective, DefaultPrimeDirective),
		},
		Capabilities: Capabilities{
			Interfaces: caps,
			Operations: operationsFor(caps),
		},
		Governance: Governance{
			Principal:    orDefault(opts.Principal, DefaultPrincipal),
			Contact:      opts.Contact,
			AuditTrail:   opts.AuditTrail,
			Transparency: orDefault(opts.Transparency, DefaultTransparency),
		},
	}
}

// ProcessOperation is the generic operation every agent answers to.
const ProcessOperation = "process"

// operationsFor renders one operation per declared capability plus the
// generic process operation when the agent did not declare it itself.
func operationsFor(caps []string) []Operation {
	ops := make([]Operation, 0, len(caps)+1)
	hasProcess := false
	for _, c := range caps {
		if c == ProcessOperation {
			hasProcess = true
		}
		ops = append(ops, Operation{
			Name:         c,
			InputSchema:  taskPayloadSchema(),
			OutputSchema: agentResponseSchema(),
		})
	}
	if !hasProcess {
		ops = append(ops, Operation{
			Name:         ProcessOperation,
			InputSchema:  taskPayloadSchema(),
			OutputSchema: agentResponseSchema(),
		})
	}
	return ops
}

func taskPayloadSchema() map[string]any {
	return map[string]any{
		"type":        "object",
		"description": "Agent-specific task payload.",
	}
}

func agentResponseSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"success"},
		"properties": map[string]any{
			"success": map[string]any{"type": "boolean"},
			"output":  map[string]any{"type": "object"},
			"error":   map[string]any{"type": "string"},
		},
	}
}

func validClass(c Class) bool {
	switch c {
	case ClassOrchestrationOperator, ClassTaskExecutor, ClassSpecialistService:
		return true
	}
	return false
}

// humanize turns an agent id like code_reviewer-v2 into "Code Reviewer V2".
func humanize(id string) string {
	replaced := strings.NewReplacer("_", " ", "-", " ").Replace(id)
	words := strings.Fields(replaced)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	if len(words) == 0 {
		return id
	}
	return strings.Join(words, " ")
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// CanonicalJSON renders the manifest with sorted keys and minimal
// whitespace. The struct is marshalled through a generic map so that key
// order follows the JSON encoder's sorted-map rule at every level.
func CanonicalJSON(m *Manifest) ([]byte, error) {
	direct, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(direct, &generic); err != nil {
		return nil, fmt.Errorf("normalize manifest: %w", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonicalize manifest: %w", err)
	}
	return canonical, nil
}

// Fingerprint computes the manifest's identity digest: "sha256:" plus
// the hex digest of the canonical JSON form.
func Fingerprint(m *Manifest) (string, error) {
	canonical, err := CanonicalJSON(m)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return FingerprintPrefix + hex.EncodeToString(sum[:]), nil
}

// AsMap renders the manifest as a generic map, the form the kernel's
// manifest accessors return.
func (m *Manifest) AsMap() (map[string]any, error) {
	canonical, err := CanonicalJSON(m)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(canonical, &out); err != nil {
		return nil, fmt.Errorf("decode manifest map: %w", err)
	}
	return out, nil
}
