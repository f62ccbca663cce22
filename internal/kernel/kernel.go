// Package kernel owns the cooperative scheduling loop and the component
// graph around it: the task queue, the ledger, the policy-gated tool
// registry, the identity registry and the registered agents. The kernel
// owns no goroutine and no event loop; drivers advance it one explicit
// Tick at a time.
package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/vibe/internal/agent"
	"github.com/haasonsaas/vibe/internal/identity"
	"github.com/haasonsaas/vibe/internal/ledger"
	"github.com/haasonsaas/vibe/internal/observability"
	"github.com/haasonsaas/vibe/internal/policy"
	"github.com/haasonsaas/vibe/internal/queue"
	"github.com/haasonsaas/vibe/internal/task"
	"github.com/haasonsaas/vibe/internal/tools"
	"github.com/haasonsaas/vibe/internal/tools/kerneltools"
	"github.com/haasonsaas/vibe/internal/workspace"
)

// State is the kernel lifecycle state.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

// DefaultStaleAge is the started-row age after which the boot sweep
// treats a task as interrupted.
const DefaultStaleAge = time.Hour

// StaleSweep configures the optional boot-time reclassification of
// tasks the previous process started but never finished.
type StaleSweep struct {
	// Enabled turns the sweep on. Off by default: a stale started row
	// is also what a crash looks like, and some operators prefer to
	// keep that evidence untouched.
	Enabled bool

	// OlderThan is the minimum age of a started row before the sweep
	// reclassifies it. DefaultStaleAge when zero.
	OlderThan time.Duration
}

// Config wires a kernel. Every handle is optional: a zero Config yields
// a working kernel with an in-memory ledger, an ungated tool registry
// and the default logger.
type Config struct {
	// WorkspaceRoot anchors the convention-based side channels. The
	// process working directory when empty.
	WorkspaceRoot string

	// Ledger is the task history store. In-memory when nil.
	Ledger *ledger.Ledger

	// Policy gates tool execution. Only consulted when Tools is nil
	// and the kernel builds its own registry; a caller-supplied
	// registry carries its own gate.
	Policy *policy.Engine

	// Tools is the tool registry. Built from Policy and Metrics when nil.
	Tools *tools.Registry

	// Identity stores the manifests issued at boot. Fresh when nil.
	Identity *identity.Registry

	// Metrics receives operational counters. Disabled when nil.
	Metrics *observability.Metrics

	// Logger receives kernel logs. slog.Default() when nil.
	Logger *slog.Logger

	// InboxDir overrides the conventional <root>/workspace/inbox.
	InboxDir string

	// BacklogPath overrides the conventional <root>/workspace/BACKLOG.md.
	BacklogPath string

	// GitStatusEnv names the environment variable carrying the git
	// sync status. workspace.DefaultGitStatusEnv when empty.
	GitStatusEnv string

	// StaleSweep configures the boot-time reclassification sweep.
	StaleSweep StaleSweep

	// Manifest customizes the manifests issued at boot. An empty
	// AuditTrail defaults to the ledger's storage path.
	Manifest identity.GenerateOptions
}

// Kernel dispatches queued tasks to registered agents, one per tick,
// recording every lifecycle event in the ledger.
type Kernel struct {
	mu     sync.RWMutex
	state  State
	agents map[string]agent.Agent

	// tickMu serializes Tick so concurrent drivers cannot interleave a
	// dispatch. Submit deliberately stays outside it: an agent
	// delegating mid-tick submits through the same public path.
	tickMu sync.Mutex

	queue    *queue.Queue
	ledger   *ledger.Ledger
	tools    *tools.Registry
	identity *identity.Registry
	metrics  *observability.Metrics
	logger   *slog.Logger

	inboxDir     string
	backlogPath  string
	gitStatusEnv string
	staleSweep   StaleSweep
	manifestOpts identity.GenerateOptions

	// Side channels loaded at boot, advisory only.
	inbox     []workspace.Message
	backlog   *workspace.Backlog
	gitStatus string
}

// The kernel is what the late-bound kernel tools call back into.
var _ kerneltools.Kernel = (*Kernel)(nil)

// New wires a kernel from cfg. It does not boot it.
func New(cfg Config) *Kernel {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	led := cfg.Ledger
	if led == nil {
		led = ledger.Open(ledger.MemoryPath, ledger.WithLogger(logger))
	}

	reg := cfg.Tools
	if reg == nil {
		opts := []tools.RegistryOption{tools.WithLogger(logger)}
		if cfg.Policy != nil {
			opts = append(opts, tools.WithPolicy(cfg.Policy))
		}
		if cfg.Metrics != nil {
			opts = append(opts, tools.WithMetrics(cfg.Metrics))
		}
		reg = tools.NewRegistry(opts...)
	}

	ids := cfg.Identity
	if ids == nil {
		ids = identity.NewRegistry()
	}

	root := cfg.WorkspaceRoot
	if root == "" {
		root = "."
	}
	inboxDir := cfg.InboxDir
	if inboxDir == "" {
		inboxDir = filepath.Join(root, workspace.DefaultInboxDir)
	}
	backlogPath := cfg.BacklogPath
	if backlogPath == "" {
		backlogPath = filepath.Join(root, workspace.DefaultBacklogPath)
	}
	gitStatusEnv := cfg.GitStatusEnv
	if gitStatusEnv == "" {
		gitStatusEnv = workspace.DefaultGitStatusEnv
	}

	staleSweep := cfg.StaleSweep
	if staleSweep.OlderThan <= 0 {
		staleSweep.OlderThan = DefaultStaleAge
	}

	manifestOpts := cfg.Manifest
	if manifestOpts.AuditTrail == "" {
		manifestOpts.AuditTrail = led.Path()
	}

	return &Kernel{
		state:        StateStopped,
		agents:       make(map[string]agent.Agent),
		queue:        queue.New(),
		ledger:       led,
		tools:        reg,
		identity:     ids,
		metrics:      cfg.Metrics,
		logger:       logger,
		inboxDir:     inboxDir,
		backlogPath:  backlogPath,
		gitStatusEnv: gitStatusEnv,
		staleSweep:   staleSweep,
		manifestOpts: manifestOpts,
	}
}

// RegisterAgent adds an agent to the runtime registry. Duplicate ids
// are rejected. Agents registered after boot receive their manifest at
// the next boot and are not dispatchable until then.
func (k *Kernel) RegisterAgent(a agent.Agent) error {
	id := a.ID()
	if id == "" {
		return fmt.Errorf("agent has no id")
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, exists := k.agents[id]; exists {
		return fmt.Errorf("agent %q already registered", id)
	}
	k.agents[id] = a
	k.logger.Debug("agent registered", "agent_id", id, "capabilities", a.Capabilities())
	return nil
}

// UnregisterAgent removes an agent from the runtime registry. Queued
// tasks addressed to it fail at dispatch time; its manifest stays
// issued until the next boot.
func (k *Kernel) UnregisterAgent(id string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.agents[id]; !ok {
		return &UnknownAgentError{AgentID: id, Available: k.agentIDsLocked()}
	}
	delete(k.agents, id)
	k.logger.Debug("agent unregistered", "agent_id", id)
	return nil
}

// State reports the kernel lifecycle state.
func (k *Kernel) State() State {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.state
}

// Boot transitions the kernel to running: it issues a manifest for
// every registered agent, binds the late-bound kernel tools, optionally
// sweeps stale ledger rows and loads the workspace side channels.
// Booting a running kernel is allowed and reissues every manifest.
func (k *Kernel) Boot(ctx context.Context) error {
	k.mu.Lock()
	previous := k.state
	k.state = StateRunning
	agents := make([]agent.Agent, 0, len(k.agents))
	for _, a := range k.agents {
		agents = append(agents, a)
	}
	k.mu.Unlock()
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID() < agents[j].ID() })

	k.logger.Info("kernel booting",
		"previous_state", string(previous),
		"agents", len(agents),
		"ledger_path", k.ledger.Path())

	for _, a := range agents {
		m := identity.Generate(a, k.manifestOpts)
		k.identity.Put(m)
		fp, err := identity.Fingerprint(m)
		if err != nil {
			k.logger.Warn("manifest fingerprint failed", "agent_id", m.Agent.ID, "error", err)
		}
		k.logger.Info("agent identity issued",
			"agent_id", m.Agent.ID,
			"name", m.Agent.Name,
			"class", string(m.Agent.Class),
			"capabilities", m.Capabilities.Interfaces,
			"fingerprint", fp)
	}

	k.bindKernelTools()

	if k.staleSweep.Enabled {
		n, err := k.ledger.ReclassifyStale(ctx, k.staleSweep.OlderThan)
		switch {
		case err != nil:
			k.logger.Warn("stale task sweep failed", "error", err)
		case n > 0:
			k.logger.Info("stale started tasks reclassified as failed",
				"count", n,
				"older_than", k.staleSweep.OlderThan)
		}
	}

	k.loadSideChannels()

	k.logger.Info("kernel running", "queued_tasks", k.queue.Size())
	return nil
}

// Shutdown transitions the kernel to stopped. Queued tasks are
// retained; a subsequent Boot resumes processing them.
func (k *Kernel) Shutdown() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.state != StateRunning {
		return ErrNotRunning
	}
	k.state = StateStopped
	k.logger.Info("kernel stopped", "queued_tasks", k.queue.Size())
	return nil
}

// bindKernelTools injects the kernel reference into every registered
// tool that asks for one. The kernel owns the registry that owns these
// tools, so they are constructed unbound and closed over here, after
// boot.
func (k *Kernel) bindKernelTools() {
	bound := 0
	for _, name := range k.tools.Names() {
		t, ok := k.tools.Get(name)
		if !ok {
			continue
		}
		if b, ok := t.(kerneltools.Binder); ok {
			b.Bind(k)
			bound++
		}
	}
	if bound > 0 {
		k.logger.Debug("kernel tools bound", "count", bound)
	}
}

// loadSideChannels reads the advisory boot inputs: inbox messages, the
// workspace backlog and the git sync status. Failures are logged, never
// fatal.
func (k *Kernel) loadSideChannels() {
	messages, err := workspace.ScanInbox(k.inboxDir)
	if err != nil {
		k.logger.Warn("inbox scan failed", "dir", k.inboxDir, "error", err)
	} else if len(messages) > 0 {
		k.logger.Info("inbox messages loaded", "dir", k.inboxDir, "count", len(messages))
	}

	backlog, err := workspace.ParseBacklog(k.backlogPath)
	if err != nil {
		k.logger.Warn("backlog unreadable", "path", k.backlogPath, "error", err)
		backlog = nil
	} else if len(backlog.Items) > 0 {
		k.logger.Info("backlog agenda loaded",
			"path", k.backlogPath,
			"outstanding", len(backlog.Items),
			"completed", backlog.CompletedCount)
	}

	gitStatus := workspace.GitSyncStatus(k.gitStatusEnv)
	if gitStatus != "" {
		if !workspace.ValidGitStatus(gitStatus) {
			k.logger.Warn("unrecognized git sync status", "status", gitStatus)
		} else {
			k.logger.Info("git sync status", "status", gitStatus)
		}
	}

	k.mu.Lock()
	k.inbox = messages
	k.backlog = backlog
	k.gitStatus = gitStatus
	k.mu.Unlock()
}

// Submit validates the task's target and queues it, returning the task
// id. Payloads that declare the well-known delegation shape are type
// checked here, at the submission boundary. Submission is accepted on a
// stopped kernel; the manifest checks apply only once it runs.
func (k *Kernel) Submit(t *task.Task) (string, error) {
	if t == nil {
		return "", fmt.Errorf("nil task")
	}
	if task.DeclaresDelegation(t.Payload) {
		if _, err := task.DecodeDelegationPayload(t.Payload); err != nil {
			return "", fmt.Errorf("task payload: %w", err)
		}
	}
	if err := k.validateTarget(t.AgentID); err != nil {
		return "", err
	}
	if t.Created.IsZero() {
		t.Created = time.Now().UTC()
	}

	id := k.queue.Submit(t)
	depth := k.queue.Size()
	if k.metrics != nil {
		k.metrics.TasksSubmitted.WithLabelValues(t.AgentID).Inc()
		k.metrics.QueueDepth.Set(float64(depth))
	}
	k.logger.Debug("task submitted", "task_id", id, "agent_id", t.AgentID, "queue_depth", depth)
	return id, nil
}

// validateTarget is the delegation validation shared by Submit and the
// delegate_task tool (which submits through Submit): the target must be
// registered, and on a running kernel its manifest must exist and carry
// the active status.
func (k *Kernel) validateTarget(agentID string) error {
	k.mu.RLock()
	_, registered := k.agents[agentID]
	running := k.state == StateRunning
	available := k.agentIDsLocked()
	k.mu.RUnlock()

	if !registered {
		return &UnknownAgentError{AgentID: agentID, Available: available}
	}
	if !running {
		return nil
	}

	m := k.identity.Get(agentID)
	if m == nil {
		return &AgentInactiveError{AgentID: agentID, Status: manifestUnissued}
	}
	if m.Agent.Status != identity.StatusActive {
		return &AgentInactiveError{AgentID: agentID, Status: m.Agent.Status}
	}
	return nil
}

// Tick advances the loop by one step: dequeue one task, record its
// start, run the agent, record the terminal state. The bool reports
// whether a task was dequeued. Agent failures are recorded in the
// ledger first and then returned unchanged; agent panics are recorded
// and re-raised. A tick on a stopped kernel logs a warning, dequeues
// nothing and returns false.
func (k *Kernel) Tick(ctx context.Context) (bool, error) {
	if k.State() != StateRunning {
		k.logger.Warn("tick ignored: kernel is not running")
		return false, nil
	}

	k.tickMu.Lock()
	defer k.tickMu.Unlock()

	t := k.queue.Next()
	if k.metrics != nil {
		k.metrics.QueueDepth.Set(float64(k.queue.Size()))
	}
	if t == nil {
		if k.metrics != nil {
			k.metrics.Ticks.WithLabelValues("idle").Inc()
		}
		return false, nil
	}
	if k.metrics != nil {
		k.metrics.Ticks.WithLabelValues("dispatched").Inc()
	}

	start := time.Now()
	k.logger.Info("task dispatch started", "task_id", t.ID, "agent_id", t.AgentID)
	k.ledger.RecordStart(ctx, t)

	k.mu.RLock()
	a := k.agents[t.AgentID]
	available := k.agentIDsLocked()
	k.mu.RUnlock()
	if a == nil {
		// The agent was unregistered between submit and dispatch.
		err := &UnknownAgentError{AgentID: t.AgentID, Available: available}
		k.recordFailure(ctx, t, err, start)
		return true, err
	}

	resp, err := k.process(ctx, t, a, start)
	if err != nil {
		k.recordFailure(ctx, t, err, start)
		return true, err
	}

	if resp.ToolCall != nil && resp.ToolResult == nil {
		resp.ToolResult = k.tools.Execute(ctx, *resp.ToolCall)
	}
	if resp.AgentID == "" {
		resp.AgentID = t.AgentID
	}
	if resp.TaskID == "" {
		resp.TaskID = t.ID
	}

	k.ledger.RecordCompletion(ctx, t, resp.AsMap())
	k.observeFinish(t, ledger.StatusCompleted, start)
	k.logger.Info("task dispatch completed",
		"task_id", t.ID,
		"agent_id", t.AgentID,
		"success", resp.Success,
		"duration", time.Since(start))
	return true, nil
}

// process runs the agent's hook. A panic is recorded as a failure and
// re-raised unchanged; the ledger write lands before the panic leaves
// the kernel, like every other terminal path.
func (k *Kernel) process(ctx context.Context, t *task.Task, a agent.Agent, start time.Time) (resp *agent.Response, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			k.logger.Error("agent panicked",
				"task_id", t.ID,
				"agent_id", t.AgentID,
				"panic", fmt.Sprint(rec))
			k.ledger.RecordFailure(ctx, t, fmt.Sprintf("panic: %v", rec))
			k.observeFinish(t, ledger.StatusFailed, start)
			panic(rec)
		}
	}()

	resp, err = a.Process(ctx, t)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("agent %s returned no response", t.AgentID)
	}
	return resp, nil
}

// recordFailure writes the terminal failed row, combining the error's
// type and text, and updates the dispatch metrics.
func (k *Kernel) recordFailure(ctx context.Context, t *task.Task, err error, start time.Time) {
	k.ledger.RecordFailure(ctx, t, fmt.Sprintf("%T: %v", err, err))
	k.observeFinish(t, ledger.StatusFailed, start)
	k.logger.Warn("task dispatch failed",
		"task_id", t.ID,
		"agent_id", t.AgentID,
		"error", err)
}

func (k *Kernel) observeFinish(t *task.Task, status ledger.Status, start time.Time) {
	if k.metrics == nil {
		return
	}
	k.metrics.TasksFinished.WithLabelValues(t.AgentID, string(status)).Inc()
	if !start.IsZero() {
		k.metrics.TickDuration.Observe(time.Since(start).Seconds())
	}
}

// GetTaskResult returns the ledger record for the task id, or
// (nil, nil) when the id has never been dispatched.
func (k *Kernel) GetTaskResult(ctx context.Context, id string) (*ledger.Record, error) {
	return k.ledger.GetTask(ctx, id)
}

// GetTaskOutput returns only the recorded output of the task, or nil
// when the task is unknown or has no output yet.
func (k *Kernel) GetTaskOutput(ctx context.Context, id string) (map[string]any, error) {
	rec, err := k.ledger.GetTask(ctx, id)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.OutputResult, nil
}

// GetAgentManifest returns the issued manifest for the agent id as its
// canonical document form, or nil when no manifest exists.
func (k *Kernel) GetAgentManifest(agentID string) map[string]any {
	m := k.identity.Get(agentID)
	if m == nil {
		return nil
	}
	doc, err := m.AsMap()
	if err != nil {
		k.logger.Warn("manifest not renderable", "agent_id", agentID, "error", err)
		return nil
	}
	return doc
}

// FindAgentsByCapability returns the manifests of every agent that
// declared the capability, in agent-id order, in document form.
func (k *Kernel) FindAgentsByCapability(capability string) []map[string]any {
	matches := k.identity.FindByCapability(capability)
	out := make([]map[string]any, 0, len(matches))
	for _, m := range matches {
		doc, err := m.AsMap()
		if err != nil {
			k.logger.Warn("manifest not renderable", "agent_id", m.Agent.ID, "error", err)
			continue
		}
		out = append(out, doc)
	}
	return out
}

// Tools returns the kernel's tool registry. Drivers register tools on
// it before boot.
func (k *Kernel) Tools() *tools.Registry {
	return k.tools
}

// QueueSize reports the number of tasks waiting for dispatch.
func (k *Kernel) QueueSize() int {
	return k.queue.Size()
}

// Agents returns the registered agent ids, sorted.
func (k *Kernel) Agents() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.agentIDsLocked()
}

// agentIDsLocked returns the sorted agent ids. Callers hold k.mu.
func (k *Kernel) agentIDsLocked() []string {
	ids := make([]string, 0, len(k.agents))
	for id := range k.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// InboxMessages returns the inbox messages loaded at the last boot.
func (k *Kernel) InboxMessages() []workspace.Message {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return append([]workspace.Message(nil), k.inbox...)
}

// BacklogItems returns the outstanding agenda entries parsed from the
// workspace backlog at the last boot.
func (k *Kernel) BacklogItems() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.backlog == nil {
		return nil
	}
	return append([]string(nil), k.backlog.Items...)
}

// GitStatus returns the git synchronization status read from the
// environment at the last boot, verbatim.
func (k *Kernel) GitStatus() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.gitStatus
}
