package kernel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/vibe/internal/agent"
	"github.com/haasonsaas/vibe/internal/ledger"
	"github.com/haasonsaas/vibe/internal/observability"
	"github.com/haasonsaas/vibe/internal/task"
	"github.com/haasonsaas/vibe/internal/tools"
	"github.com/haasonsaas/vibe/internal/tools/kerneltools"
	"github.com/haasonsaas/vibe/internal/workspace"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoAgent succeeds on every task, echoing the payload back.
func echoAgent(id string, caps ...string) *agent.Func {
	return &agent.Func{
		AgentID:   id,
		AgentCaps: caps,
		Handler: func(ctx context.Context, t *task.Task) (*agent.Response, error) {
			return &agent.Response{Success: true, Output: map[string]any{"echo": t.Payload}}, nil
		},
	}
}

func newTestKernel(t *testing.T, agents ...agent.Agent) *Kernel {
	t.Helper()
	k := New(Config{WorkspaceRoot: t.TempDir(), Logger: quietLogger()})
	for _, a := range agents {
		if err := k.RegisterAgent(a); err != nil {
			t.Fatalf("RegisterAgent(%s): %v", a.ID(), err)
		}
	}
	return k
}

func mustSubmit(t *testing.T, k *Kernel, tk *task.Task) string {
	t.Helper()
	id, err := k.Submit(tk)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return id
}

func mustBoot(t *testing.T, k *Kernel) {
	t.Helper()
	if err := k.Boot(context.Background()); err != nil {
		t.Fatalf("Boot: %v", err)
	}
}

func TestLifecycleStates(t *testing.T) {
	k := newTestKernel(t, echoAgent("worker"))

	if got := k.State(); got != StateStopped {
		t.Fatalf("new kernel state = %q, want %q", got, StateStopped)
	}
	mustBoot(t, k)
	if got := k.State(); got != StateRunning {
		t.Fatalf("state after boot = %q, want %q", got, StateRunning)
	}
	if err := k.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := k.State(); got != StateStopped {
		t.Fatalf("state after shutdown = %q, want %q", got, StateStopped)
	}
	if err := k.Shutdown(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("second Shutdown error = %v, want ErrNotRunning", err)
	}
	// Boot is reentrant: a running or restarted kernel may boot again.
	mustBoot(t, k)
	mustBoot(t, k)
	if got := k.State(); got != StateRunning {
		t.Fatalf("state after reboot = %q, want %q", got, StateRunning)
	}
}

func TestRegisterAgentRejectsDuplicates(t *testing.T) {
	k := newTestKernel(t, echoAgent("worker"))
	if err := k.RegisterAgent(echoAgent("worker")); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if err := k.RegisterAgent(echoAgent("")); err == nil {
		t.Fatal("expected empty agent id to fail")
	}
	if got := k.Agents(); len(got) != 1 || got[0] != "worker" {
		t.Fatalf("Agents() = %v, want [worker]", got)
	}
}

func TestSubmitUnknownAgent(t *testing.T) {
	k := newTestKernel(t, echoAgent("alpha"), echoAgent("beta"))

	_, err := k.Submit(task.New("ghost", nil))
	var unknown *UnknownAgentError
	if !errors.As(err, &unknown) {
		t.Fatalf("Submit error = %v, want *UnknownAgentError", err)
	}
	if unknown.AgentID != "ghost" {
		t.Errorf("AgentID = %q, want %q", unknown.AgentID, "ghost")
	}
	if want := []string{"alpha", "beta"}; len(unknown.Available) != 2 ||
		unknown.Available[0] != want[0] || unknown.Available[1] != want[1] {
		t.Errorf("Available = %v, want %v", unknown.Available, want)
	}
	if !strings.Contains(err.Error(), "available: alpha, beta") {
		t.Errorf("error text = %q, want available list", err.Error())
	}
}

func TestSubmitQueuesBeforeBoot(t *testing.T) {
	k := newTestKernel(t, echoAgent("worker"))

	id := mustSubmit(t, k, task.New("worker", map[string]any{"n": 1}))
	if id == "" {
		t.Fatal("Submit returned empty task id")
	}
	if got := k.QueueSize(); got != 1 {
		t.Fatalf("QueueSize = %d, want 1", got)
	}

	// A stopped kernel refuses to dispatch but keeps the queue intact.
	if dispatched, err := k.Tick(context.Background()); dispatched || err != nil {
		t.Fatalf("Tick on stopped kernel = (%v, %v), want (false, nil)", dispatched, err)
	}
	if got := k.QueueSize(); got != 1 {
		t.Fatalf("QueueSize after stopped tick = %d, want 1", got)
	}

	mustBoot(t, k)
	if dispatched, err := k.Tick(context.Background()); !dispatched || err != nil {
		t.Fatalf("Tick after boot = (%v, %v), want (true, nil)", dispatched, err)
	}
}

func TestSubmitRequiresActiveManifestWhileRunning(t *testing.T) {
	k := newTestKernel(t, echoAgent("early"))
	mustBoot(t, k)

	// Registered after boot: known to the runtime, no manifest yet.
	if err := k.RegisterAgent(echoAgent("late")); err != nil {
		t.Fatalf("RegisterAgent(late): %v", err)
	}

	_, err := k.Submit(task.New("late", nil))
	var inactive *AgentInactiveError
	if !errors.As(err, &inactive) {
		t.Fatalf("Submit error = %v, want *AgentInactiveError", err)
	}
	if inactive.Status != manifestUnissued {
		t.Errorf("Status = %q, want %q", inactive.Status, manifestUnissued)
	}

	mustSubmit(t, k, task.New("early", nil))

	// The next boot issues the missing manifest.
	mustBoot(t, k)
	mustSubmit(t, k, task.New("late", nil))
}

func TestSubmitValidatesDelegationPayload(t *testing.T) {
	k := newTestKernel(t, echoAgent("worker"))

	cases := []struct {
		name    string
		payload map[string]any
		wantErr bool
	}{
		{"well-formed delegation", map[string]any{"user_message": "do the thing"}, false},
		{"mistyped user_message", map[string]any{"user_message": 42}, true},
		{"mistyped context", map[string]any{"user_message": "hi", "context": "not a map"}, true},
		{"agent-specific payload", map[string]any{"rows": 42}, false},
		{"nil payload", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := k.Submit(task.New("worker", tc.payload))
			if tc.wantErr && err == nil {
				t.Fatal("expected submit to fail")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("Submit: %v", err)
			}
		})
	}

	if _, err := k.Submit(nil); err == nil {
		t.Fatal("expected nil task to fail")
	}
}

func TestTickEmptyQueue(t *testing.T) {
	k := newTestKernel(t, echoAgent("worker"))
	mustBoot(t, k)
	if dispatched, err := k.Tick(context.Background()); dispatched || err != nil {
		t.Fatalf("Tick = (%v, %v), want (false, nil)", dispatched, err)
	}
}

func TestTickDispatchesInSubmissionOrder(t *testing.T) {
	var order []string
	recorder := &agent.Func{
		AgentID: "worker",
		Handler: func(ctx context.Context, tk *task.Task) (*agent.Response, error) {
			order = append(order, tk.Payload["label"].(string))
			return &agent.Response{Success: true}, nil
		},
	}
	k := newTestKernel(t, recorder)
	mustBoot(t, k)

	// Priority is stored but never consulted: dispatch stays FIFO.
	first := task.New("worker", map[string]any{"label": "first"})
	second := task.New("worker", map[string]any{"label": "second"})
	second.Priority = 99
	third := task.New("worker", map[string]any{"label": "third"})
	mustSubmit(t, k, first)
	mustSubmit(t, k, second)
	mustSubmit(t, k, third)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if dispatched, err := k.Tick(ctx); !dispatched || err != nil {
			t.Fatalf("Tick %d = (%v, %v), want (true, nil)", i, dispatched, err)
		}
	}
	want := []string{"first", "second", "third"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("dispatch order = %v, want %v", order, want)
		}
	}
	if got := k.QueueSize(); got != 0 {
		t.Fatalf("QueueSize after drain = %d, want 0", got)
	}
}

func TestTickRecordsCompletion(t *testing.T) {
	k := newTestKernel(t, echoAgent("worker"))
	mustBoot(t, k)

	ctx := context.Background()
	id := mustSubmit(t, k, task.New("worker", map[string]any{"q": "state of things"}))
	if dispatched, err := k.Tick(ctx); !dispatched || err != nil {
		t.Fatalf("Tick = (%v, %v), want (true, nil)", dispatched, err)
	}

	rec, err := k.GetTaskResult(ctx, id)
	if err != nil {
		t.Fatalf("GetTaskResult: %v", err)
	}
	if rec == nil {
		t.Fatal("no ledger record after completion")
	}
	if rec.Status != ledger.StatusCompleted {
		t.Fatalf("status = %q, want %q", rec.Status, ledger.StatusCompleted)
	}
	if rec.AgentID != "worker" {
		t.Errorf("agent_id = %q, want %q", rec.AgentID, "worker")
	}
	if rec.InputPayload["q"] != "state of things" {
		t.Errorf("input payload = %v, want original payload", rec.InputPayload)
	}
	if rec.OutputResult["success"] != true {
		t.Errorf("output.success = %v, want true", rec.OutputResult["success"])
	}
	// The kernel stamps the response with its provenance.
	if rec.OutputResult["agent_id"] != "worker" || rec.OutputResult["task_id"] != id {
		t.Errorf("output provenance = %v/%v, want worker/%s",
			rec.OutputResult["agent_id"], rec.OutputResult["task_id"], id)
	}

	out, err := k.GetTaskOutput(ctx, id)
	if err != nil {
		t.Fatalf("GetTaskOutput: %v", err)
	}
	if out["success"] != true {
		t.Errorf("GetTaskOutput = %v, want recorded response", out)
	}
	if missing, err := k.GetTaskOutput(ctx, "never-submitted"); missing != nil || err != nil {
		t.Errorf("GetTaskOutput(unknown) = (%v, %v), want (nil, nil)", missing, err)
	}
}

func TestTickRecordsFailureBeforeReturningIt(t *testing.T) {
	boom := errors.New("planner backend unreachable")
	failing := &agent.Func{
		AgentID: "worker",
		Handler: func(ctx context.Context, tk *task.Task) (*agent.Response, error) {
			return nil, boom
		},
	}
	k := newTestKernel(t, failing)
	mustBoot(t, k)

	ctx := context.Background()
	id := mustSubmit(t, k, task.New("worker", nil))

	dispatched, err := k.Tick(ctx)
	if !dispatched {
		t.Fatal("Tick dispatched = false, want true")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("Tick error = %v, want the agent's own error", err)
	}

	rec, lerr := k.GetTaskResult(ctx, id)
	if lerr != nil || rec == nil {
		t.Fatalf("GetTaskResult = (%v, %v), want failed record", rec, lerr)
	}
	if rec.Status != ledger.StatusFailed {
		t.Fatalf("status = %q, want %q", rec.Status, ledger.StatusFailed)
	}
	// The recorded message carries the error's type and text.
	if !strings.Contains(rec.ErrorMessage, "planner backend unreachable") {
		t.Errorf("error message = %q, want the error text", rec.ErrorMessage)
	}
	if !strings.Contains(rec.ErrorMessage, "errorString") {
		t.Errorf("error message = %q, want the error type", rec.ErrorMessage)
	}
}

func TestTickRejectsNilResponse(t *testing.T) {
	silent := &agent.Func{
		AgentID: "worker",
		Handler: func(ctx context.Context, tk *task.Task) (*agent.Response, error) {
			return nil, nil
		},
	}
	k := newTestKernel(t, silent)
	mustBoot(t, k)

	ctx := context.Background()
	id := mustSubmit(t, k, task.New("worker", nil))

	dispatched, err := k.Tick(ctx)
	if !dispatched || err == nil {
		t.Fatalf("Tick = (%v, %v), want (true, error)", dispatched, err)
	}
	if !strings.Contains(err.Error(), "returned no response") {
		t.Errorf("error = %v, want nil-response complaint", err)
	}
	rec, _ := k.GetTaskResult(ctx, id)
	if rec == nil || rec.Status != ledger.StatusFailed {
		t.Fatalf("record = %+v, want failed", rec)
	}
}

func TestTickRecordsPanicThenRepanics(t *testing.T) {
	bomber := &agent.Func{
		AgentID: "worker",
		Handler: func(ctx context.Context, tk *task.Task) (*agent.Response, error) {
			panic("index out of range in plan builder")
		},
	}
	k := newTestKernel(t, bomber)
	mustBoot(t, k)

	ctx := context.Background()
	id := mustSubmit(t, k, task.New("worker", nil))

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected the agent panic to propagate out of Tick")
			}
		}()
		k.Tick(ctx)
	}()

	rec, err := k.GetTaskResult(ctx, id)
	if err != nil || rec == nil {
		t.Fatalf("GetTaskResult = (%v, %v), want failed record", rec, err)
	}
	if rec.Status != ledger.StatusFailed {
		t.Fatalf("status = %q, want %q", rec.Status, ledger.StatusFailed)
	}
	if !strings.Contains(rec.ErrorMessage, "panic: index out of range") {
		t.Errorf("error message = %q, want panic text", rec.ErrorMessage)
	}
}

func TestTickFailsTaskWhoseAgentLeft(t *testing.T) {
	k := newTestKernel(t, echoAgent("worker"))
	mustBoot(t, k)

	ctx := context.Background()
	id := mustSubmit(t, k, task.New("worker", nil))
	if err := k.UnregisterAgent("worker"); err != nil {
		t.Fatalf("UnregisterAgent: %v", err)
	}

	dispatched, err := k.Tick(ctx)
	if !dispatched {
		t.Fatal("Tick dispatched = false, want true")
	}
	var unknown *UnknownAgentError
	if !errors.As(err, &unknown) {
		t.Fatalf("Tick error = %v, want *UnknownAgentError", err)
	}
	rec, _ := k.GetTaskResult(ctx, id)
	if rec == nil || rec.Status != ledger.StatusFailed {
		t.Fatalf("record = %+v, want failed", rec)
	}
}

// staticTool returns a fixed output, standing in for a real tool.
type staticTool struct {
	tools.BaseTool
	out map[string]any
}

func (s *staticTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	return tools.Succeed(s.out), nil
}

func TestTickExecutesEmbeddedToolCall(t *testing.T) {
	caller := &agent.Func{
		AgentID: "worker",
		Handler: func(ctx context.Context, tk *task.Task) (*agent.Response, error) {
			return &agent.Response{
				Success:  true,
				ToolCall: &tools.Invocation{Tool: "lookup", Parameters: map[string]any{}},
			}, nil
		},
	}
	k := newTestKernel(t, caller)
	err := k.Tools().Register(&staticTool{
		BaseTool: tools.NewBase("lookup", "Fixed lookup.", nil),
		out:      map[string]any{"answer": "42"},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	mustBoot(t, k)

	ctx := context.Background()
	id := mustSubmit(t, k, task.New("worker", nil))
	if dispatched, err := k.Tick(ctx); !dispatched || err != nil {
		t.Fatalf("Tick = (%v, %v), want (true, nil)", dispatched, err)
	}

	rec, err := k.GetTaskResult(ctx, id)
	if err != nil || rec == nil {
		t.Fatalf("GetTaskResult = (%v, %v), want completed record", rec, err)
	}
	toolResult, ok := rec.OutputResult["tool_result"].(map[string]any)
	if !ok {
		t.Fatalf("recorded output %v carries no tool_result", rec.OutputResult)
	}
	if toolResult["success"] != true {
		t.Errorf("tool_result.success = %v, want true", toolResult["success"])
	}
	output, _ := toolResult["output"].(map[string]any)
	if output["answer"] != "42" {
		t.Errorf("tool_result.output = %v, want the tool's output", toolResult["output"])
	}
}

// TestDelegationRoundTrip walks the full loop: an orchestrator delegates
// to a planner through the delegate_task tool, the planner's task joins
// the queue tail, and inspect_result reads its recorded output back.
func TestDelegationRoundTrip(t *testing.T) {
	orchestrator := &agent.Func{
		AgentID:   "orchestrator",
		AgentCaps: []string{"coordination"},
		Handler: func(ctx context.Context, tk *task.Task) (*agent.Response, error) {
			return &agent.Response{
				Success: true,
				ToolCall: &tools.Invocation{
					Tool: "delegate_task",
					Parameters: map[string]any{
						"agent_id": "planner",
						"payload":  map[string]any{"user_message": "plan the migration"},
					},
				},
			}, nil
		},
	}
	planner := &agent.Func{
		AgentID:   "planner",
		AgentCaps: []string{"planning"},
		Handler: func(ctx context.Context, tk *task.Task) (*agent.Response, error) {
			return &agent.Response{
				Success: true,
				Output:  map[string]any{"plan": "1. freeze writes 2. copy 3. cut over"},
			}, nil
		},
	}

	k := newTestKernel(t, orchestrator, planner)
	if err := k.Tools().Register(kerneltools.NewDelegateTool()); err != nil {
		t.Fatalf("register delegate_task: %v", err)
	}
	if err := k.Tools().Register(kerneltools.NewInspectTool()); err != nil {
		t.Fatalf("register inspect_result: %v", err)
	}
	mustBoot(t, k)

	ctx := context.Background()
	rootID := mustSubmit(t, k, task.New("orchestrator", map[string]any{"user_message": "migrate the db"}))

	if dispatched, err := k.Tick(ctx); !dispatched || err != nil {
		t.Fatalf("first Tick = (%v, %v), want (true, nil)", dispatched, err)
	}
	if got := k.QueueSize(); got != 1 {
		t.Fatalf("QueueSize after delegation = %d, want 1", got)
	}

	rootRec, err := k.GetTaskResult(ctx, rootID)
	if err != nil || rootRec == nil || rootRec.Status != ledger.StatusCompleted {
		t.Fatalf("orchestrator record = (%+v, %v), want completed", rootRec, err)
	}
	toolResult, _ := rootRec.OutputResult["tool_result"].(map[string]any)
	delegated, _ := toolResult["output"].(map[string]any)
	childID, _ := delegated["task_id"].(string)
	if childID == "" {
		t.Fatalf("delegation output = %v, want a task_id", toolResult)
	}
	if delegated["agent_id"] != "planner" {
		t.Errorf("delegation agent_id = %v, want planner", delegated["agent_id"])
	}

	if dispatched, err := k.Tick(ctx); !dispatched || err != nil {
		t.Fatalf("second Tick = (%v, %v), want (true, nil)", dispatched, err)
	}
	childRec, err := k.GetTaskResult(ctx, childID)
	if err != nil || childRec == nil || childRec.Status != ledger.StatusCompleted {
		t.Fatalf("planner record = (%+v, %v), want completed", childRec, err)
	}
	if output, _ := childRec.OutputResult["output"].(map[string]any); output["plan"] == "" {
		t.Errorf("planner output = %v, want the plan", childRec.OutputResult)
	}

	// inspect_result reads the planner's recorded outcome back out.
	inspect := k.Tools().Execute(ctx, tools.Invocation{
		Tool:       "inspect_result",
		Parameters: map[string]any{"task_id": childID},
	})
	if !inspect.Success {
		t.Fatalf("inspect_result failed: %s", inspect.Error)
	}
	if inspect.Output["status"] != string(ledger.StatusCompleted) {
		t.Errorf("inspect status = %v, want completed", inspect.Output["status"])
	}
	recorded, _ := inspect.Output["output"].(map[string]any)
	if plan, _ := recorded["output"].(map[string]any); plan["plan"] == "" {
		t.Errorf("inspect output = %v, want the planner's response", inspect.Output)
	}

	// The queue is drained; nothing else was scheduled.
	if dispatched, err := k.Tick(ctx); dispatched || err != nil {
		t.Fatalf("drained Tick = (%v, %v), want (false, nil)", dispatched, err)
	}
}

func TestBootIssuesManifests(t *testing.T) {
	k := newTestKernel(t,
		echoAgent("planner", "planning", "estimation"),
		echoAgent("coder", "code_generation"),
	)
	mustBoot(t, k)

	doc := k.GetAgentManifest("planner")
	if doc == nil {
		t.Fatal("no manifest for planner after boot")
	}
	if doc["protocol_version"] != "1.0" {
		t.Errorf("protocol_version = %v, want 1.0", doc["protocol_version"])
	}
	info, _ := doc["agent"].(map[string]any)
	if info["id"] != "planner" || info["status"] != "active" {
		t.Errorf("agent section = %v, want active planner", info)
	}

	if k.GetAgentManifest("ghost") != nil {
		t.Error("expected no manifest for unregistered agent")
	}

	matches := k.FindAgentsByCapability("planning")
	if len(matches) != 1 {
		t.Fatalf("FindAgentsByCapability(planning) = %d matches, want 1", len(matches))
	}
	info, _ = matches[0]["agent"].(map[string]any)
	if info["id"] != "planner" {
		t.Errorf("match = %v, want planner", info)
	}
	if got := k.FindAgentsByCapability("welding"); len(got) != 0 {
		t.Errorf("FindAgentsByCapability(welding) = %v, want none", got)
	}
}

func TestBootLoadsSideChannels(t *testing.T) {
	root := t.TempDir()
	inboxDir := filepath.Join(root, workspace.DefaultInboxDir)
	if err := os.MkdirAll(inboxDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, content := range map[string]string{
		"0002-scope.md": "# Scope\nKeep it small.",
		"0001-hello.md": "# Hello\nWelcome aboard.",
	} {
		if err := os.WriteFile(filepath.Join(inboxDir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	backlog := "# Backlog\n\n## Outstanding Tasks\n\n- [ ] wire the exporter\n- [ ] document the policy file\n\n## Completed Tasks\n\n- [x] pick a storage engine\n"
	if err := os.WriteFile(filepath.Join(root, workspace.DefaultBacklogPath), []byte(backlog), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(workspace.DefaultGitStatusEnv, "BEHIND_BY_2")

	k := New(Config{WorkspaceRoot: root, Logger: quietLogger()})
	if err := k.RegisterAgent(echoAgent("worker")); err != nil {
		t.Fatal(err)
	}
	mustBoot(t, k)

	messages := k.InboxMessages()
	if len(messages) != 2 {
		t.Fatalf("InboxMessages = %d, want 2", len(messages))
	}
	if messages[0].Filename != "0001-hello.md" || messages[1].Filename != "0002-scope.md" {
		t.Errorf("inbox order = %s, %s; want lexicographic", messages[0].Filename, messages[1].Filename)
	}

	items := k.BacklogItems()
	if len(items) != 2 || items[0] != "wire the exporter" {
		t.Errorf("BacklogItems = %v, want the outstanding entries", items)
	}

	if got := k.GitStatus(); got != "BEHIND_BY_2" {
		t.Errorf("GitStatus = %q, want BEHIND_BY_2", got)
	}
}

func TestBootMissingSideChannelsIsFine(t *testing.T) {
	k := newTestKernel(t, echoAgent("worker"))
	mustBoot(t, k)
	if got := k.InboxMessages(); len(got) != 0 {
		t.Errorf("InboxMessages = %v, want none", got)
	}
	if got := k.BacklogItems(); len(got) != 0 {
		t.Errorf("BacklogItems = %v, want none", got)
	}
}

func TestBootStaleSweep(t *testing.T) {
	ctx := context.Background()

	// A row started two hours ago by a process that never finished it.
	current := time.Now().Add(-2 * time.Hour)
	led := ledger.Open("",
		ledger.WithLogger(quietLogger()),
		ledger.WithClock(func() time.Time { return current }))
	stale := task.New("worker", map[string]any{"n": 1})
	led.RecordStart(ctx, stale)
	current = time.Now()

	k := New(Config{
		WorkspaceRoot: t.TempDir(),
		Logger:        quietLogger(),
		Ledger:        led,
		StaleSweep:    StaleSweep{Enabled: true, OlderThan: time.Hour},
	})
	if err := k.RegisterAgent(echoAgent("worker")); err != nil {
		t.Fatal(err)
	}
	mustBoot(t, k)

	rec, err := k.GetTaskResult(ctx, stale.ID)
	if err != nil || rec == nil {
		t.Fatalf("GetTaskResult = (%+v, %v), want reclassified record", rec, err)
	}
	if rec.Status != ledger.StatusFailed {
		t.Fatalf("status = %q, want %q after sweep", rec.Status, ledger.StatusFailed)
	}
	if !strings.Contains(rec.ErrorMessage, "interrupted") {
		t.Errorf("error message = %q, want interruption note", rec.ErrorMessage)
	}
}

func TestBootStaleSweepOffByDefault(t *testing.T) {
	ctx := context.Background()

	current := time.Now().Add(-2 * time.Hour)
	led := ledger.Open("",
		ledger.WithLogger(quietLogger()),
		ledger.WithClock(func() time.Time { return current }))
	stale := task.New("worker", nil)
	led.RecordStart(ctx, stale)
	current = time.Now()

	k := New(Config{WorkspaceRoot: t.TempDir(), Logger: quietLogger(), Ledger: led})
	if err := k.RegisterAgent(echoAgent("worker")); err != nil {
		t.Fatal(err)
	}
	mustBoot(t, k)

	rec, err := k.GetTaskResult(ctx, stale.ID)
	if err != nil || rec == nil {
		t.Fatalf("GetTaskResult = (%+v, %v), want untouched record", rec, err)
	}
	if rec.Status != ledger.StatusStarted {
		t.Fatalf("status = %q, want %q without sweep", rec.Status, ledger.StatusStarted)
	}
}

func TestMetricsTrackDispatch(t *testing.T) {
	m := observability.NewMetricsWith(prometheus.NewRegistry())
	flaky := &agent.Func{
		AgentID: "worker",
		Handler: func(ctx context.Context, tk *task.Task) (*agent.Response, error) {
			if tk.Payload["fail"] == true {
				return nil, errors.New("induced failure")
			}
			return &agent.Response{Success: true}, nil
		},
	}
	k := New(Config{WorkspaceRoot: t.TempDir(), Logger: quietLogger(), Metrics: m})
	if err := k.RegisterAgent(flaky); err != nil {
		t.Fatal(err)
	}
	mustBoot(t, k)

	ctx := context.Background()
	mustSubmit(t, k, task.New("worker", map[string]any{"fail": false}))
	mustSubmit(t, k, task.New("worker", map[string]any{"fail": true}))
	k.Tick(ctx)
	k.Tick(ctx)
	k.Tick(ctx) // idle

	if got := testutil.ToFloat64(m.TasksSubmitted.WithLabelValues("worker")); got != 2 {
		t.Errorf("tasks_submitted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.TasksFinished.WithLabelValues("worker", "completed")); got != 1 {
		t.Errorf("tasks_finished{completed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TasksFinished.WithLabelValues("worker", "failed")); got != 1 {
		t.Errorf("tasks_finished{failed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Ticks.WithLabelValues("dispatched")); got != 2 {
		t.Errorf("ticks{dispatched} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Ticks.WithLabelValues("idle")); got != 1 {
		t.Errorf("ticks{idle} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.QueueDepth); got != 0 {
		t.Errorf("queue_depth = %v, want 0", got)
	}
}

func TestShutdownRetainsQueue(t *testing.T) {
	k := newTestKernel(t, echoAgent("worker"))
	mustBoot(t, k)

	ctx := context.Background()
	id := mustSubmit(t, k, task.New("worker", nil))
	if err := k.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := k.QueueSize(); got != 1 {
		t.Fatalf("QueueSize after shutdown = %d, want 1", got)
	}

	mustBoot(t, k)
	if dispatched, err := k.Tick(ctx); !dispatched || err != nil {
		t.Fatalf("Tick after reboot = (%v, %v), want (true, nil)", dispatched, err)
	}
	rec, _ := k.GetTaskResult(ctx, id)
	if rec == nil || rec.Status != ledger.StatusCompleted {
		t.Fatalf("record = %+v, want completed after reboot", rec)
	}
}
