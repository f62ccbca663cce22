package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/vibe/internal/config"
	"github.com/haasonsaas/vibe/internal/identity"
	"github.com/haasonsaas/vibe/internal/ledger"
	"github.com/haasonsaas/vibe/internal/policy"
	"github.com/haasonsaas/vibe/internal/workspace"
)

// activeConfig loads the config named by --config. A missing file is
// only an error when the operator pointed at one explicitly; the
// default path quietly falls back to the built-in defaults.
func activeConfig(cmd *cobra.Command) (*config.Config, error) {
	explicit := cmd.Flags().Changed("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return config.Parse(nil)
		}
		return nil, err
	}
	return cfg, nil
}

// openLedger resolves the ledger path (flag beats config) and opens it
// read-style: a path with no database behind it is an error rather than
// a fresh empty file.
func openLedger(cmd *cobra.Command, ledgerFlag string) (*ledger.Ledger, error) {
	path := ledgerFlag
	if path == "" {
		cfg, err := activeConfig(cmd)
		if err != nil {
			return nil, err
		}
		path = cfg.Ledger.Path
	}
	if path != ledger.MemoryPath {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("no task history at %s", path)
		}
	}
	return ledger.Open(path), nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

// =============================================================================
// Workspace Command Handlers
// =============================================================================

func runInit(cmd *cobra.Command, dir string, force bool) error {
	result, err := workspace.EnsureWorkspaceFiles(dir, workspace.DefaultBootstrapFiles(), force)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, path := range result.Created {
		fmt.Fprintf(out, "created  %s\n", path)
	}
	for _, path := range result.Skipped {
		fmt.Fprintf(out, "skipped  %s (exists)\n", path)
	}
	fmt.Fprintf(out, "Workspace ready at %s\n", dir)
	return nil
}

// =============================================================================
// Ledger Command Handlers
// =============================================================================

func runHistory(cmd *cobra.Command, ledgerFlag string, limit int, status, agentID string, jsonOutput bool) error {
	switch status {
	case "", string(ledger.StatusStarted), string(ledger.StatusCompleted), string(ledger.StatusFailed):
	default:
		return fmt.Errorf("status %q is not one of started, completed, failed", status)
	}

	led, err := openLedger(cmd, ledgerFlag)
	if err != nil {
		return err
	}
	defer led.Close()

	records, err := led.GetHistory(cmd.Context(), ledger.HistoryOptions{
		Limit:   limit,
		Status:  ledger.Status(status),
		AgentID: agentID,
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd, records)
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "No recorded tasks.")
		return nil
	}
	fmt.Fprintf(out, "%-9s  %-36s  %-24s  %s\n", "STATUS", "TASK", "AGENT", "TIMESTAMP")
	for _, rec := range records {
		fmt.Fprintf(out, "%-9s  %-36s  %-24s  %s\n", rec.Status, rec.TaskID, rec.AgentID, rec.Timestamp)
	}
	return nil
}

func runShow(cmd *cobra.Command, ledgerFlag, taskID string, jsonOutput bool) error {
	led, err := openLedger(cmd, ledgerFlag)
	if err != nil {
		return err
	}
	defer led.Close()

	rec, err := led.GetTask(cmd.Context(), taskID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("no task with id %s", taskID)
	}

	if jsonOutput {
		return printJSON(cmd, rec)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Task: %s\n", rec.TaskID)
	fmt.Fprintf(out, "  Agent:     %s\n", rec.AgentID)
	fmt.Fprintf(out, "  Status:    %s\n", rec.Status)
	fmt.Fprintf(out, "  Timestamp: %s\n", rec.Timestamp)
	if rec.ErrorMessage != "" {
		fmt.Fprintf(out, "  Error:     %s\n", rec.ErrorMessage)
	}

	input, err := json.MarshalIndent(rec.InputPayload, "  ", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nInput:\n  %s\n", input)

	if rec.OutputResult != nil {
		output, err := json.MarshalIndent(rec.OutputResult, "  ", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\nOutput:\n  %s\n", output)
	}
	return nil
}

func runStats(cmd *cobra.Command, ledgerFlag string, jsonOutput bool) error {
	led, err := openLedger(cmd, ledgerFlag)
	if err != nil {
		return err
	}
	defer led.Close()

	stats, err := led.GetStatistics(cmd.Context())
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd, stats)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Tasks: %d\n", stats.Total)
	for _, status := range []ledger.Status{ledger.StatusStarted, ledger.StatusCompleted, ledger.StatusFailed} {
		fmt.Fprintf(out, "  %-10s %d\n", string(status)+":", stats.ByStatus[status])
	}
	if len(stats.Agents) > 0 {
		fmt.Fprintf(out, "Agents: %s\n", strings.Join(stats.Agents, ", "))
	}
	return nil
}

// =============================================================================
// Policy Command Handlers
// =============================================================================

// loadPolicyEngine resolves the rules file (flag beats config) and loads
// it strictly: unlike the kernel's fail-open gate, a dry-run wants parse
// errors and missing files surfaced.
func loadPolicyEngine(cmd *cobra.Command, rulesFlag, rootFlag string) (*policy.Engine, error) {
	rulesPath := rulesFlag
	rootDir := rootFlag
	if rulesPath == "" || rootDir == "" {
		cfg, err := activeConfig(cmd)
		if err != nil {
			return nil, err
		}
		if rulesPath == "" {
			rulesPath = cfg.Policy.Path
		}
		if rootDir == "" {
			rootDir = cfg.Workspace.Root
		}
	}
	if rulesPath == "" {
		return nil, fmt.Errorf("no rules file: pass --rules or set policy.path in the config")
	}
	if _, err := os.Stat(rulesPath); err != nil {
		return nil, fmt.Errorf("no rules file at %s", rulesPath)
	}
	return policy.Load(rulesPath, policy.WithRoot(rootDir), policy.Strict())
}

func runPolicyCheck(cmd *cobra.Command, tool string, rawParams []string, rulesFlag, rootFlag string) error {
	params := make(map[string]any, len(rawParams))
	for _, raw := range rawParams {
		key, value, ok := strings.Cut(raw, "=")
		if !ok || key == "" {
			return fmt.Errorf("parameter %q is not key=value", raw)
		}
		params[key] = value
	}

	engine, err := loadPolicyEngine(cmd, rulesFlag, rootFlag)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	decision := engine.Evaluate(tool, params)
	if decision.Allowed {
		fmt.Fprintf(out, "allowed: %s\n", tool)
		return nil
	}
	fmt.Fprintf(out, "blocked: %s\n", tool)
	fmt.Fprintf(out, "  Rule:    %s\n", decision.RuleID)
	fmt.Fprintf(out, "  Message: %s\n", decision.Message)
	return fmt.Errorf("invocation would be blocked by rule %s", decision.RuleID)
}

func runPolicyRules(cmd *cobra.Command, rulesFlag string) error {
	engine, err := loadPolicyEngine(cmd, rulesFlag, "")
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	rules := engine.Rules()
	if len(rules) == 0 {
		fmt.Fprintln(out, "No rules. Everything is allowed.")
		return nil
	}
	for i, r := range rules {
		fmt.Fprintf(out, "%d. %s\n", i+1, r.ID)
		fmt.Fprintf(out, "   Condition: %s", r.Condition)
		if r.Pattern != "" {
			fmt.Fprintf(out, " %q", r.Pattern)
		}
		fmt.Fprintln(out)
		fmt.Fprintf(out, "   Action:    %s\n", r.Action)
		if r.Message != "" {
			fmt.Fprintf(out, "   Message:   %s\n", r.Message)
		}
	}
	return nil
}

// =============================================================================
// Schema, Config and Version Handlers
// =============================================================================

func runManifestSchema(cmd *cobra.Command) error {
	schema, err := identity.ManifestSchema()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(schema))
	return nil
}

func runConfigValidate(cmd *cobra.Command, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config OK: %s (version %d)\n", path, cfg.Version)
	fmt.Fprintf(out, "  Workspace root: %s\n", cfg.Workspace.Root)
	fmt.Fprintf(out, "  Ledger path:    %s\n", cfg.Ledger.Path)
	policyPath := cfg.Policy.Path
	if policyPath == "" {
		policyPath = "(none - policy gate disabled)"
	}
	fmt.Fprintf(out, "  Policy file:    %s\n", policyPath)
	fmt.Fprintf(out, "  Logging:        %s/%s\n", cfg.Logging.Level, cfg.Logging.Format)
	fmt.Fprintf(out, "  Metrics:        %s\n", onOff(cfg.Metrics.Enabled))
	sweep := onOff(cfg.Kernel.StaleSweep.Enabled)
	if cfg.Kernel.StaleSweep.Enabled && cfg.Kernel.StaleSweep.OlderThan > 0 {
		sweep = fmt.Sprintf("on (older than %s)", cfg.Kernel.StaleSweep.OlderThan)
	}
	fmt.Fprintf(out, "  Stale sweep:    %s\n", sweep)
	budget := "default"
	if cfg.Mission.MaxSteps > 0 {
		budget = fmt.Sprintf("%d steps", cfg.Mission.MaxSteps)
	}
	fmt.Fprintf(out, "  Mission budget: %s\n", budget)
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(schema))
	return nil
}

func runVersion(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "vibe %s\n", version)
	fmt.Fprintf(out, "  commit: %s\n", commit)
	fmt.Fprintf(out, "  built:  %s\n", date)
	return nil
}
