package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Workspace Commands
// =============================================================================

func buildInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Seed a directory with the conventional workspace layout",
		Long: `Create the directories and starter files a kernel workspace expects:
workspace/inbox/ for message drops, .vibe/ for the task ledger, a
BACKLOG.md skeleton, a starter policy.yaml and a vibe.yaml config.

Existing files are left alone unless --force is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return runInit(cmd, dir, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing files")
	return cmd
}

// =============================================================================
// Ledger Commands
// =============================================================================

func buildHistoryCmd() *cobra.Command {
	var (
		limit      int
		status     string
		agentID    string
		ledgerPath string
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded tasks, most recent first",
		Long: `List the task history recorded by the kernel's ledger.

Each task appears once with its latest lifecycle state: started,
completed or failed. Filters narrow by state and by agent.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, ledgerPath, limit, status, agentID, jsonOutput)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum rows to return (default 50)")
	cmd.Flags().StringVar(&status, "status", "", "Filter by lifecycle state (started|completed|failed)")
	cmd.Flags().StringVar(&agentID, "agent", "", "Filter by agent id")
	cmd.Flags().StringVar(&ledgerPath, "ledger", "", "Ledger path (overrides the config)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of a table")
	return cmd
}

func buildShowCmd() *cobra.Command {
	var (
		ledgerPath string
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show the full recorded state of one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd, ledgerPath, args[0], jsonOutput)
		},
	}
	cmd.Flags().StringVar(&ledgerPath, "ledger", "", "Ledger path (overrides the config)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of text")
	return cmd
}

func buildStatsCmd() *cobra.Command {
	var (
		ledgerPath string
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Aggregate the ledger by lifecycle state and agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd, ledgerPath, jsonOutput)
		},
	}
	cmd.Flags().StringVar(&ledgerPath, "ledger", "", "Ledger path (overrides the config)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of text")
	return cmd
}

// =============================================================================
// Policy Commands
// =============================================================================

func buildPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Work with the declarative safety rules",
	}
	cmd.AddCommand(buildPolicyCheckCmd(), buildPolicyRulesCmd())
	return cmd
}

func buildPolicyCheckCmd() *cobra.Command {
	var (
		rulesPath string
		rootDir   string
		params    []string
	)
	cmd := &cobra.Command{
		Use:   "check <tool>",
		Short: "Dry-run the safety rules against a hypothetical invocation",
		Long: `Evaluate the safety rules exactly as the kernel's tool registry
would, without executing anything.

Example:
  vibe policy check write_file --param path=workspace/notes.md
  vibe policy check delete_file --param path=.vibe/ledger.db --rules policy.yaml

The command fails when the invocation would be blocked, so it can gate
CI steps.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyCheck(cmd, args[0], params, rulesPath, rootDir)
		},
	}
	cmd.Flags().StringArrayVar(&params, "param", nil, "Invocation parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&rulesPath, "rules", "", "Rules file (overrides the config)")
	cmd.Flags().StringVar(&rootDir, "root", "", "Workspace root for path_outside_root (overrides the config)")
	return cmd
}

func buildPolicyRulesCmd() *cobra.Command {
	var rulesPath string
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List the active safety rules in evaluation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyRules(cmd, rulesPath)
		},
	}
	cmd.Flags().StringVar(&rulesPath, "rules", "", "Rules file (overrides the config)")
	return cmd
}

// =============================================================================
// Schema and Config Commands
// =============================================================================

func buildManifestSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "manifest-schema",
		Short: "Print the JSON Schema for agent identity manifests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runManifestSchema(cmd)
		},
	}
}

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate and describe kernel config files",
	}
	cmd.AddCommand(buildConfigValidateCmd(), buildConfigSchemaCmd())
	return cmd
}

func buildConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Parse a config file and report the effective settings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if len(args) == 1 {
				path = args[0]
			}
			return runConfigValidate(cmd, path)
		},
	}
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema for the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd)
		},
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion(cmd)
		},
	}
}
