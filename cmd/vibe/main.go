// Package main provides the operational CLI for the vibe agent kernel.
//
// The kernel itself is a library: host processes embed it, register
// their agents and drive it one tick at a time. This binary is the thin
// surface around a kernel workspace: reading the task ledger,
// dry-running safety rules and exporting the machine-readable schemas.
//
// # Basic Usage
//
// Seed a fresh workspace:
//
//	vibe init ./agentspace
//
// Inspect recorded task history:
//
//	vibe history --limit 20
//	vibe show <task-id>
//	vibe stats
//
// Dry-run the safety rules against a hypothetical invocation:
//
//	vibe policy check write_file --param path=workspace/out.txt
//
// Export schemas:
//
//	vibe manifest-schema
//	vibe config schema
//
// # Environment Variables
//
// Configuration files may reference environment variables; they are
// expanded before parsing. The config path itself comes from --config
// (default: vibe.yaml).
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/vibe/internal/config"
	"github.com/haasonsaas/vibe/internal/observability"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

var configPath string

func main() {
	// JSON at info level until the config is parsed; the root command's
	// PersistentPreRun reconfigures from the logging section.
	slog.SetDefault(observability.NewLogger(observability.LogConfig{}))

	rootCmd := buildRootCmd()

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "vibe",
		Short: "Vibe - cooperative agent kernel",
		Long: `Vibe is a single-process execution substrate for cooperating agents:
a FIFO task queue, a policy-gated tool registry and a SQLite task
ledger, advanced one explicit tick at a time by the embedding process.

This CLI reads and checks kernel workspaces; it does not run agents.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultFileName, "Path to the kernel config file")

	// Honor the config's logging section once flags are parsed. A broken
	// or absent config keeps the startup logger; the command itself will
	// surface the load error if it needs the config.
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		cfg, err := activeConfig(cmd)
		if err != nil {
			return
		}
		slog.SetDefault(observability.NewLogger(observability.LogConfig{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
		}))
	}

	rootCmd.AddCommand(
		buildInitCmd(),
		buildHistoryCmd(),
		buildShowCmd(),
		buildStatsCmd(),
		buildPolicyCmd(),
		buildManifestSchemaCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)

	return rootCmd
}
