package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

var configPath string

// CheckClaudeCLI verifies that the 'claude' CLI is available in PATH.
// Returns an error with installation instructions if not found.
func CheckClaudeCLI() error {
	_, err := exec.LookPath("claude")
	if err != nil {
		return fmt.Errorf("claude CLI not found in PATH\n\n" +
			"PlanePilot drives agents through the Claude Code CLI.\n\n" +
			"Install it with:\n" +
			"  npm install -g @anthropic-ai/claude-code\n\n" +
			"For more information, visit:\n" +
			"  https://docs.anthropic.com/en/docs/claude-code")
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "planepilot",
	Short: "Autonomous agent orchestrator for Plane issues",
	Long: `PlanePilot watches Plane projects for issues carrying the agent label,
leases them, and drives each one through a planning and an implementation
phase with Claude Code agents running in isolated git worktrees.

With no arguments, runs the orchestrator daemon in the foreground.

Core behavior:
- Polls configured projects and claims agent-labeled todo issues
- Plans first; implements once a plan comment is approved
- Enforces a daily USD budget with UTC rollover
- Retries transient failures with exponential backoff
- Persists state and recovers orphaned work after a crash`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default $CONFIG_PATH, then ./planepilot.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
}
