// Package main implements the issuepilot CLI. Each invocation handles
// exactly one orchestration event against a repository checkout and
// exits; suspension between steps is process exit.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// repoDir is the path to the orchestrated repository checkout.
	repoDir string
	// configPath overrides the default config file inside the checkout.
	configPath string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "issuepilot",
	Short: "Event-driven GitHub issue orchestrator",
	Long: `issuepilot drives a labeled GitHub issue to a merged pull request by
decomposing it into a tree of AI-executed tasks, each on its own branch
with its own PR. It runs one event per invocation, persisting all state
in a git-committed JSON file on the issue's work branch.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&repoDir, "repo-dir", ".", "path to the orchestrated repository checkout")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <repo-dir>/.issuepilot.yaml)")
	rootCmd.AddCommand(handleCmd)
}
