package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "Orchestrate coding agents over a MapReduce workflow",
	Long: `loom runs a workflow file through three phases: setup, a bounded-parallel
map phase that runs one agent per work item in its own git worktree, and a
reduce phase that aggregates the results back onto the parent branch.

Jobs checkpoint their state as they run and can be resumed after a crash or
an interrupted run with "loom resume".`,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("loom %s\n", Version)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
