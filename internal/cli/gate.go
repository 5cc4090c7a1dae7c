package cli

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(gateCmd)
}

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Run the workflow's configured quality gates",
	Long: `Run every settings.gates entry in order against the repository's staged
files. If any gate fails, execution stops immediately and the command exits
with a non-zero code.

The placeholder {staged} in a gate's run string is replaced with the
space-separated list of staged file paths. This is not part of the core
MapReduce pipeline; it's a standalone check a workflow author can invoke
directly or wire into a step's on_failure/on_success sub-workflow.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadAndValidateConfig(configPath)
		if err != nil {
			return err
		}

		if len(cfg.Gates) == 0 {
			fmt.Println("No gates configured.")
			return nil
		}

		repoDir, err := resolveRepo(configPath)
		if err != nil {
			return err
		}

		staged, err := stagedFiles(repoDir)
		if err != nil {
			return err
		}

		for _, g := range cfg.Gates {
			fmt.Printf("--- %s ---\n", g.Name)

			runStr := strings.ReplaceAll(g.Run, "{staged}", staged)
			c := exec.Command("sh", "-c", runStr)
			c.Dir = repoDir
			c.Stdout = os.Stdout
			c.Stderr = os.Stderr

			if err := c.Run(); err != nil {
				return fmt.Errorf("gate %q failed", g.Name)
			}
		}

		return nil
	},
}

// stagedFiles returns a space-separated list of staged file paths.
func stagedFiles(repoDir string) (string, error) {
	cmd := exec.Command("git", "diff", "--cached", "--name-only")
	cmd.Dir = repoDir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("getting staged files: %w", err)
	}
	files := strings.TrimSpace(string(out))
	return strings.ReplaceAll(files, "\n", " "), nil
}
