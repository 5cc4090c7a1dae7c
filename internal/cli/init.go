package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Scaffold a starter workflow file",
	Long: `Write a loom.yaml skeleton with a map phase and a reduce phase ready to
fill in, defaulting to the current directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "loom.yaml"
		if len(args) > 0 {
			path = args[0]
		}

		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}

		if err := os.WriteFile(path, []byte(starterWorkflow), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		fmt.Printf("  workflow  %s\n", path)
		fmt.Println("\nEdit map.input and map.agent_template.commands, then run:")
		fmt.Printf("  loom run --path %s\n", path)
		return nil
	},
}

const starterWorkflow = `name: my-workflow
mode: mapreduce

setup:
  - shell: echo "setup complete"

map:
  input: items.json
  max_parallel: 5
  retry_on_failure: 1
  agent_template:
    commands:
      - claude: "Implement the change described by ${item.description}."
        commit_required: true

reduce:
  commands:
    - shell: echo "map phase finished with ${map.successful}/${map.total} successful"

settings:
  branch_prefix: loom/
  cleanup_grace: 5s
  checkpoint_retain: 10
`
