package cli

import (
	"fmt"

	"github.com/re-cinq/loom/internal/checkpoint"
	"github.com/spf13/cobra"
)

func init() {
	checkpointsCmd.AddCommand(checkpointsListCmd, checkpointsDeleteCmd)
	rootCmd.AddCommand(checkpointsCmd)
}

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Inspect a job's saved checkpoints",
}

func openCheckpointStore() (*checkpoint.Store, error) {
	cfg, _, err := loadAndValidateConfig(configPath)
	if err != nil {
		return nil, err
	}
	repoDir, err := resolveRepo(configPath)
	if err != nil {
		return nil, err
	}
	lo := resolveLayout(repoDir, cfg)
	return checkpoint.NewStore(lo.checkpoints, cfg.Settings.CheckpointRetain), nil
}

var checkpointsListCmd = &cobra.Command{
	Use:   "list <job-id>",
	Short: "List checkpoints for a job, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCheckpointStore()
		if err != nil {
			return err
		}
		infos, err := store.List(args[0])
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("No checkpoints found.")
			return nil
		}
		for _, info := range infos {
			fmt.Printf("v%-6d  %-16s  %6d bytes  %s\n", info.Version, info.Reason, info.SizeBytes, info.CreatedAt.Format("2006-01-02T15:04:05Z"))
		}
		return nil
	},
}

var checkpointsDeleteCmd = &cobra.Command{
	Use:   "delete <job-id> <version>",
	Short: "Delete one checkpoint version",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCheckpointStore()
		if err != nil {
			return err
		}
		var version uint32
		if _, err := fmt.Sscanf(args[1], "%d", &version); err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		if err := store.Delete(args[0], version); err != nil {
			return err
		}
		fmt.Printf("deleted checkpoint v%d for job %s\n", version, args[0])
		return nil
	},
}
