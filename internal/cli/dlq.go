package cli

import (
	"fmt"
	"time"

	"github.com/re-cinq/loom/internal/dlq"
	"github.com/spf13/cobra"
)

func init() {
	dlqCmd.AddCommand(dlqListCmd, dlqShowCmd, dlqClearCmd)
	rootCmd.AddCommand(dlqCmd)
}

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and manage a job's dead letter queue",
}

func openDLQ() (*dlq.Queue, error) {
	cfg, _, err := loadAndValidateConfig(configPath)
	if err != nil {
		return nil, err
	}
	repoDir, err := resolveRepo(configPath)
	if err != nil {
		return nil, err
	}
	lo := resolveLayout(repoDir, cfg)
	return dlq.NewQueue(lo.dlq), nil
}

var dlqListCmd = &cobra.Command{
	Use:   "list <job-id>",
	Short: "List dead-lettered items for a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := openDLQ()
		if err != nil {
			return err
		}
		items, err := q.List(args[0])
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No dead-lettered items.")
			return nil
		}
		for _, it := range items {
			fmt.Printf("%-20s  retries=%-3d  %s  %s\n", it.ID, it.RetryCount, it.LastError, it.EnqueuedAt.Format("2006-01-02T15:04:05Z"))
		}
		return nil
	},
}

var dlqShowCmd = &cobra.Command{
	Use:   "show <job-id> <item-id>",
	Short: "Show full failure history for one dead-lettered item",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := openDLQ()
		if err != nil {
			return err
		}
		item, err := q.Show(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("item:     %s\n", item.ID)
		fmt.Printf("job:      %s\n", item.JobID)
		fmt.Printf("retries:  %d\n", item.RetryCount)
		fmt.Printf("enqueued: %s\n", item.EnqueuedAt.Format("2006-01-02T15:04:05Z"))
		fmt.Printf("manual review required: %v\n", item.ManualReviewRequired)
		fmt.Println("failure history:")
		for _, h := range item.FailureHistory {
			fmt.Printf("  attempt %d [%s] %s (%s)\n", h.AttemptNumber, h.ClassifiedType, h.Error, h.OccurredAt.Format(time.Kitchen))
		}
		return nil
	},
}

var dlqClearCmd = &cobra.Command{
	Use:   "clear <job-id>",
	Short: "Clear all dead-lettered items for a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := openDLQ()
		if err != nil {
			return err
		}
		if err := q.Clear(args[0]); err != nil {
			return err
		}
		fmt.Printf("cleared dlq for job %s\n", args[0])
		return nil
	},
}
