package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/re-cinq/loom/internal/checkpoint"
	"github.com/re-cinq/loom/internal/jobstate"
	"github.com/spf13/cobra"
)

var (
	statusFollow   bool
	statusInterval float64
)

func init() {
	statusCmd.Flags().BoolVarP(&statusFollow, "follow", "f", false, "Live-update status (like watch)")
	statusCmd.Flags().Float64VarP(&statusInterval, "interval", "n", 2.0, "Seconds between updates (with --follow)")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job's progress and per-item state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobID := args[0]

		cfg, _, err := loadAndValidateConfig(configPath)
		if err != nil {
			return err
		}
		repoDir, err := resolveRepo(configPath)
		if err != nil {
			return err
		}
		lo := resolveLayout(repoDir, cfg)
		store := checkpoint.NewStore(lo.checkpoints, cfg.Settings.CheckpointRetain)

		if statusFollow {
			return followStatus(store, jobID)
		}
		return renderStatus(os.Stdout, store, jobID)
	},
}

func followStatus(store *checkpoint.Store, jobID string) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	interval := time.Duration(statusInterval * float64(time.Second))
	var lastOutput string

	for {
		var buf bytes.Buffer
		if err := renderStatus(&buf, store, jobID); err != nil {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		output := buf.String()

		if output != lastOutput {
			fmt.Print("\033[H\033[2J")
			fmt.Printf("Every %.1fs: loom status %s\n\n", statusInterval, jobID)
			fmt.Print(output)
			lastOutput = output
		}

		select {
		case <-sigCh:
			fmt.Println()
			return nil
		case <-time.After(interval):
		}
	}
}

func renderStatus(w io.Writer, store *checkpoint.Store, jobID string) error {
	cp, err := store.Load(jobID)
	if err != nil {
		return err
	}
	if cp == nil {
		fmt.Fprintf(w, "no checkpoint found for job %s\n", jobID)
		return nil
	}
	state := cp.State

	progress := jobstate.ProgressOf(state)
	fmt.Fprintf(w, "Job %s\n", jobID)
	fmt.Fprintf(w, "──────────────────────────────────────\n")
	fmt.Fprintf(w, "setup: %s\n", boolGlyph(state.SetupCompleted))
	fmt.Fprintf(w, "map:   %d/%d done (%d failed, %d pending) — %.0f%%\n",
		progress.Completed, progress.Total, progress.Failed, progress.Pending, progress.Pct)
	if state.ReduceState != nil {
		fmt.Fprintf(w, "reduce: %s (%d command(s) executed)\n", reduceGlyph(state.ReduceState), state.ReduceState.ExecutedCommands)
	}
	fmt.Fprintf(w, "complete: %s\n\n", boolGlyph(state.IsComplete))

	for _, item := range state.WorkItems {
		result, done := state.AgentResults[item.ItemID]
		status := jobstate.StatusPending
		detail := "pending"
		if done {
			status = result.Status
			detail = result.Error
			if status == jobstate.StatusSuccess {
				detail = fmt.Sprintf("%d commit(s)", len(result.Commits))
			}
		} else if isPending(state, item.ItemID) {
			status = jobstate.StatusPending
			detail = "pending"
		}
		sym, color := stateDisplay(status)
		fmt.Fprintf(w, "  %s%s %-20s  %s%s\n", color, sym, item.ItemID, detail, ansiReset)
	}

	return nil
}

func isPending(state *jobstate.JobState, itemID string) bool {
	for _, id := range state.PendingItems {
		if id == itemID {
			return true
		}
	}
	return false
}

func reduceGlyph(rs *jobstate.ReducePhaseState) string {
	switch {
	case rs.Completed:
		return "done"
	case rs.Started:
		return "in progress"
	default:
		return "not started"
	}
}

func boolGlyph(b bool) string {
	if b {
		return "✓"
	}
	return "◯"
}
