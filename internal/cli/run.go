package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/re-cinq/loom/internal/config"
	"github.com/re-cinq/loom/internal/jobstate"
	"github.com/spf13/cobra"
)

var configPath string
var runJobID string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "path", "p", "loom.yaml", "Path to workflow file")
	runCmd.Flags().StringVar(&runJobID, "job-id", "", "Stable job id (generated from the workflow name if omitted)")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a workflow from setup through completion",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, raw, err := loadAndValidateConfig(configPath)
		if err != nil {
			return err
		}

		repoDir, err := resolveRepo(configPath)
		if err != nil {
			return err
		}

		jobID := runJobID
		if jobID == "" {
			jobID, err = newJobID(cfg.Name)
			if err != nil {
				return err
			}
		}

		lo := resolveLayout(repoDir, cfg)
		co, _, _, sink, err := buildCoordinator(cfg, repoDir, lo, jobID)
		if err != nil {
			return err
		}
		defer sink.Close()

		workflowHash := config.Hash(raw)
		fmt.Printf("loom: starting job %s (workflow %s)\n", jobID, workflowHash[:12])

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		state, runErr := co.Run(ctx, jobID, workflowHash)
		printJobOutcome(jobID, state, runErr)
		if runErr == nil && state != nil && state.TotalItems > 0 && len(state.CompletedAgents) == 0 {
			return fmt.Errorf("all %d item(s) failed", state.TotalItems)
		}
		return runErr
	},
}

var resumeForce bool

func init() {
	resumeCmd.Flags().BoolVar(&resumeForce, "force", false, "Resume even if the workflow file no longer matches the checkpoint")
	rootCmd.AddCommand(resumeCmd)
}

var resumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Resume a job from its last checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobID := args[0]

		cfg, raw, err := loadAndValidateConfig(configPath)
		if err != nil {
			return err
		}
		repoDir, err := resolveRepo(configPath)
		if err != nil {
			return err
		}

		lo := resolveLayout(repoDir, cfg)
		co, store, _, sink, err := buildCoordinator(cfg, repoDir, lo, jobID)
		if err != nil {
			return err
		}
		defer sink.Close()

		ctrl := resumeController(lo, store)
		workflowHash := config.Hash(raw)
		lock, result, err := ctrl.Resume(jobID, workflowHash, resumeForce)
		if err != nil {
			return err
		}
		defer lock.Release()

		fmt.Printf("loom: resuming job %s at phase %s\n", jobID, result.Phase)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		state, runErr := co.Continue(ctx, result.State, result.Phase)
		printJobOutcome(jobID, state, runErr)
		return runErr
	},
}

// printJobOutcome reports a finished run's final tally. state may be nil if
// the coordinator failed before producing one.
func printJobOutcome(jobID string, state *jobstate.JobState, err error) {
	if state == nil {
		fmt.Printf("loom: job %s did not produce a state (%v)\n", jobID, err)
		return
	}

	progress := jobstate.ProgressOf(state)
	if err != nil {
		fmt.Printf("loom: job %s stopped: %s (%d/%d completed, %d failed)\n",
			jobID, err, progress.Completed, progress.Total, progress.Failed)
		return
	}
	fmt.Printf("loom: job %s complete: %d/%d succeeded, %d failed, %d dead-lettered\n",
		jobID, progress.Completed, progress.Total, progress.Failed, len(state.FailedAgents))
}

var jobIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// newJobID derives a stable-looking job id from the workflow's name and the
// time run started, with a short random suffix so two runs of the same
// workflow in the same second never collide.
func newJobID(name string) (string, error) {
	slug := strings.Trim(jobIDSanitizer.ReplaceAllString(name, "-"), "-")
	if slug == "" {
		slug = "job"
	}
	var suffix [4]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return "", fmt.Errorf("generating job id: %w", err)
	}
	return fmt.Sprintf("%s-%s-%s", slug, time.Now().UTC().Format("20060102T150405"), hex.EncodeToString(suffix[:])), nil
}
