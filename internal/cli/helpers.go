package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/re-cinq/loom/internal/checkpoint"
	"github.com/re-cinq/loom/internal/config"
	"github.com/re-cinq/loom/internal/coordinator"
	"github.com/re-cinq/loom/internal/dlq"
	"github.com/re-cinq/loom/internal/event"
	"github.com/re-cinq/loom/internal/execstep"
	"github.com/re-cinq/loom/internal/gitops"
	"github.com/re-cinq/loom/internal/mergequeue"
	"github.com/re-cinq/loom/internal/resume"
	"github.com/re-cinq/loom/internal/timeout"
	"github.com/re-cinq/loom/internal/worktree"
)

// loadAndValidateConfig loads a workflow file and validates it against the
// running binary's version, printing errors to stderr.
func loadAndValidateConfig(path string) (*config.Config, []byte, error) {
	cfg, raw, err := config.LoadRaw(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return nil, nil, err
	}

	if errs := config.Validate(cfg, Version); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "Error: %s\n", e)
		}
		return nil, nil, fmt.Errorf("%d validation error(s)", len(errs))
	}

	return cfg, raw, nil
}

// resolveRepo finds the git repository root from a workflow file path.
func resolveRepo(configArg string) (string, error) {
	configPath, err := filepath.Abs(configArg)
	if err != nil {
		return "", err
	}
	repoDir := findGitRoot(filepath.Dir(configPath))
	if repoDir == "" {
		return "", fmt.Errorf("could not find git repository root from %s", filepath.Dir(configPath))
	}
	return repoDir, nil
}

// findGitRoot walks up from dir looking for a .git directory.
func findGitRoot(dir string) string {
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// layout is the set of on-disk directories one job's state lives under,
// rooted at repoDir/.loom; settings.checkpoint_dir, if set, replaces only
// the checkpoints directory.
type layout struct {
	checkpoints string
	locks       string
	dlq         string
	events      string
}

func resolveLayout(repoDir string, cfg *config.Config) layout {
	root := filepath.Join(repoDir, ".loom")
	checkpoints := cfg.Settings.CheckpointDir
	if checkpoints == "" {
		checkpoints = filepath.Join(root, "checkpoints")
	}
	return layout{
		checkpoints: checkpoints,
		locks:       filepath.Join(root, "locks"),
		dlq:         filepath.Join(root, "dlq"),
		events:      filepath.Join(root, "events"),
	}
}

// buildCoordinator wires up every collaborator a Coordinator needs from a
// loaded Config and the repository it runs against.
func buildCoordinator(cfg *config.Config, repoDir string, lo layout, jobID string) (*coordinator.Coordinator, *checkpoint.Store, *dlq.Queue, event.Sink, error) {
	repo := gitops.NewRepo(repoDir)
	repo.EnsureIdentity()

	retain := cfg.Settings.CheckpointRetain
	store := checkpoint.NewStore(lo.checkpoints, retain)
	dlqQueue := dlq.NewQueue(lo.dlq)

	sink, err := event.NewJSONLSink(filepath.Join(lo.events, jobID+".jsonl"))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("opening event log: %w", err)
	}

	pool := worktree.New(repo, cfg.Settings.BranchPrefix, cfg.Settings.MaxWorktrees, cfg.Settings.WorktreeRetain, cfg.Settings.CleanupGrace.Duration())
	mq := mergequeue.NewWithRepo(repo)
	runner := execstep.NewRunner("", cfg.ResolvePreamble(""))

	var tenforcer *timeout.Enforcer
	if cfg.Map.TimeoutPerAgent.Duration() > 0 {
		tenforcer = timeout.New(timeout.PerAgent, cfg.Settings.CleanupGrace.Duration())
	}

	currentBranch, err := currentBranchName(repo)
	if err != nil {
		sink.Close()
		return nil, nil, nil, nil, err
	}

	co := coordinator.New(coordinator.Deps{
		Repo:         repo,
		Config:       cfg,
		ParentBranch: currentBranch,
		Pool:         pool,
		Runner:       runner,
		MergeQueue:   mq,
		Checkpoints:  store,
		DLQ:          dlqQueue,
		Events:       sink,
		Timeouts:     tenforcer,
		BranchPrefix: cfg.Settings.BranchPrefix,
		CleanupGrace: cfg.Settings.CleanupGrace.Duration(),
	})
	return co, store, dlqQueue, sink, nil
}

func currentBranchName(repo *gitops.Repo) (string, error) {
	branch, err := repo.CurrentBranch()
	if err != nil {
		return "", fmt.Errorf("resolving current branch: %w", err)
	}
	return branch, nil
}

// resumeController builds a resume.Controller over the same lock/checkpoint
// layout buildCoordinator uses, so "loom run" and "loom resume" agree on
// where a job's state lives.
func resumeController(lo layout, store *checkpoint.Store) *resume.Controller {
	return resume.NewController(lo.locks, store)
}
