package agent

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/re-cinq/loom/internal/config"
	"github.com/re-cinq/loom/internal/execstep"
	"github.com/re-cinq/loom/internal/gitops"
	"github.com/re-cinq/loom/internal/jobstate"
	"github.com/re-cinq/loom/internal/mergequeue"
	"github.com/re-cinq/loom/internal/worktree"
)

func initTestRepo(t *testing.T) *gitops.Repo {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	run("init", "-q", "-b", "main")
	run("config", "user.name", "loom-test")
	run("config", "user.email", "loom-test@localhost")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hi\n"), 0644); err != nil {
		t.Fatal(err)
	}
	run("add", "-A")
	run("commit", "-q", "-m", "initial")
	return gitops.NewRepo(dir)
}

func newTestDeps(t *testing.T, repo *gitops.Repo) Deps {
	t.Helper()
	pool := worktree.New(repo, "loom/", 2, false, 0)
	mq := mergequeue.NewWithRepo(repo)
	t.Cleanup(mq.Close)
	return Deps{
		Repo:         repo,
		Pool:         pool,
		Runner:       execstep.NewRunner("", ""),
		MergeQueue:   mq,
		BranchPrefix: "loom/",
	}
}

func TestLifecycleRunSucceedsAndMerges(t *testing.T) {
	repo := initTestRepo(t)
	deps := newTestDeps(t, repo)
	lc := New(deps)

	req := Request{
		JobID: "job-1",
		Index: 0,
		Item:  jobstate.WorkItem{ItemID: "item-0", Value: []byte(`{"id":1}`)},
		Template: config.AgentTemplate{Commands: []config.Step{
			{WriteFile: &config.WriteFileStep{Path: "out.txt", Content: "item ${item.id}"}},
			{Shell: "git add -A && git commit -m 'agent change'"},
		}},
		ParentBranch: "main",
	}

	res := lc.Run(context.Background(), req)
	if res.Status != jobstate.StatusSuccess {
		t.Fatalf("Status = %v, Error = %q", res.Status, res.Error)
	}
	if len(res.Commits) != 1 {
		t.Errorf("expected 1 commit, got %d (%v)", len(res.Commits), res.Commits)
	}

	data, err := os.ReadFile(filepath.Join(repo.Dir, "out.txt"))
	if err != nil {
		t.Fatalf("expected merged file on main: %v", err)
	}
	if string(data) != "item 1" {
		t.Errorf("out.txt = %q, want %q", data, "item 1")
	}
}

func TestLifecycleCommitRequiredButNoneProducedFails(t *testing.T) {
	repo := initTestRepo(t)
	deps := newTestDeps(t, repo)
	lc := New(deps)

	req := Request{
		JobID:          "job-1",
		Index:          1,
		Item:           jobstate.WorkItem{ItemID: "item-1", Value: []byte(`{"id":2}`)},
		Template:       config.AgentTemplate{Commands: []config.Step{{Shell: "true"}}},
		CommitRequired: true,
		ParentBranch:   "main",
	}

	res := lc.Run(context.Background(), req)
	if res.Status != jobstate.StatusFailed {
		t.Fatalf("expected Failed status, got %v", res.Status)
	}
}

func TestLifecycleRetriesOnStepFailure(t *testing.T) {
	repo := initTestRepo(t)
	deps := newTestDeps(t, repo)
	lc := New(deps)

	req := Request{
		JobID:        "job-1",
		Index:        2,
		Item:         jobstate.WorkItem{ItemID: "item-2", Value: []byte(`{}`)},
		Template:     config.AgentTemplate{Commands: []config.Step{{Shell: "exit 1"}}},
		ParentBranch: "main",
		Policy:       jobstate.RetryPolicy{MaxRetries: 1, BaseDelay: 10 * time.Millisecond},
	}

	res := lc.Run(context.Background(), req)
	if res.Status != jobstate.StatusFailed {
		t.Fatalf("expected Failed status after exhausting retries, got %v", res.Status)
	}
	if res.RetryAttempt != 1 {
		t.Errorf("RetryAttempt = %d, want 1", res.RetryAttempt)
	}
}
