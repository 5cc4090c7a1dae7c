// Package agent implements the per-item AgentLifecycle: create a branch,
// acquire a worktree for it, run the agent template's steps, validate and merge any
// commits produced, and retry on failure per the configured policy.
package agent

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/re-cinq/loom/internal/config"
	"github.com/re-cinq/loom/internal/errs"
	"github.com/re-cinq/loom/internal/event"
	"github.com/re-cinq/loom/internal/execstep"
	"github.com/re-cinq/loom/internal/gitops"
	"github.com/re-cinq/loom/internal/interp"
	"github.com/re-cinq/loom/internal/jobstate"
	"github.com/re-cinq/loom/internal/mergequeue"
	"github.com/re-cinq/loom/internal/worktree"
)

// Deps are the shared, job-scoped collaborators an AgentLifecycle needs.
// One Deps value is reused across every item in a job's map phase.
type Deps struct {
	Repo         *gitops.Repo
	Pool         *worktree.Pool
	Runner       *execstep.Runner
	MergeQueue   *mergequeue.Queue
	Events       event.Sink
	BranchPrefix string
	CleanupGrace time.Duration
	Permissions  *config.Permissions
}

// Request is everything specific to running one work item.
type Request struct {
	JobID          string
	Index          int
	Item           jobstate.WorkItem
	Template       config.AgentTemplate
	CommitRequired bool
	ParentBranch   string
	Globals        map[string]string
	Policy         jobstate.RetryPolicy
}

// Lifecycle runs the per-item procedure against a fixed set of Deps.
type Lifecycle struct {
	deps Deps
}

// New constructs a Lifecycle.
func New(deps Deps) *Lifecycle {
	return &Lifecycle{deps: deps}
}

// Run executes req's work item end to end, retrying per req.Policy, and
// returns the terminal AgentResult (Success, Failed, or Timeout).
func (l *Lifecycle) Run(ctx context.Context, req Request) jobstate.AgentResult {
	started := time.Now()
	l.emit(event.KindAgentStarted, req.JobID, req.Item.ItemID, nil)

	var attempt uint32
	var last jobstate.AgentResult
	for {
		last = l.attempt(ctx, req, attempt)
		last.Duration = time.Since(started)
		last.RetryAttempt = attempt

		if last.Status == jobstate.StatusSuccess {
			return last
		}
		if ctx.Err() != nil {
			last.Status = jobstate.StatusTimeout
			l.emit(event.KindAgentTimeout, req.JobID, req.Item.ItemID, map[string]string{"error": last.Error})
			return last
		}

		if attempt >= req.Policy.MaxRetries {
			l.emit(event.KindAgentFailed, req.JobID, req.Item.ItemID, map[string]string{"error": last.Error})
			return last
		}

		attempt++
		l.emit(event.KindAgentRetrying, req.JobID, req.Item.ItemID, map[string]string{"attempt": strconv.Itoa(int(attempt))})
		select {
		case <-ctx.Done():
			last.Status = jobstate.StatusTimeout
			return last
		case <-time.After(retryDelay(req.Policy, attempt)):
		}
	}
}

func retryDelay(policy jobstate.RetryPolicy, attempt uint32) time.Duration {
	d := policy.BaseDelay
	if d <= 0 {
		d = 2 * time.Second
	}
	for i := uint32(1); i < attempt; i++ {
		d *= 2
	}
	return d
}

// attempt runs one try of the per-item procedure (steps 1-5 of the
// lifecycle): create branch, acquire worktree, run steps, validate commits,
// submit to the merge queue.
func (l *Lifecycle) attempt(ctx context.Context, req Request, attemptNum uint32) jobstate.AgentResult {
	branch := fmt.Sprintf("%s%s-%d-%d", l.deps.BranchPrefix, req.JobID, req.Index, attemptNum)
	worktreeName := fmt.Sprintf("agent-%s-%d-%d", req.JobID, req.Index, attemptNum)

	if l.deps.Repo.BranchExists(branch) {
		// A crashed earlier run can leave this attempt's branch and worktree behind.
		_ = l.deps.Repo.RemoveWorktree(gitops.WorktreePath(l.deps.Repo.Dir, l.deps.BranchPrefix, worktreeName))
		_ = l.deps.Repo.PruneWorktrees()
		_ = l.deps.Repo.DeleteBranch(branch)
	}

	if err := l.deps.Repo.CreateBranch(branch, req.ParentBranch); err != nil {
		return l.failure(req, errs.ErrWorktree, fmt.Sprintf("creating branch %s: %v", branch, err), branch, "")
	}

	handle, err := l.deps.Pool.Acquire(ctx, worktree.Named(worktreeName), branch)
	if err != nil {
		return l.failure(req, err, fmt.Sprintf("acquiring worktree: %v", err), branch, "")
	}
	merged := false
	defer func() {
		if !merged {
			_ = handle.Release()
		}
	}()

	headAtStart, err := handle.Repo().HeadCommit(branch)
	if err != nil {
		return l.failure(req, err, fmt.Sprintf("reading starting HEAD: %v", err), branch, handle.Session.Path)
	}

	vars := interp.NewContext()
	for k, v := range req.Globals {
		vars.Globals[k] = v
	}
	if err := interp.BindItem(vars.IterationVars, "item", req.Item.Value); err != nil {
		return l.failure(req, errs.ErrStepExecution, fmt.Sprintf("binding item: %v", err), branch, handle.Session.Path)
	}
	vars.IterationVars["ITEM_INDEX"] = strconv.Itoa(req.Index)

	sc := &execstep.Context{
		WorkDir:     handle.Session.Path,
		Vars:        vars,
		Permissions: l.deps.Permissions,
	}

	commitRequired := req.CommitRequired
	for _, step := range req.Template.Commands {
		res, err := l.deps.Runner.Run(ctx, step, sc)
		if err != nil {
			return l.failure(req, err, fmt.Sprintf("step %s: %v", step.Kind(), err), branch, handle.Session.Path)
		}
		if res.CommitRequired {
			commitRequired = true
		}
	}

	headNow, err := handle.Repo().HeadCommit(branch)
	if err != nil {
		return l.failure(req, err, fmt.Sprintf("reading ending HEAD: %v", err), branch, handle.Session.Path)
	}
	commits, err := handle.Repo().CommitsBetween(headAtStart, headNow)
	if err != nil {
		return l.failure(req, err, fmt.Sprintf("listing commits: %v", err), branch, handle.Session.Path)
	}

	if commitRequired && len(commits) == 0 {
		_ = handle.Release()
		return jobstate.AgentResult{
			ItemID:       req.Item.ItemID,
			Status:       jobstate.StatusFailed,
			Error:        "commit_required but no commits were produced",
			BranchName:   branch,
			WorktreePath: handle.Session.Path,
		}
	}

	var files []string
	for _, c := range commits {
		fs, _ := handle.Repo().FilesChangedInCommit(c)
		files = append(files, fs...)
	}

	if len(commits) == 0 {
		_ = handle.Release()
		return jobstate.AgentResult{
			ItemID:       req.Item.ItemID,
			Status:       jobstate.StatusSuccess,
			BranchName:   branch,
			WorktreePath: handle.Session.Path,
			CleanupStatus: "released",
		}
	}

	mergeResp, err := l.deps.MergeQueue.SubmitMerge(ctx, mergequeue.Request{
		AgentID:       worktreeName,
		BranchName:    branch,
		ItemID:        req.Item.ItemID,
		ParentWorkDir: l.deps.Repo.Dir,
	})
	if err != nil || mergeResp.Err != nil {
		mergeErr := err
		if mergeErr == nil {
			mergeErr = mergeResp.Err
		}
		return l.failure(req, mergeErr, fmt.Sprintf("merge failed: %v", mergeErr), branch, handle.Session.Path)
	}

	merged = true
	l.scheduleCleanup(handle)

	return jobstate.AgentResult{
		ItemID:        req.Item.ItemID,
		Status:        jobstate.StatusSuccess,
		Commits:       commits,
		FilesModified: files,
		BranchName:    branch,
		WorktreePath:  handle.Session.Path,
		CleanupStatus: "scheduled",
	}
}

func (l *Lifecycle) scheduleCleanup(h *worktree.Handle) {
	if l.deps.CleanupGrace <= 0 {
		_ = h.Release()
		return
	}
	time.AfterFunc(l.deps.CleanupGrace, func() { _ = h.Release() })
}

func (l *Lifecycle) failure(req Request, err error, msg, branch, worktreePath string) jobstate.AgentResult {
	status := jobstate.StatusFailed
	if errs.Classify(err) == "Timeout" {
		status = jobstate.StatusTimeout
	}
	return jobstate.AgentResult{
		ItemID:       req.Item.ItemID,
		Status:       status,
		Error:        msg,
		BranchName:   branch,
		WorktreePath: worktreePath,
	}
}

func (l *Lifecycle) emit(kind event.Kind, jobID, itemID string, payload interface{}) {
	if l.deps.Events == nil {
		return
	}
	e, err := event.New(kind, jobID, itemID, payload)
	if err != nil {
		return
	}
	_ = l.deps.Events.Emit(e)
}
