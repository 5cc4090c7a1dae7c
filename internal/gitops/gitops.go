// Package gitops wraps the git operations the MapReduce core needs:
// branch/worktree lifecycle, commit range inspection, and the no-ff merge
// that MergeQueue serializes across concurrently running agents.
package gitops

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/re-cinq/loom/internal/errs"
)

// Retry constants for transient git errors — git's index and ref locks are
// momentary; a worktree-add or commit racing another agent's git process
// should back off and retry rather than fail the whole item.
const (
	retryInitialDelay = 200 * time.Millisecond
	retryMaxAttempts  = 6
	retryMultiplier   = 2
)

// transientPatterns are error substrings that indicate a retryable git failure.
var transientPatterns = []string{
	"index file open failed",
	"index.lock",
	"cannot lock ref",
	"unable to create",
}

func isTransient(errMsg string) bool {
	for _, p := range transientPatterns {
		if strings.Contains(errMsg, p) {
			return true
		}
	}
	return false
}

// Repo wraps git operations rooted at a single working directory.
type Repo struct {
	Dir string
}

// NewRepo creates a Repo for the given directory.
func NewRepo(dir string) *Repo {
	return &Repo{Dir: dir}
}

// sleepFunc is the function used for sleeping between retries, replaced in
// tests to avoid real delays.
var sleepFunc = time.Sleep

func (r *Repo) run(args ...string) (string, error) {
	delay := retryInitialDelay
	for attempt := 0; attempt < retryMaxAttempts; attempt++ {
		cmd := exec.Command("git", args...)
		cmd.Dir = r.Dir
		out, err := cmd.CombinedOutput()
		if err == nil {
			return strings.TrimSpace(string(out)), nil
		}
		errMsg := strings.TrimSpace(string(out))
		if !isTransient(errMsg) || attempt == retryMaxAttempts-1 {
			return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), errMsg, errs.ErrWorktree)
		}
		sleepFunc(delay)
		delay *= retryMultiplier
	}
	return "", nil
}

// HeadCommit returns the commit hash at HEAD for a given branch.
func (r *Repo) HeadCommit(branch string) (string, error) {
	return r.run("rev-parse", branch)
}

// BranchExists checks if a branch exists.
func (r *Repo) BranchExists(branch string) bool {
	_, err := r.run("rev-parse", "--verify", branch)
	return err == nil
}

// CurrentBranch returns the name of the branch currently checked out in
// the repo's working directory — the branch a job's agent branches fork
// from and merge back onto.
func (r *Repo) CurrentBranch() (string, error) {
	return r.run("rev-parse", "--abbrev-ref", "HEAD")
}

// CreateBranch creates a new branch from a starting point.
func (r *Repo) CreateBranch(name, from string) error {
	_, err := r.run("branch", name, from)
	return err
}

// DeleteBranch force-deletes a branch, used during worktree cleanup.
func (r *Repo) DeleteBranch(name string) error {
	_, err := r.run("branch", "-D", name)
	return err
}

// CreateWorktree creates a git worktree checked out to branch.
func (r *Repo) CreateWorktree(path, branch string) error {
	_, err := r.run("worktree", "add", path, branch)
	return err
}

// RemoveWorktree removes a worktree; force discards any uncommitted changes.
func (r *Repo) RemoveWorktree(path string) error {
	_, err := r.run("worktree", "remove", "--force", path)
	return err
}

// PruneWorktrees cleans up worktree administrative files for worktrees whose
// directories have already been deleted out from under git.
func (r *Repo) PruneWorktrees() error {
	_, err := r.run("worktree", "prune")
	return err
}

// CommitsBetween returns commit hashes between two refs (exclusive of from,
// inclusive of to). If from is empty, returns all commits up to to.
func (r *Repo) CommitsBetween(from, to string) ([]string, error) {
	var rangeSpec string
	if from == "" {
		rangeSpec = to
	} else {
		rangeSpec = from + ".." + to
	}
	out, err := r.run("rev-list", rangeSpec)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// CommitMessage returns the full commit message for a given hash.
func (r *Repo) CommitMessage(hash string) (string, error) {
	return r.run("log", "-1", "--format=%B", hash)
}

// AddNote adds a git note to a commit under the "loom" namespace.
func (r *Repo) AddNote(commit, message string) error {
	_, err := r.run("notes", "--ref=loom", "add", "-f", "-m", message, commit)
	return err
}

// EnsureIdentity sets user.name and user.email in the repo's local config if
// they are not already resolvable, preventing "Author identity unknown"
// errors when running in a bare CI environment.
func (r *Repo) EnsureIdentity() {
	if _, err := r.run("config", "user.name"); err != nil {
		_, _ = r.run("config", "user.name", "loom")
	}
	if _, err := r.run("config", "user.email"); err != nil {
		_, _ = r.run("config", "user.email", "loom@localhost")
	}
}

// WorktreePath returns the on-disk path for a named agent worktree.
func WorktreePath(repoDir, branchPrefix, name string) string {
	return filepath.Join(repoDir, ".loom", "worktrees", branchPrefix+name)
}

// FilesChangedInCommit returns file paths changed in a single commit. Uses
// diff-tree, which (unlike diff) works correctly for root commits that have
// no parent to diff against.
func (r *Repo) FilesChangedInCommit(hash string) ([]string, error) {
	out, err := r.run("diff-tree", "--no-commit-id", "-r", "--name-only", hash)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// HasChanges reports whether there are any uncommitted changes in the worktree.
func (r *Repo) HasChanges() (bool, error) {
	out, err := r.run("status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// StageAll stages all changes, including untracked files.
func (r *Repo) StageAll() error {
	_, err := r.run("add", "-A")
	return err
}

// Commit creates a commit with the given message. Uses --no-verify, so
// pre-commit hooks are not run.
func (r *Repo) Commit(message string) error {
	_, err := r.run("commit", "--no-verify", "-m", message)
	return err
}

// ResetSoft performs a soft reset to ref, preserving working-tree changes.
func (r *Repo) ResetSoft(ref string) error {
	_, err := r.run("reset", "--soft", ref)
	return err
}

func (r *Repo) abortRebase() {
	_, _ = r.run("rebase", "--abort") // no-op if no rebase is in progress
}

// Rebase rebases the current branch onto targetBranch. On conflict, aborts
// the rebase and hard-resets to targetBranch: agent branches are generated
// fresh each run, so a conflicting stale commit is discarded rather than
// resolved, and the next attempt regenerates it from a clean base.
func (r *Repo) Rebase(targetBranch string) error {
	r.abortRebase()

	_, err := r.run("rebase", targetBranch)
	if err != nil {
		r.abortRebase()
		if _, resetErr := r.run("reset", "--hard", targetBranch); resetErr != nil {
			return fmt.Errorf("rebase %s failed and reset also failed: %w", targetBranch, resetErr)
		}
	}
	return nil
}

// MergeAgentToParent merges branch into the repo's current branch with
// --no-ff, preserving the agent branch as a visible point in history. This
// is the single operation MergeQueue serializes, since git refuses
// concurrent merges into the same working directory (the MERGE_HEAD race).
func (r *Repo) MergeAgentToParent(branch, message string) error {
	_, err := r.run("merge", "--no-ff", "-m", message, branch)
	if err != nil {
		_, _ = r.run("merge", "--abort")
		return fmt.Errorf("merging %s: %w", branch, errs.ErrMerge)
	}
	return nil
}
