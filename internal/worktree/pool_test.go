package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/re-cinq/loom/internal/gitops"
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

func TestAcquireReleaseRoundTrip(t *testing.T) {
	repo := initTestRepo(t)
	if err := repo.CreateBranch("agent-1", "main"); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}

	pool := New(repo, "loom/", 2, false, 0)
	ctx := context.Background()

	h, err := pool.Acquire(ctx, Named("agent-1"), "agent-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if pool.ActiveCount() != 1 {
		t.Errorf("ActiveCount = %d, want 1", pool.ActiveCount())
	}
	if _, err := os.Stat(h.Session.Path); err != nil {
		t.Errorf("expected worktree directory to exist: %v", err)
	}

	if err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if pool.ActiveCount() != 0 {
		t.Errorf("ActiveCount after release = %d, want 0", pool.ActiveCount())
	}
	if _, err := os.Stat(h.Session.Path); err == nil {
		t.Error("expected worktree directory to be removed after release (retain=false)")
	}
}

func TestAcquireBlocksAtCapacity(t *testing.T) {
	repo := initTestRepo(t)
	for _, b := range []string{"agent-1", "agent-2"} {
		if err := repo.CreateBranch(b, "main"); err != nil {
			t.Fatalf("CreateBranch %s: %v", b, err)
		}
	}

	pool := New(repo, "loom/", 1, false, 0)
	ctx := context.Background()

	h1, err := pool.Acquire(ctx, Named("agent-1"), "agent-1")
	if err != nil {
		t.Fatalf("Acquire agent-1: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		h2, err := pool.Acquire(ctx, Named("agent-2"), "agent-2")
		if err != nil {
			t.Errorf("Acquire agent-2: %v", err)
			return
		}
		close(acquired)
		_ = h2.Release()
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should have blocked while pool is at capacity")
	case <-time.After(100 * time.Millisecond):
	}

	if err := h1.Release(); err != nil {
		t.Fatalf("Release agent-1: %v", err)
	}

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second acquire should have proceeded after release")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	repo := initTestRepo(t)
	if err := repo.CreateBranch("agent-1", "main"); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	pool := New(repo, "loom/", 1, false, 0)
	h, err := pool.Acquire(context.Background(), Named("agent-1"), "agent-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := h.Release(); err != nil {
		t.Fatalf("first Release: %v", err)
	}
	if err := h.Release(); err != nil {
		t.Fatalf("second Release should be a no-op, got: %v", err)
	}
}

func TestRetainKeepsWorktreeOnDisk(t *testing.T) {
	repo := initTestRepo(t)
	if err := repo.CreateBranch("agent-1", "main"); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	pool := New(repo, "loom/", 1, true, 0)
	h, err := pool.Acquire(context.Background(), Named("agent-1"), "agent-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	path := h.Session.Path
	if err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected retained worktree to remain on disk, got: %v", err)
	}
}
