package worktree

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/re-cinq/loom/internal/errs"
	"github.com/re-cinq/loom/internal/gitops"
)

// Pool bounds the number of simultaneously checked-out worktrees and owns
// their lifecycle. A worktree is never reused across distinct jobs: each
// Pool is scoped to one job's lifetime.
type Pool struct {
	repo         *gitops.Repo
	branchPrefix string
	dir          string
	retain       bool
	grace        time.Duration

	sem     *semaphore.Weighted
	mu      sync.Mutex
	active  map[string]*Handle
	counter int64
}

// New builds a pool bounded to maxSimultaneous worktrees, created under the
// repository's .loom/worktrees directory (see gitops.WorktreePath).
// retain controls whether released worktrees are kept on disk for potential
// reuse or eagerly removed.
func New(repo *gitops.Repo, branchPrefix string, maxSimultaneous int, retain bool, grace time.Duration) *Pool {
	if maxSimultaneous <= 0 {
		maxSimultaneous = 1
	}
	return &Pool{
		repo:         repo,
		branchPrefix: branchPrefix,
		retain:       retain,
		grace:        grace,
		sem:          semaphore.NewWeighted(int64(maxSimultaneous)),
		active:       make(map[string]*Handle),
	}
}

// Handle owns one checked-out worktree until Release is called.
type Handle struct {
	pool    *Pool
	Session Session
	repo    *gitops.Repo
	released int32
}

// Acquire checks out a new worktree, blocking if the pool is at capacity
// until a prior handle is released. req.Named creates a worktree with that
// exact name and fails if one already exists; the zero Request allocates an
// anonymous, pool-unique name.
func (p *Pool) Acquire(ctx context.Context, req Request, branch string) (*Handle, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquiring worktree slot: %w", ctx.Err())
	}

	name := req.Named
	if name == "" {
		n := atomic.AddInt64(&p.counter, 1)
		name = fmt.Sprintf("agent-%d", n)
	}

	path := gitops.WorktreePath(p.repo.Dir, p.branchPrefix, name)
	if err := p.repo.CreateWorktree(path, branch); err != nil {
		p.sem.Release(1)
		return nil, fmt.Errorf("creating worktree %s: %w", name, err)
	}

	h := &Handle{
		pool: p,
		repo: gitops.NewRepo(path),
		Session: Session{
			Name:      name,
			Path:      path,
			Branch:    branch,
			CreatedAt: time.Now(),
		},
	}

	p.mu.Lock()
	p.active[name] = h
	p.mu.Unlock()

	return h, nil
}

// Repo returns a Repo rooted at this handle's checked-out worktree path.
func (h *Handle) Repo() *gitops.Repo { return h.repo }

// Release returns the worktree's slot to the pool. If the pool is not
// configured to retain worktrees for reuse, the directory is removed
// immediately; otherwise it is left on disk and only its slot is freed.
func (h *Handle) Release() error {
	if !atomic.CompareAndSwapInt32(&h.released, 0, 1) {
		return nil // already released
	}

	h.pool.mu.Lock()
	delete(h.pool.active, h.Session.Name)
	h.pool.mu.Unlock()
	defer h.pool.sem.Release(1)

	if h.pool.retain {
		return nil
	}
	return h.pool.removeWorktree(h.Session)
}

func (p *Pool) removeWorktree(s Session) error {
	if err := p.repo.RemoveWorktree(s.Path); err != nil {
		// Fall back to a manual cleanup + prune if git itself refuses
		// (e.g. the directory was already deleted out from under it).
		_ = os.RemoveAll(s.Path)
		if pruneErr := p.repo.PruneWorktrees(); pruneErr != nil {
			return fmt.Errorf("removing worktree %s: %w", s.Name, errs.ErrWorktree)
		}
	}
	return nil
}

// ShutdownAll forcibly reclaims every outstanding handle, honoring the
// pool's configured grace period before removal — used when the Coordinator
// is tearing down after a shutdown signal.
func (p *Pool) ShutdownAll(ctx context.Context) []error {
	p.mu.Lock()
	handles := make([]*Handle, 0, len(p.active))
	for _, h := range p.active {
		handles = append(handles, h)
	}
	p.mu.Unlock()

	if p.grace > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(p.grace):
		}
	}

	var errsOut []error
	for _, h := range handles {
		if err := h.Release(); err != nil {
			errsOut = append(errsOut, err)
		}
	}
	return errsOut
}

// ActiveCount returns the number of currently checked-out worktrees.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}
