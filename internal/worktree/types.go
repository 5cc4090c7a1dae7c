// Package worktree manages the bounded pool of git worktrees agents check
// out to run in, one per concurrently-running agent.
package worktree

import "time"

// Session describes one checked-out worktree.
type Session struct {
	Name      string
	Path      string
	Branch    string
	CreatedAt time.Time
}

// Request selects how acquire names the worktree it creates.
type Request struct {
	Named string // if non-empty, the pool creates exactly this name and fails if it exists
}

// Anonymous requests a pool-assigned unique name.
func Anonymous() Request { return Request{} }

// Named requests a specific worktree name.
func Named(name string) Request { return Request{Named: name} }
