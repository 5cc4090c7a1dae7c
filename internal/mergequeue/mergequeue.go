// Package mergequeue serializes git merges submitted by concurrently
// running agents through a single background worker, since git refuses
// concurrent merges into the same working directory (the MERGE_HEAD race).
package mergequeue

import (
	"context"
	"fmt"
	"sync"

	"github.com/re-cinq/loom/internal/gitops"
)

// Request is one agent's merge submission.
type Request struct {
	AgentID        string
	BranchName     string
	ItemID         string
	ParentWorkDir  string
	responseCh     chan Response
}

// Response is delivered back to the submitting agent through a one-shot channel.
type Response struct {
	Err error
}

// Queue is a single-consumer FIFO over merge requests. A background worker
// goroutine dequeues and performs merges sequentially; callers submit and
// block until their own merge completes.
type Queue struct {
	reqCh    chan Request
	closed   chan struct{}
	closeOnce sync.Once
	done     chan struct{}
}

// New starts the background worker and returns a Queue ready to accept
// submissions. mergeFn performs the actual merge given the parent working
// directory and branch name — normally (*gitops.Repo).MergeAgentToParent.
func New(mergeFn func(parentWorkDir, branch, message string) error) *Queue {
	q := &Queue{
		reqCh:  make(chan Request),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go q.run(mergeFn)
	return q
}

// NewWithRepo is a convenience constructor wiring a single gitops.Repo as
// the merge target for every request (the common case: one parent worktree).
func NewWithRepo(repo *gitops.Repo) *Queue {
	return New(func(_, branch, message string) error {
		return repo.MergeAgentToParent(branch, message)
	})
}

func (q *Queue) run(mergeFn func(parentWorkDir, branch, message string) error) {
	defer close(q.done)
	for req := range q.reqCh {
		message := fmt.Sprintf("merge agent %s (item %s)", req.AgentID, req.ItemID)
		err := mergeFn(req.ParentWorkDir, req.BranchName, message)
		req.responseCh <- Response{Err: err}
	}
}

// SubmitMerge enqueues a merge request and blocks until the worker has
// processed it (or ctx is cancelled). Submitting after the queue has been
// closed fails immediately.
func (q *Queue) SubmitMerge(ctx context.Context, req Request) (Response, error) {
	req.responseCh = make(chan Response, 1)

	select {
	case <-q.closed:
		return Response{}, fmt.Errorf("submitting merge for item %s: queue is closed", req.ItemID)
	default:
	}

	select {
	case q.reqCh <- req:
	case <-q.closed:
		return Response{}, fmt.Errorf("submitting merge for item %s: queue is closed", req.ItemID)
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}

	select {
	case resp := <-req.responseCh:
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// PendingCount returns len of the request channel. The channel is
// unbuffered, so this is always 0: submitters blocked waiting to hand a
// request to the worker are not counted.
func (q *Queue) PendingCount() int {
	return len(q.reqCh)
}

// Close stops accepting new submissions and waits for the worker to drain
// any in-flight request before returning.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.closed)
		close(q.reqCh)
	})
	<-q.done
}
