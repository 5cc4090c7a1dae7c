package resume

import (
	"fmt"

	"github.com/re-cinq/loom/internal/checkpoint"
	"github.com/re-cinq/loom/internal/errs"
	"github.com/re-cinq/loom/internal/event"
	"github.com/re-cinq/loom/internal/jobstate"
)

// Phase is the point in the Coordinator's setup/map/reduce pipeline a
// resumed job should continue from.
type Phase string

const (
	PhaseSetup    Phase = "setup"
	PhaseMap      Phase = "map"
	PhaseReduce   Phase = "reduce"
	PhaseComplete Phase = "complete"
)

// Result is what ResumeController hands back to the coordinator: the
// reconstructed job state and the phase to resume it at.
type Result struct {
	State *jobstate.JobState
	Phase Phase
}

// Controller loads a job's latest checkpoint, validates it, and decides
// where the coordinator should pick back up.
type Controller struct {
	Locks       string
	Checkpoints *checkpoint.Store
	Events      event.Sink
}

// NewController builds a Controller rooted at lockDir for locks and backed
// by store for checkpoint retrieval.
func NewController(lockDir string, store *checkpoint.Store) *Controller {
	return &Controller{Locks: lockDir, Checkpoints: store}
}

// Resume acquires the resume lock for jobID, loads its latest checkpoint,
// validates workflowHash against it (unless force is set), and returns the
// reconstructed JobState and the phase to continue from. The caller owns
// the returned Lock and must Release it when the job finishes or is
// abandoned.
func (c *Controller) Resume(jobID, workflowHash string, force bool) (*Lock, *Result, error) {
	lock, err := AcquireLock(c.Locks, jobID)
	if err != nil {
		return nil, nil, err
	}

	cp, err := c.Checkpoints.Load(jobID)
	if err != nil {
		_ = lock.Release()
		return nil, nil, err
	}
	if cp == nil {
		_ = lock.Release()
		return nil, nil, fmt.Errorf("%w: no checkpoint found for job %s", errs.ErrResume, jobID)
	}

	if !force && cp.State.WorkflowHash != workflowHash {
		_ = lock.Release()
		return nil, nil, fmt.Errorf("%w: checkpoint workflow_hash %s does not match current workflow (pass --force to override)",
			errs.ErrResume, cp.State.WorkflowHash)
	}

	state := cp.State
	c.emit(jobID, map[string]string{
		"checkpoint_version": fmt.Sprintf("%d", state.CheckpointVersion),
		"pending_items":      fmt.Sprintf("%d", len(state.PendingItems)),
	})

	return lock, &Result{State: state, Phase: phaseOf(state)}, nil
}

// phaseOf decides the resume phase from a reconstructed JobState. Agents
// that were mid-flight when the checkpoint was taken were never folded into
// AgentResults, so they are still present in PendingItems and need no
// explicit Running-to-Pending reset: resuming the map phase with the
// existing pending set launches them afresh in new worktrees.
func phaseOf(state *jobstate.JobState) Phase {
	if !state.SetupCompleted {
		return PhaseSetup
	}
	if len(state.PendingItems) > 0 {
		return PhaseMap
	}
	if state.ReduceState != nil && !state.ReduceState.Completed {
		return PhaseReduce
	}
	if state.IsComplete {
		return PhaseComplete
	}
	if state.ReduceState == nil {
		return PhaseComplete
	}
	return PhaseReduce
}

func (c *Controller) emit(jobID string, payload interface{}) {
	if c.Events == nil {
		return
	}
	e, err := event.New(event.KindResumed, jobID, "", payload)
	if err != nil {
		return
	}
	_ = c.Events.Emit(e)
}
