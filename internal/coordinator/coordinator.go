// Package coordinator implements the top-level driver: it runs a
// workflow's setup commands, schedules the map phase across a bounded pool
// of concurrent agents, runs the reduce phase, and owns checkpointing and
// shutdown.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/re-cinq/loom/internal/agent"
	"github.com/re-cinq/loom/internal/checkpoint"
	"github.com/re-cinq/loom/internal/config"
	"github.com/re-cinq/loom/internal/dlq"
	"github.com/re-cinq/loom/internal/errs"
	"github.com/re-cinq/loom/internal/event"
	"github.com/re-cinq/loom/internal/execstep"
	"github.com/re-cinq/loom/internal/expr"
	"github.com/re-cinq/loom/internal/gitops"
	"github.com/re-cinq/loom/internal/input"
	"github.com/re-cinq/loom/internal/interp"
	"github.com/re-cinq/loom/internal/jobstate"
	"github.com/re-cinq/loom/internal/mergequeue"
	"github.com/re-cinq/loom/internal/resume"
	"github.com/re-cinq/loom/internal/timeout"
	"github.com/re-cinq/loom/internal/worktree"
)

// Deps are the job-scoped collaborators a Coordinator drives.
type Deps struct {
	Repo         *gitops.Repo
	Config       *config.Config
	ParentBranch string

	Pool        *worktree.Pool
	Runner      *execstep.Runner
	MergeQueue  *mergequeue.Queue
	Checkpoints *checkpoint.Store
	DLQ         *dlq.Queue
	Events      event.Sink
	Timeouts    *timeout.Enforcer

	BranchPrefix string
	CleanupGrace time.Duration
}

// Coordinator drives one job end to end.
type Coordinator struct {
	deps Deps
}

// New builds a Coordinator.
func New(deps Deps) *Coordinator {
	return &Coordinator{deps: deps}
}

// Run drives a brand new job (no prior checkpoint) from setup through
// completion.
func (c *Coordinator) Run(ctx context.Context, jobID, workflowHash string) (*jobstate.JobState, error) {
	state := jobstate.New(jobID, workflowHash, nil)
	return c.drive(ctx, state, resume.PhaseSetup)
}

// Continue drives a job resumed by resume.Controller, picking up at phase.
func (c *Coordinator) Continue(ctx context.Context, state *jobstate.JobState, phase resume.Phase) (*jobstate.JobState, error) {
	return c.drive(ctx, state, phase)
}

func (c *Coordinator) drive(ctx context.Context, state *jobstate.JobState, phase resume.Phase) (*jobstate.JobState, error) {
	ctx, stop := withShutdown(ctx)
	defer stop()

	if phase == resume.PhaseSetup {
		if err := c.runSetup(ctx, state); err != nil {
			return state, err
		}
		if err := c.loadItems(state); err != nil {
			return state, err
		}
		phase = resume.PhaseMap
	}

	if phase == resume.PhaseMap {
		if err := c.runMap(ctx, state); err != nil {
			c.saveShutdownCheckpoint(state)
			return state, err
		}
		phase = resume.PhaseReduce
	}

	if phase == resume.PhaseReduce && c.deps.Config.Reduce != nil {
		if err := c.runReduce(ctx, state); err != nil {
			if ctx.Err() != nil {
				c.saveShutdownCheckpoint(state)
			}
			return state, err
		}
	}

	state.IsComplete = true
	state.UpdatedAt = time.Now()
	c.checkpointSave(state, checkpoint.ReasonPeriodic)
	c.emit(event.KindJobCompleted, state.JobID, "", nil)
	return state, nil
}

// runSetup executes the workflow's setup commands once, against the main
// repository working directory (never a per-item worktree).
func (c *Coordinator) runSetup(ctx context.Context, state *jobstate.JobState) error {
	c.emit(event.KindSetupStarted, state.JobID, "", nil)

	sc := &execstep.Context{
		WorkDir:     c.deps.Repo.Dir,
		Vars:        interp.NewContext(),
		Permissions: c.deps.Config.Permissions,
	}

	var out strings.Builder
	for _, step := range c.deps.Config.Setup {
		res, err := c.deps.Runner.Run(ctx, step, sc)
		if err != nil {
			return fmt.Errorf("setup step %s: %w", step.Kind(), err)
		}
		out.WriteString(res.Output)
	}

	for name, output := range sc.Vars.CapturedOutputs {
		if payload, err := json.Marshal(output); err == nil {
			state.Variables[name] = payload
		}
	}

	state.SetupOutput = out.String()
	state.SetupCompleted = true
	c.checkpointSave(state, checkpoint.ReasonPeriodic)
	c.emit(event.KindSetupCompleted, state.JobID, "", nil)
	return nil
}

// loadItems resolves the map phase's input source into the job's ordered
// work item list, applying filter, sort, offset and max_items in that order
// (spec.md's map-phase input pipeline).
func (c *Coordinator) loadItems(state *jobstate.JobState) error {
	mc := c.deps.Config.Map
	raws, err := input.Load(mc.Input, mc.JSONPath)
	if err != nil {
		return err
	}

	decoded := make([]interface{}, len(raws))
	for i, r := range raws {
		if err := json.Unmarshal(r, &decoded[i]); err != nil {
			return fmt.Errorf("decoding work item %d: %w", i, errs.ErrInputLoad)
		}
	}

	if mc.Filter != "" {
		filt, err := expr.CompileFilter(mc.Filter)
		if err != nil {
			return fmt.Errorf("compiling map.filter: %w", err)
		}
		var fr []json.RawMessage
		var fd []interface{}
		for i, d := range decoded {
			ok, err := filt.Evaluate(d)
			if err != nil {
				return fmt.Errorf("evaluating map.filter on item %d: %w", i, err)
			}
			if ok {
				fr = append(fr, raws[i])
				fd = append(fd, d)
			}
		}
		raws, decoded = fr, fd
	}

	if mc.SortBy != "" {
		spec, err := expr.CompileSort(mc.SortBy)
		if err != nil {
			return fmt.Errorf("compiling map.sort_by: %w", err)
		}
		raws = sortByRaws(raws, decoded, spec)
	}

	if mc.Offset > 0 {
		if mc.Offset >= len(raws) {
			raws = nil
		} else {
			raws = raws[mc.Offset:]
		}
	}
	if mc.MaxItems > 0 && len(raws) > mc.MaxItems {
		raws = raws[:mc.MaxItems]
	}

	items := make([]jobstate.WorkItem, len(raws))
	pending := make([]string, len(raws))
	for i, r := range raws {
		id := fmt.Sprintf("item-%d", i)
		items[i] = jobstate.WorkItem{ItemID: id, Value: r}
		pending[i] = id
	}
	state.WorkItems = items
	state.PendingItems = pending
	state.TotalItems = len(items)
	return nil
}

// sortByRaws reorders raws to match spec's ordering over their decoded
// values, without duplicating expr's comparison logic: each decoded item is
// wrapped one level deep so CompiledSort.Sort (which expects a JSON object
// at each field-access root) can still resolve the caller's bare field
// paths, now prefixed with the wrapper's "value." key.
func sortByRaws(raws []json.RawMessage, decoded []interface{}, spec *expr.CompiledSort) []json.RawMessage {
	wrapped := make([]interface{}, len(decoded))
	for i, d := range decoded {
		wrapped[i] = map[string]interface{}{"value": d, "idx": i}
	}

	prefixed := make([]expr.SortField, len(spec.Fields))
	for i, f := range spec.Fields {
		f.Path = "value." + f.Path
		prefixed[i] = f
	}
	(&expr.CompiledSort{Fields: prefixed}).Sort(wrapped)

	out := make([]json.RawMessage, len(raws))
	for i, w := range wrapped {
		idx := w.(map[string]interface{})["idx"].(int)
		out[i] = raws[idx]
	}
	return out
}

// runMap schedules an AgentLifecycle for every still-pending item, bounded
// by map.max_parallel concurrent launches, folding each result into state
// as it completes and checkpointing after every item.
func (c *Coordinator) runMap(ctx context.Context, state *jobstate.JobState) error {
	mc := c.deps.Config.Map
	maxParallel := mc.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 10
	}
	sem := semaphore.NewWeighted(int64(maxParallel))

	byID := make(map[string]jobstate.WorkItem, len(state.WorkItems))
	indexOf := make(map[string]int, len(state.WorkItems))
	for i, it := range state.WorkItems {
		byID[it.ItemID] = it
		indexOf[it.ItemID] = i
	}

	lc := agent.New(agent.Deps{
		Repo:         c.deps.Repo,
		Pool:         c.deps.Pool,
		Runner:       c.deps.Runner,
		MergeQueue:   c.deps.MergeQueue,
		Events:       c.deps.Events,
		BranchPrefix: c.deps.BranchPrefix,
		CleanupGrace: c.deps.CleanupGrace,
		Permissions:  c.deps.Config.Permissions,
	})

	policy := jobstate.RetryPolicy{MaxRetries: mc.RetryOnFailure, BaseDelay: 2 * time.Second}
	timeoutDur := mc.TimeoutPerAgent.Duration()

	commitRequired := false
	for _, step := range mc.AgentTemplate.Commands {
		if step.CommitRequired {
			commitRequired = true
			break
		}
	}

	globals := make(map[string]string, len(state.Variables))
	for name, raw := range state.Variables {
		_ = interp.BindItem(globals, name, raw)
	}

	var mu sync.Mutex
	var wg sync.WaitGroup

	pending := append([]string(nil), state.PendingItems...)
	for _, itemID := range pending {
		if ctx.Err() != nil {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		item := byID[itemID]
		index := indexOf[itemID]

		wg.Add(1)
		go func(item jobstate.WorkItem, index int) {
			defer wg.Done()
			defer sem.Release(1)

			agentCtx := ctx
			if timeoutDur > 0 && c.deps.Timeouts != nil {
				var cancel func()
				agentCtx, cancel = c.deps.Timeouts.RegisterAgent(ctx, item.ItemID, timeoutDur)
				defer cancel()
			}

			result := lc.Run(agentCtx, agent.Request{
				JobID:          state.JobID,
				Index:          index,
				Item:           item,
				Template:       mc.AgentTemplate,
				CommitRequired: commitRequired,
				ParentBranch:   c.deps.ParentBranch,
				Globals:        globals,
				Policy:         policy,
			})

			mu.Lock()
			defer mu.Unlock()
			state = jobstate.Fold(state, result)
			if result.Status != jobstate.StatusSuccess {
				c.deadLetter(state, item, result, policy)
			}
			if c.deps.Checkpoints != nil {
				_ = c.deps.Checkpoints.Save(&checkpoint.Checkpoint{State: state, Reason: checkpoint.ReasonAfterItem, Timestamp: time.Now()})
				c.emit(event.KindCheckpointSaved, state.JobID, item.ItemID, nil)
			}
		}(item, index)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// deadLetter routes a terminally failed item to the DLQ once its retry
// budget is exhausted. AgentLifecycle already retried the item internally
// up to policy.MaxRetries, so PlanRetry here always resolves to
// ActionDeadLetter; it stays in the decision path (rather than enqueuing
// unconditionally) so a future policy that tracks cross-run attempt counts
// in ItemRetryCounts can still choose to hold an item back from the DLQ.
func (c *Coordinator) deadLetter(state *jobstate.JobState, item jobstate.WorkItem, result jobstate.AgentResult, policy jobstate.RetryPolicy) {
	if c.deps.DLQ == nil {
		return
	}
	if jobstate.PlanRetry(state, item.ItemID, policy) != jobstate.ActionDeadLetter {
		return
	}

	history := []dlq.FailureDetail{{
		AttemptNumber: result.RetryAttempt,
		Error:         result.Error,
		OccurredAt:    time.Now(),
	}}
	if err := c.deps.DLQ.Enqueue(state.JobID, item, history, fmt.Errorf("%s", result.Error)); err != nil {
		return
	}
	c.emit(event.KindDeadLettered, state.JobID, item.ItemID, map[string]string{"error": result.Error})
}

// runReduce executes the reduce phase's commands once the map phase is
// done, resuming at the next unexecuted command if a prior run was
// interrupted partway through.
func (c *Coordinator) runReduce(ctx context.Context, state *jobstate.JobState) error {
	rc := c.deps.Config.Reduce
	if state.ReduceState == nil {
		state.ReduceState = &jobstate.ReducePhaseState{}
	}
	if state.ReduceState.Completed {
		return nil
	}

	if !state.ReduceState.Started {
		now := time.Now()
		state.ReduceState.Started = true
		state.ReduceState.StartedAt = &now
		c.emit(event.KindReduceStarted, state.JobID, "", nil)
	}

	sc := &execstep.Context{
		WorkDir:     c.deps.Repo.Dir,
		Vars:        reduceVars(state),
		Permissions: c.deps.Config.Permissions,
	}

	var out strings.Builder
	out.WriteString(state.ReduceState.Output)
	for state.ReduceState.ExecutedCommands < len(rc.Commands) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		step := rc.Commands[state.ReduceState.ExecutedCommands]
		res, err := c.deps.Runner.Run(ctx, step, sc)
		if err != nil {
			state.ReduceState.Error = err.Error()
			c.checkpointSave(state, checkpoint.ReasonOnError)
			return fmt.Errorf("reduce step %s: %w", step.Kind(), err)
		}
		out.WriteString(res.Output)
		state.ReduceState.ExecutedCommands++
		state.ReduceState.Output = out.String()
		c.checkpointSave(state, checkpoint.ReasonAfterItem)
	}

	completedAt := time.Now()
	state.ReduceState.Completed = true
	state.ReduceState.CompletedAt = &completedAt
	c.emit(event.KindReduceCompleted, state.JobID, "", nil)
	return nil
}

// reduceVars builds the interpolation context the reduce phase runs under,
// exposing map.successful/map.failed/map.total/map.results.
func reduceVars(state *jobstate.JobState) *interp.Context {
	vars := interp.NewContext()
	progress := jobstate.ProgressOf(state)
	vars.Globals["map.successful"] = strconv.Itoa(progress.Completed)
	vars.Globals["map.failed"] = strconv.Itoa(progress.Failed)
	vars.Globals["map.total"] = strconv.Itoa(progress.Total)

	for i, r := range jobstate.SortedResults(state) {
		if payload, err := json.Marshal(r); err == nil {
			_ = interp.BindItem(vars.Globals, fmt.Sprintf("map.results.%d", i), payload)
		}
	}
	return vars
}

func (c *Coordinator) checkpointSave(state *jobstate.JobState, reason checkpoint.Reason) {
	if c.deps.Checkpoints == nil {
		return
	}
	state.CheckpointVersion++
	state.UpdatedAt = time.Now()
	_ = c.deps.Checkpoints.Save(&checkpoint.Checkpoint{State: state, Reason: reason, Timestamp: time.Now()})
	c.emit(event.KindCheckpointSaved, state.JobID, "", nil)
}

func (c *Coordinator) saveShutdownCheckpoint(state *jobstate.JobState) {
	if c.deps.Checkpoints == nil {
		return
	}
	state.CheckpointVersion++
	state.UpdatedAt = time.Now()
	_ = c.deps.Checkpoints.Save(&checkpoint.Checkpoint{State: state, Reason: checkpoint.ReasonBeforeShutdown, Timestamp: time.Now()})
	c.emit(event.KindCheckpointSaved, state.JobID, "", map[string]string{"reason": "shutdown"})
}

func (c *Coordinator) emit(kind event.Kind, jobID, itemID string, payload interface{}) {
	if c.deps.Events == nil {
		return
	}
	e, err := event.New(kind, jobID, itemID, payload)
	if err != nil {
		return
	}
	_ = c.deps.Events.Emit(e)
}
