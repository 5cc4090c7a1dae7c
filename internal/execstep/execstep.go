// Package execstep implements the StepExecutor capability: running one
// workflow step (claude / shell / write_file / foreach / test) inside an
// agent's worktree, interpolating variables first and capturing whatever
// output the step declares.
package execstep

import (
	"context"
	"fmt"
	"io"

	"github.com/re-cinq/loom/internal/config"
	"github.com/re-cinq/loom/internal/errs"
	"github.com/re-cinq/loom/internal/interp"
)

// Result is what running one step produced.
type Result struct {
	Output          string
	ExitCode        int
	JSONLogLocation string
	// CommitRequired is set by a test step's on_failure remediation when its
	// commit_required flag is true, signaling the agent lifecycle that a
	// successful recovery still needs a commit to count as real progress.
	CommitRequired bool
}

// Context carries everything a step needs beyond its own config: the
// worktree it runs in, the variable context for interpolation, permissions
// to install for claude invocations, and where to stream output lines for
// live tailing (per-agent log).
type Context struct {
	WorkDir     string
	Vars        *interp.Context
	Env         map[string]string
	Permissions *config.Permissions
	Log         io.Writer
}

func (c *Context) interpolate(s string) string {
	return interp.Interpolate(s, c.Vars)
}

// Runner executes steps. One Runner is shared across agents; it holds no
// per-agent state, only the fixed configuration of how to invoke an agent CLI.
type Runner struct {
	ClaudeCommand string
	Preamble      string
}

// NewRunner constructs a Runner. claudeCommand defaults to "claude" when empty.
func NewRunner(claudeCommand, preamble string) *Runner {
	if claudeCommand == "" {
		claudeCommand = "claude"
	}
	return &Runner{ClaudeCommand: claudeCommand, Preamble: preamble}
}

// Run dispatches step to its kind-specific handler, then — if the step
// declares capture_output — binds the result into sc.Vars.CapturedOutputs
// under a name derived from the step: the capture_output value itself, or
// "<kind>.output" when capture_output is "true" ("false" captures nothing).
func (r *Runner) Run(ctx context.Context, step config.Step, sc *Context) (Result, error) {
	var (
		res Result
		err error
	)
	switch step.Kind() {
	case "claude":
		res, err = r.runClaude(ctx, step, sc)
	case "shell":
		res, err = r.runShell(ctx, step, sc)
	case "test":
		res, err = r.runTest(ctx, step, sc)
	case "foreach":
		res, err = r.runForeach(ctx, step, sc)
	case "write_file":
		res, err = r.runWriteFile(ctx, step, sc)
	default:
		return Result{}, fmt.Errorf("unknown step kind %q: %w", step.Kind(), errs.ErrStepExecution)
	}

	if err == nil && step.CaptureOutput != "" && step.CaptureOutput != "false" && sc.Vars != nil {
		name := step.CaptureOutput
		if name == "true" {
			name = step.Kind() + ".output"
		}
		sc.Vars.CapturedOutputs[name] = res.Output
	}
	return res, err
}

// runRemediation runs a small claude-or-shell recovery command, used by
// on_failure/on_success/on_exit_code handlers and by test step retries.
func (r *Runner) runRemediation(ctx context.Context, of *config.OnFailure, sc *Context) error {
	if of == nil {
		return nil
	}
	if of.Claude != "" {
		_, err := r.runClaude(ctx, config.Step{Claude: of.Claude}, sc)
		return err
	}
	if of.Shell != "" {
		_, err := r.runShell(ctx, config.Step{Shell: of.Shell}, sc)
		return err
	}
	return nil
}
