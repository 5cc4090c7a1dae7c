package execstep

import (
	"context"
	"fmt"

	"github.com/re-cinq/loom/internal/config"
	"github.com/re-cinq/loom/internal/errs"
)

// runTest runs a command and, on failure, gives its on_failure sub-workflow
// (a claude remediation attempt followed by a re-run of the command) up to
// max_attempts tries before deciding whether to fail the whole workflow.
func (r *Runner) runTest(ctx context.Context, step config.Step, sc *Context) (Result, error) {
	ts := step.Test
	shellStep := config.Step{Shell: ts.Command}

	res, err := r.runShell(ctx, shellStep, sc)
	if err == nil {
		return res, nil
	}
	if ts.OnFailure == nil {
		return res, fmt.Errorf("test %q failed: %w", ts.Command, errs.ErrStepExecution)
	}

	retry := ts.OnFailure
	attempts := retry.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error = err
	for attempt := 1; attempt <= attempts; attempt++ {
		if retry.Claude != "" {
			if _, cErr := r.runClaude(ctx, config.Step{Claude: retry.Claude}, sc); cErr != nil {
				lastErr = cErr
				continue
			}
		}
		res, lastErr = r.runShell(ctx, shellStep, sc)
		if lastErr == nil {
			res.CommitRequired = retry.CommitRequired
			return res, nil
		}
	}

	if retry.FailWorkflow {
		return res, fmt.Errorf("test %q failed after %d remediation attempt(s): %w", ts.Command, attempts, errs.ErrStepExecution)
	}
	return res, nil
}
