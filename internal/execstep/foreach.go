package execstep

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/re-cinq/loom/internal/config"
	"github.com/re-cinq/loom/internal/errs"
	"github.com/re-cinq/loom/internal/input"
	"github.com/re-cinq/loom/internal/interp"
)

// runForeach loads a sub-list of items (same shell-command/JSON-file
// heuristic as the map phase's own input source) and runs the nested
// command list once per element, with "item"/"_index" bound for the
// duration of that iteration only.
func (r *Runner) runForeach(ctx context.Context, step config.Step, sc *Context) (Result, error) {
	fe := step.Foreach
	source := sc.interpolate(fe.Input)

	items, err := input.Load(source, "")
	if err != nil {
		return Result{}, fmt.Errorf("loading foreach input %q: %w", fe.Input, errs.ErrInputLoad)
	}

	var outputs []string
	for i, raw := range items {
		saved := snapshotIterationVars(sc.Vars)

		if err := interp.BindItem(sc.Vars.IterationVars, "item", raw); err != nil {
			restoreIterationVars(sc.Vars, saved)
			return Result{}, fmt.Errorf("binding foreach item %d: %w", i, errs.ErrStepExecution)
		}
		sc.Vars.IterationVars["_index"] = strconv.Itoa(i)

		for _, sub := range fe.Commands {
			res, err := r.Run(ctx, sub, sc)
			if err != nil {
				restoreIterationVars(sc.Vars, saved)
				return Result{Output: strings.Join(outputs, "\n")}, fmt.Errorf("foreach item %d: %w", i, err)
			}
			outputs = append(outputs, res.Output)
		}

		restoreIterationVars(sc.Vars, saved)
	}

	return Result{Output: strings.Join(outputs, "\n")}, nil
}

func snapshotIterationVars(vars *interp.Context) map[string]string {
	saved := make(map[string]string, len(vars.IterationVars))
	for k, v := range vars.IterationVars {
		saved[k] = v
	}
	return saved
}

func restoreIterationVars(vars *interp.Context, saved map[string]string) {
	for k := range vars.IterationVars {
		delete(vars.IterationVars, k)
	}
	for k, v := range saved {
		vars.IterationVars[k] = v
	}
}
