package execstep

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/re-cinq/loom/internal/config"
	"github.com/re-cinq/loom/internal/errs"
)

func (r *Runner) runWriteFile(ctx context.Context, step config.Step, sc *Context) (Result, error) {
	wf := step.WriteFile
	path := sc.interpolate(wf.Path)
	content := sc.interpolate(wf.Content)

	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(sc.WorkDir, path)
	}

	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return Result{}, fmt.Errorf("creating directory for %s: %w", path, errs.ErrStepExecution)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		return Result{}, fmt.Errorf("writing file %s: %w", path, errs.ErrStepExecution)
	}

	return Result{Output: path}, nil
}
