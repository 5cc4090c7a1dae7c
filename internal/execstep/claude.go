package execstep

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/creack/pty"
	"github.com/re-cinq/loom/internal/config"
	"github.com/re-cinq/loom/internal/errs"
)

// runClaude invokes the configured agent CLI with the interpolated prompt,
// piped to stdin, with stdout/stderr captured from a pty so the CLI sees a
// terminal and line-buffers (enabling live log tailing).
func (r *Runner) runClaude(ctx context.Context, step config.Step, sc *Context) (Result, error) {
	prompt := r.Preamble + "\n\n" + sc.interpolate(step.Claude)

	if sc.Permissions != nil {
		if err := writePermissions(sc.WorkDir, sc.Permissions); err != nil {
			return Result{}, fmt.Errorf("writing permissions: %w", errs.ErrStepExecution)
		}
	}

	cmd := exec.CommandContext(ctx, r.ClaudeCommand, "-p")
	cmd.Dir = sc.WorkDir
	cmd.Env = mergeEnv(sc.Env, step.Env, sc)
	cmd.Stdin = strings.NewReader(prompt)

	ptmx, ptsSlave, err := pty.Open()
	if err != nil {
		return Result{}, fmt.Errorf("opening pty for agent: %w", errs.ErrStepExecution)
	}
	defer ptmx.Close()

	cmd.Stdout = ptsSlave
	cmd.Stderr = ptsSlave

	if err := cmd.Start(); err != nil {
		ptsSlave.Close()
		return Result{}, fmt.Errorf("starting agent %s: %w", r.ClaudeCommand, errs.ErrStepExecution)
	}
	ptsSlave.Close()

	var out strings.Builder
	dest := io.Writer(&out)
	if sc.Log != nil {
		dest = io.MultiWriter(&out, sc.Log)
	}
	if _, err := io.Copy(dest, ptmx); err != nil {
		var pathErr *os.PathError
		if !(errors.As(err, &pathErr) && pathErr.Err == syscall.EIO) {
			return Result{}, fmt.Errorf("reading agent output: %w", errs.ErrStepExecution)
		}
	}

	if err := cmd.Wait(); err != nil {
		return Result{Output: out.String()}, fmt.Errorf("agent %s exited with error: %w", r.ClaudeCommand, errs.ErrStepExecution)
	}

	res := Result{Output: out.String()}
	if err := runOnSuccess(ctx, r, step, sc); err != nil {
		return res, err
	}
	return res, nil
}

// writePermissions writes a .claude/settings.json file in the worktree with
// the workflow's configured permissions, so the agent gets pre-approved tools.
func writePermissions(worktreeDir string, perms *config.Permissions) error {
	dir := filepath.Join(worktreeDir, ".claude")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	settings := map[string]interface{}{"permissions": perms}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "settings.json"), append(data, '\n'), 0644)
}
