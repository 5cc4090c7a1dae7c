// Package errs defines the closed set of error kinds the MapReduce core
// classifies failures into. Components wrap these sentinels with %w so
// callers can recover the kind via errors.Is without parsing messages.
package errs

import (
	"errors"
	"strings"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrInputLoad        = errors.New("input load error")
	ErrWorktree         = errors.New("worktree error")
	ErrStepExecution    = errors.New("step execution error")
	ErrTimeout          = errors.New("timeout error")
	ErrCommitValidation = errors.New("commit validation failed")
	ErrMerge            = errors.New("merge error")
	ErrCheckpoint       = errors.New("checkpoint error")
	ErrResume           = errors.New("resume error")
	ErrInternal         = errors.New("internal error")
)

// Classify maps an error to the closed failure-type enumeration used by
// FailureRecord and DLQItem, by walking its error chain for a known
// sentinel first and falling back to pattern matching its message.
func Classify(err error) string {
	switch {
	case err == nil:
		return "Unknown"
	case errors.Is(err, ErrTimeout):
		return "Timeout"
	case errors.Is(err, ErrCommitValidation):
		return "CommitValidationFailed"
	case errors.Is(err, ErrStepExecution):
		return "CommandFailed"
	case errors.Is(err, ErrWorktree), errors.Is(err, ErrMerge):
		return "WorktreeError"
	case errors.Is(err, ErrInternal):
		return "Internal"
	}
	return classifyByMessage(err.Error())
}

// classifyByMessage is the fallback for errors that originate outside
// loom's own sentinel chain (e.g. raw exec.ExitError wrapped once).
func classifyByMessage(msg string) string {
	lower := strings.ToLower(msg)
	for _, p := range timeoutPatterns {
		if strings.Contains(lower, p) {
			return "Timeout"
		}
	}
	for _, p := range worktreePatterns {
		if strings.Contains(lower, p) {
			return "WorktreeError"
		}
	}
	for _, p := range commitPatterns {
		if strings.Contains(lower, p) {
			return "CommitValidationFailed"
		}
	}
	for _, p := range commandPatterns {
		if strings.Contains(lower, p) {
			return "CommandFailed"
		}
	}
	return "Unknown"
}

var (
	timeoutPatterns  = []string{"deadline exceeded", "timed out", "timeout"}
	worktreePatterns = []string{"worktree", "merge_head", "index.lock"}
	commitPatterns   = []string{"commit_required", "commit validation"}
	commandPatterns  = []string{"exit status", "exit code"}
)
