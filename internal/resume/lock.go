// Package resume implements the on-disk ResumeLock and the ResumeController
// that detects a resumable job, loads its checkpoint, and hands the
// coordinator back the phase it should continue from.
package resume

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/re-cinq/loom/internal/errs"
)

// Lock is the on-disk sentinel that prevents two concurrent resume attempts
// on the same job.
type Lock struct {
	JobID      string    `json:"job_id"`
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`

	path string
}

func lockPath(dir, jobID string) string {
	return filepath.Join(dir, jobID+".lock")
}

// AcquireLock creates dir/<job_id>.lock, refusing if a live lock already
// exists. A lock whose pid is no longer running on the local host is
// considered stale and is reclaimed rather than refused.
func AcquireLock(dir, jobID string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating resume lock dir: %w", errs.ErrResume)
	}

	path := lockPath(dir, jobID)
	if existing, err := readLock(path); err == nil && existing != nil {
		if isProcessAlive(existing.PID) && existing.Hostname == hostname() {
			return nil, fmt.Errorf("%w: job %s is locked by pid %d on %s since %s",
				errs.ErrResume, jobID, existing.PID, existing.Hostname, existing.AcquiredAt.Format(time.RFC3339))
		}
		// Stale: either the pid is gone, or it was acquired on a different
		// host and we have no way to probe it remotely, so we only reclaim
		// same-host locks automatically.
		if existing.Hostname != hostname() {
			return nil, fmt.Errorf("%w: job %s is locked by pid %d on remote host %s", errs.ErrResume, jobID, existing.PID, existing.Hostname)
		}
	}

	l := &Lock{
		JobID:      jobID,
		PID:        os.Getpid(),
		Hostname:   hostname(),
		AcquiredAt: time.Now().UTC(),
		path:       path,
	}
	if err := l.write(); err != nil {
		return nil, err
	}
	return l, nil
}

// Release removes the lock file. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("releasing resume lock: %w", errs.ErrResume)
	}
	return nil
}

func (l *Lock) write() error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshaling resume lock: %w", errs.ErrResume)
	}
	tmp := l.path + fmt.Sprintf(".tmp-%d", time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing resume lock: %w", errs.ErrResume)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("installing resume lock: %w", errs.ErrResume)
	}
	return nil
}

func readLock(path string) (*Lock, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var l Lock
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, err
	}
	l.path = path
	return &l, nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

// isProcessAlive checks whether a process with the given pid is still
// running on the local host, by sending it the null signal.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
