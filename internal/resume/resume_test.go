package resume

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/re-cinq/loom/internal/checkpoint"
	"github.com/re-cinq/loom/internal/errs"
	"github.com/re-cinq/loom/internal/jobstate"
)

func TestAcquireAndReleaseLock(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(dir, "job-1")
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if lock.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", lock.PID, os.Getpid())
	}

	if _, err := AcquireLock(dir, "job-1"); err == nil {
		t.Error("expected a second acquire by the same live process to refuse")
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := AcquireLock(dir, "job-1"); err != nil {
		t.Errorf("expected acquire to succeed after release, got %v", err)
	}
}

func TestAcquireReclaimsStaleLock(t *testing.T) {
	dir := t.TempDir()
	stale := &Lock{JobID: "job-1", PID: 999999, Hostname: hostname(), path: lockPath(dir, "job-1")}
	if err := stale.write(); err != nil {
		t.Fatalf("seeding stale lock: %v", err)
	}

	lock, err := AcquireLock(dir, "job-1")
	if err != nil {
		t.Fatalf("expected stale lock to be reclaimed, got %v", err)
	}
	if lock.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", lock.PID, os.Getpid())
	}
}

func newResumeStore(t *testing.T) *checkpoint.Store {
	t.Helper()
	return checkpoint.NewStore(filepath.Join(t.TempDir(), "checkpoints"), 10)
}

func TestControllerResumeMissingCheckpointErrors(t *testing.T) {
	store := newResumeStore(t)
	ctrl := NewController(filepath.Join(t.TempDir(), "locks"), store)

	_, _, err := ctrl.Resume("nonexistent", "hash", false)
	if !errors.Is(err, errs.ErrResume) {
		t.Fatalf("expected ErrResume, got %v", err)
	}
}

func TestControllerResumeHashMismatchRefusedWithoutForce(t *testing.T) {
	store := newResumeStore(t)
	state := jobstate.New("job-1", "old-hash", nil)
	if err := store.Save(&checkpoint.Checkpoint{State: state, Reason: checkpoint.ReasonPeriodic}); err != nil {
		t.Fatal(err)
	}

	ctrl := NewController(filepath.Join(t.TempDir(), "locks"), store)
	_, _, err := ctrl.Resume("job-1", "new-hash", false)
	if !errors.Is(err, errs.ErrResume) {
		t.Fatalf("expected ErrResume on hash mismatch, got %v", err)
	}

	lock, result, err := ctrl.Resume("job-1", "new-hash", true)
	if err != nil {
		t.Fatalf("expected --force to override hash mismatch, got %v", err)
	}
	defer lock.Release()
	if result.Phase != PhaseSetup {
		t.Errorf("Phase = %v, want %v", result.Phase, PhaseSetup)
	}
}

func TestControllerResumePicksMapPhaseWhenItemsPending(t *testing.T) {
	store := newResumeStore(t)
	items := []jobstate.WorkItem{{ItemID: "item-0"}, {ItemID: "item-1"}}
	state := jobstate.New("job-2", "hash", items)
	state.SetupCompleted = true
	if err := store.Save(&checkpoint.Checkpoint{State: state, Reason: checkpoint.ReasonAfterItem}); err != nil {
		t.Fatal(err)
	}

	ctrl := NewController(filepath.Join(t.TempDir(), "locks"), store)
	lock, result, err := ctrl.Resume("job-2", "hash", false)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	defer lock.Release()

	if result.Phase != PhaseMap {
		t.Errorf("Phase = %v, want %v", result.Phase, PhaseMap)
	}
	if len(result.State.PendingItems) != 2 {
		t.Errorf("expected both items still pending, got %v", result.State.PendingItems)
	}
}

func TestControllerResumePicksReducePhaseWhenMapDone(t *testing.T) {
	store := newResumeStore(t)
	state := jobstate.New("job-3", "hash", []jobstate.WorkItem{{ItemID: "item-0"}})
	state.SetupCompleted = true
	state.PendingItems = nil
	state.ReduceState = &jobstate.ReducePhaseState{Started: true}
	if err := store.Save(&checkpoint.Checkpoint{State: state, Reason: checkpoint.ReasonPeriodic}); err != nil {
		t.Fatal(err)
	}

	ctrl := NewController(filepath.Join(t.TempDir(), "locks"), store)
	lock, result, err := ctrl.Resume("job-3", "hash", false)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	defer lock.Release()

	if result.Phase != PhaseReduce {
		t.Errorf("Phase = %v, want %v", result.Phase, PhaseReduce)
	}
}

func TestControllerResumeTwiceWithoutReleaseRefuses(t *testing.T) {
	store := newResumeStore(t)
	state := jobstate.New("job-4", "hash", []jobstate.WorkItem{{ItemID: "item-0"}})
	if err := store.Save(&checkpoint.Checkpoint{State: state, Reason: checkpoint.ReasonPeriodic}); err != nil {
		t.Fatal(err)
	}

	locks := filepath.Join(t.TempDir(), "locks")
	ctrl := NewController(locks, store)
	lock, _, err := ctrl.Resume("job-4", "hash", false)
	if err != nil {
		t.Fatalf("first Resume: %v", err)
	}
	defer lock.Release()

	if _, _, err := ctrl.Resume("job-4", "hash", false); err == nil {
		t.Error("expected second concurrent resume to refuse while the first lock is held")
	}
}
