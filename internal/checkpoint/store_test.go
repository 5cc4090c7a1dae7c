package checkpoint

import (
	"testing"
	"time"

	"github.com/re-cinq/loom/internal/jobstate"
)

func newTestCheckpoint(jobID string, version uint32, reason Reason) *Checkpoint {
	state := jobstate.New(jobID, "hash", nil)
	state.CheckpointVersion = version
	return &Checkpoint{State: state, Reason: reason, Timestamp: time.Now()}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir(), 10)
	cp := newTestCheckpoint("job-1", 1, ReasonAfterItem)

	if err := store.Save(cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load("job-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected a loaded checkpoint")
	}
	if loaded.State.JobID != "job-1" {
		t.Errorf("JobID = %q, want %q", loaded.State.JobID, "job-1")
	}
	if loaded.Reason != ReasonAfterItem {
		t.Errorf("Reason = %q, want %q", loaded.Reason, ReasonAfterItem)
	}
}

func TestLoadReturnsMostRecentVersion(t *testing.T) {
	store := NewStore(t.TempDir(), 10)
	for v := uint32(1); v <= 3; v++ {
		if err := store.Save(newTestCheckpoint("job-1", v, ReasonPeriodic)); err != nil {
			t.Fatalf("Save v%d: %v", v, err)
		}
	}

	loaded, err := store.Load("job-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.State.CheckpointVersion != 3 {
		t.Errorf("loaded version = %d, want 3", loaded.State.CheckpointVersion)
	}
}

func TestLoadMissingJobReturnsNil(t *testing.T) {
	store := NewStore(t.TempDir(), 10)
	loaded, err := store.Load("nonexistent")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded != nil {
		t.Error("expected nil checkpoint for a job with no saved checkpoints")
	}
}

func TestListOrdersOldestToNewest(t *testing.T) {
	store := NewStore(t.TempDir(), 10)
	for _, v := range []uint32{3, 1, 2} {
		if err := store.Save(newTestCheckpoint("job-1", v, ReasonPeriodic)); err != nil {
			t.Fatalf("Save v%d: %v", v, err)
		}
	}
	infos, err := store.List("job-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("expected 3 checkpoints, got %d", len(infos))
	}
	for i, want := range []uint32{1, 2, 3} {
		if infos[i].Version != want {
			t.Errorf("infos[%d].Version = %d, want %d", i, infos[i].Version, want)
		}
	}
}

func TestRetentionKeepsLatestPerReason(t *testing.T) {
	store := NewStore(t.TempDir(), 2)
	if err := store.Save(newTestCheckpoint("job-1", 1, ReasonPeriodic)); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(newTestCheckpoint("job-1", 2, ReasonPeriodic)); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(newTestCheckpoint("job-1", 3, ReasonBeforeShutdown)); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(newTestCheckpoint("job-1", 4, ReasonPeriodic)); err != nil {
		t.Fatal(err)
	}

	infos, err := store.List("job-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	versions := make(map[uint32]bool)
	for _, info := range infos {
		versions[info.Version] = true
	}
	if !versions[3] {
		t.Error("expected the sole BeforeShutdown checkpoint (v3) to be retained")
	}
	if !versions[4] {
		t.Error("expected the most recent checkpoint (v4) to be retained")
	}
}

func TestDeleteRemovesSpecificVersion(t *testing.T) {
	store := NewStore(t.TempDir(), 10)
	if err := store.Save(newTestCheckpoint("job-1", 1, ReasonPeriodic)); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete("job-1", 1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	infos, err := store.List("job-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("expected 0 checkpoints after delete, got %d", len(infos))
	}
}

func TestMigrateRejectsNewerFormatVersion(t *testing.T) {
	data := []byte(`{"state":{"checkpoint_format_version":99}}`)
	if _, err := Migrate(data); err == nil {
		t.Error("expected error for a format version newer than this binary understands")
	}
}

func TestMigratePassesThroughCurrentVersion(t *testing.T) {
	data := []byte(`{"state":{"checkpoint_format_version":1,"job_id":"job-1"}}`)
	out, err := Migrate(data)
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if string(out) != string(data) {
		t.Errorf("expected current-version checkpoint to pass through unchanged")
	}
}
