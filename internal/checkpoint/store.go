package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/re-cinq/loom/internal/errs"
)

// Store persists checkpoints under a root directory, one subdirectory per job_id.
type Store struct {
	root    string
	retainN int
}

// NewStore creates a Store rooted at dir, retaining the retainN most-recent
// checkpoints (of any reason) plus the latest of each distinct reason.
func NewStore(dir string, retainN int) *Store {
	if retainN <= 0 {
		retainN = 10
	}
	return &Store{root: dir, retainN: retainN}
}

func (s *Store) jobDir(jobID string) string {
	return filepath.Join(s.root, jobID)
}

func checkpointFileName(version uint32, reason Reason) string {
	return fmt.Sprintf("checkpoint-%08d-%s.json", version, reason)
}

// Save durably writes cp: write to a temp file in the same directory, fsync,
// then atomically rename over the final path. This guarantees a reader never
// observes a partially-written checkpoint.
func (s *Store) Save(cp *Checkpoint) error {
	dir := s.jobDir(cp.State.JobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating checkpoint dir: %w", errs.ErrCheckpoint)
	}

	finalPath := filepath.Join(dir, checkpointFileName(cp.State.CheckpointVersion, cp.Reason))
	tmpPath := finalPath + ".tmp"

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", errs.ErrCheckpoint)
	}

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp checkpoint file: %w", errs.ErrCheckpoint)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp checkpoint file: %w", errs.ErrCheckpoint)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsyncing temp checkpoint file: %w", errs.ErrCheckpoint)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp checkpoint file: %w", errs.ErrCheckpoint)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming checkpoint into place: %w", errs.ErrCheckpoint)
	}

	return s.applyRetention(cp.State.JobID)
}

// Load reads the latest checkpoint for job_id, applying schema migrations
// if its checkpoint_format_version is older than CurrentFormatVersion.
func (s *Store) Load(jobID string) (*Checkpoint, error) {
	infos, err := s.List(jobID)
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, nil
	}
	latest := infos[len(infos)-1]
	return s.loadFile(latest.Path)
}

func (s *Store) loadFile(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint %s: %w", path, errs.ErrCheckpoint)
	}

	migrated, err := Migrate(data)
	if err != nil {
		return nil, fmt.Errorf("migrating checkpoint %s: %w", path, err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(migrated, &cp); err != nil {
		return nil, fmt.Errorf("parsing migrated checkpoint %s: %w", path, errs.ErrCheckpoint)
	}
	return &cp, nil
}

// List returns checkpoint metadata for job_id, ordered oldest to newest.
func (s *Store) List(jobID string) ([]Info, error) {
	dir := s.jobDir(jobID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing checkpoints for %s: %w", jobID, errs.ErrCheckpoint)
	}

	var infos []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		version, reason, ok := parseCheckpointFileName(e.Name())
		if !ok {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{
			Path:      filepath.Join(dir, e.Name()),
			Version:   version,
			CreatedAt: fi.ModTime(),
			SizeBytes: fi.Size(),
			Reason:    reason,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Version < infos[j].Version })
	return infos, nil
}

func parseCheckpointFileName(name string) (uint32, Reason, bool) {
	base := strings.TrimSuffix(name, ".json")
	parts := strings.SplitN(base, "-", 3)
	if len(parts) != 3 || parts[0] != "checkpoint" {
		return 0, "", false
	}
	v, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, "", false
	}
	return uint32(v), Reason(parts[2]), true
}

// Delete removes a specific checkpoint version for job_id.
func (s *Store) Delete(jobID string, version uint32) error {
	infos, err := s.List(jobID)
	if err != nil {
		return err
	}
	for _, info := range infos {
		if info.Version == version {
			return os.Remove(info.Path)
		}
	}
	return nil
}

// applyRetention keeps the retainN most recent checkpoints plus the latest
// of each distinct reason, deleting everything else.
func (s *Store) applyRetention(jobID string) error {
	infos, err := s.List(jobID)
	if err != nil {
		return err
	}
	if len(infos) <= s.retainN {
		return nil
	}

	keep := make(map[string]bool)
	latestByReason := make(map[Reason]Info)
	for _, info := range infos {
		if cur, ok := latestByReason[info.Reason]; !ok || info.Version > cur.Version {
			latestByReason[info.Reason] = info
		}
	}
	for _, info := range latestByReason {
		keep[info.Path] = true
	}

	n := len(infos)
	for i := n - 1; i >= 0 && n-i <= s.retainN; i-- {
		keep[infos[i].Path] = true
	}

	for _, info := range infos {
		if !keep[info.Path] {
			_ = os.Remove(info.Path)
		}
	}
	return nil
}
