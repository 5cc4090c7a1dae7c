package checkpoint

import (
	"encoding/json"
	"fmt"

	"github.com/re-cinq/loom/internal/errs"
	"github.com/re-cinq/loom/internal/jobstate"
)

// migrationFunc transforms a checkpoint encoded at one format version into
// the next, as a pure function over raw JSON (migrations never touch disk).
type migrationFunc func(raw map[string]json.RawMessage) (map[string]json.RawMessage, error)

// migrations maps a source format_version to the function that upgrades it
// to version+1. Registering a new schema version means adding one entry
// here and bumping jobstate.CurrentFormatVersion.
var migrations = map[uint32]migrationFunc{
	// Example shape for a future migration (none needed yet since the
	// schema has only ever had version 1):
	// 1: migrateV1ToV2,
}

// Migrate reads a checkpoint's format_version and applies the chain of
// migrateV<n>ToV<n+1> functions until it reaches CurrentFormatVersion. A
// format_version newer than what this binary understands fails loudly
// rather than silently truncating fields.
func Migrate(data []byte) ([]byte, error) {
	var envelope struct {
		State struct {
			CheckpointFormatVersion uint32 `json:"checkpoint_format_version"`
		} `json:"state"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("reading checkpoint format version: %w", errs.ErrCheckpoint)
	}

	version := envelope.State.CheckpointFormatVersion
	if version == 0 {
		version = 1
	}
	if version > jobstate.CurrentFormatVersion {
		return nil, fmt.Errorf(
			"checkpoint format v%d is newer than this binary understands (v%d): %w",
			version, jobstate.CurrentFormatVersion, errs.ErrCheckpoint)
	}
	if version == jobstate.CurrentFormatVersion {
		return data, nil
	}

	var outer map[string]json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return nil, fmt.Errorf("parsing checkpoint envelope: %w", errs.ErrCheckpoint)
	}
	var state map[string]json.RawMessage
	if err := json.Unmarshal(outer["state"], &state); err != nil {
		return nil, fmt.Errorf("parsing checkpoint state: %w", errs.ErrCheckpoint)
	}

	for version < jobstate.CurrentFormatVersion {
		fn, ok := migrations[version]
		if !ok {
			return nil, fmt.Errorf("no migration registered from format v%d: %w", version, errs.ErrCheckpoint)
		}
		next, err := fn(state)
		if err != nil {
			return nil, fmt.Errorf("migrating checkpoint v%d to v%d: %w", version, version+1, err)
		}
		state = next
		version++
	}

	stateBytes, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("re-encoding migrated state: %w", errs.ErrCheckpoint)
	}
	outer["state"] = stateBytes
	return json.Marshal(outer)
}
