// Package jobstate holds the MapReduce job's data model and the pure
// functions that fold agent results into it.
package jobstate

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Status is an agent's terminal or in-flight status for one work item.
type Status string

const (
	StatusPending  Status = "Pending"
	StatusRunning  Status = "Running"
	StatusRetrying Status = "Retrying"
	StatusSuccess  Status = "Success"
	StatusFailed   Status = "Failed"
	StatusTimeout  Status = "Timeout"
)

// WorkItem is one unit of map-phase work: an arbitrary JSON value identified
// by a stable item_id derived from its position in the input array.
type WorkItem struct {
	ItemID string          `json:"item_id"`
	Value  json.RawMessage `json:"value"`
}

// AgentResult is the outcome of processing one WorkItem.
type AgentResult struct {
	ItemID             string        `json:"item_id"`
	Status             Status        `json:"status"`
	RetryAttempt       uint32        `json:"retry_attempt,omitempty"`
	Output             string        `json:"output,omitempty"`
	Commits            []string      `json:"commits"`
	FilesModified      []string      `json:"files_modified"`
	Duration           time.Duration `json:"duration"`
	Error              string        `json:"error,omitempty"`
	WorktreePath       string        `json:"worktree_path,omitempty"`
	BranchName         string        `json:"branch_name,omitempty"`
	WorktreeSessionID  string        `json:"worktree_session_id,omitempty"`
	JSONLogLocation    string        `json:"json_log_location,omitempty"`
	CleanupStatus      string        `json:"cleanup_status,omitempty"`
}

// Validate enforces the commit/status invariant from the data model: commits
// is non-empty iff the agent actually committed, and a required-but-missing
// commit must already have been classified as a CommitValidationFailed failure.
func (r AgentResult) Validate(commitRequired bool) error {
	if commitRequired && len(r.Commits) == 0 && r.Status != StatusFailed {
		return fmt.Errorf("item %s: commit required but none produced, status must be Failed", r.ItemID)
	}
	return nil
}

// FailureRecord tracks the retry history of an item that has failed at least once.
type FailureRecord struct {
	ItemID         string    `json:"item_id"`
	Attempts       uint32    `json:"attempts"`
	LastError      string    `json:"last_error"`
	LastAttemptAt  time.Time `json:"last_attempt_at"`
	WorktreeInfo   *WorktreeInfo `json:"worktree_info,omitempty"`
	ClassifiedType string    `json:"classified_type"`
}

// WorktreeInfo identifies the worktree an agent was using when it failed.
type WorktreeInfo struct {
	Path      string `json:"path"`
	Name      string `json:"name"`
	Branch    string `json:"branch"`
	SessionID string `json:"session_id"`
}

// ReducePhaseState tracks progress through the reduce phase's command list,
// so a crash mid-reduce can resume at the next command instead of redoing work.
type ReducePhaseState struct {
	Started           bool       `json:"started"`
	Completed         bool       `json:"completed"`
	ExecutedCommands  int        `json:"executed_commands"`
	Output            string     `json:"output,omitempty"`
	Error             string     `json:"error,omitempty"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// JobState is the full, checkpointable state of one MapReduce run.
type JobState struct {
	JobID          string                    `json:"job_id"`
	WorkflowHash   string                    `json:"workflow_hash"`
	StartedAt      time.Time                 `json:"started_at"`
	UpdatedAt      time.Time                 `json:"updated_at"`
	WorkItems      []WorkItem                `json:"work_items"`
	AgentResults   map[string]AgentResult    `json:"agent_results"`
	CompletedAgents map[string]struct{}      `json:"-"`
	FailedAgents   map[string]FailureRecord  `json:"failed_agents"`
	PendingItems   []string                  `json:"pending_items"`
	ReduceState    *ReducePhaseState         `json:"reduce_state,omitempty"`
	SetupOutput    string                    `json:"setup_output,omitempty"`
	SetupCompleted bool                      `json:"setup_completed"`
	ItemRetryCounts map[string]uint32        `json:"item_retry_counts"`
	Variables      map[string]json.RawMessage `json:"variables"`

	CheckpointVersion       uint32 `json:"checkpoint_version"`
	CheckpointFormatVersion uint32 `json:"checkpoint_format_version"`

	TotalItems     int  `json:"total_items"`
	SuccessfulCount int `json:"successful_count"`
	FailedCount    int  `json:"failed_count"`
	IsComplete     bool `json:"is_complete"`
}

// CurrentFormatVersion is the schema version new checkpoints are written with.
const CurrentFormatVersion = 1

// New constructs a fresh JobState for a batch of work items, seeding
// pending_items with every item_id in order.
func New(jobID, workflowHash string, items []WorkItem) *JobState {
	now := timeNow()
	pending := make([]string, len(items))
	for i, it := range items {
		pending[i] = it.ItemID
	}
	return &JobState{
		JobID:                   jobID,
		WorkflowHash:            workflowHash,
		StartedAt:               now,
		UpdatedAt:               now,
		WorkItems:               items,
		AgentResults:            make(map[string]AgentResult),
		CompletedAgents:         make(map[string]struct{}),
		FailedAgents:            make(map[string]FailureRecord),
		PendingItems:            pending,
		SetupCompleted:          false,
		ItemRetryCounts:         make(map[string]uint32),
		Variables:               make(map[string]json.RawMessage),
		CheckpointVersion:       0,
		CheckpointFormatVersion: CurrentFormatVersion,
		TotalItems:              len(items),
	}
}

// timeNow is a seam so tests can supply a fixed clock; production code
// always calls time.Now through here.
var timeNow = func() time.Time { return time.Now() }

// MarshalJSON encodes CompletedAgents (a set) as a sorted string slice, since
// Go has no set type and map keys don't round-trip through encoding/json in
// insertion order anyway.
func (s JobState) MarshalJSON() ([]byte, error) {
	type alias JobState
	completed := make([]string, 0, len(s.CompletedAgents))
	for id := range s.CompletedAgents {
		completed = append(completed, id)
	}
	sort.Strings(completed)
	return json.Marshal(struct {
		alias
		CompletedAgentsList []string `json:"completed_agents"`
	}{alias(s), completed})
}

func (s *JobState) UnmarshalJSON(data []byte) error {
	type alias JobState
	aux := struct {
		*alias
		CompletedAgentsList []string `json:"completed_agents"`
	}{alias: (*alias)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.CompletedAgents = make(map[string]struct{}, len(aux.CompletedAgentsList))
	for _, id := range aux.CompletedAgentsList {
		s.CompletedAgents[id] = struct{}{}
	}
	return nil
}
