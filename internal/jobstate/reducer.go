package jobstate

import (
	"fmt"
	"sort"
	"time"

	"github.com/re-cinq/loom/internal/errs"
)

// RetryPolicy bounds how many times a failed item is retried before it is
// given up on and moved to the DLQ.
type RetryPolicy struct {
	MaxRetries uint32
	BaseDelay  time.Duration
}

// RetryAction is the outcome of consulting a RetryPolicy against a failed result.
type RetryAction int

const (
	ActionRetry RetryAction = iota
	ActionDeadLetter
	ActionGiveUp
)

func (a RetryAction) String() string {
	switch a {
	case ActionRetry:
		return "Retry"
	case ActionDeadLetter:
		return "DeadLetter"
	case ActionGiveUp:
		return "GiveUp"
	}
	return "Unknown"
}

// Fold applies one completed agent's result into state, updating the result
// map, membership sets, counters, and updated_at. Fold is pure: it returns a
// new state rather than mutating its argument, so callers can reason about
// checkpoints as values.
func Fold(state *JobState, result AgentResult) *JobState {
	next := shallowCopy(state)
	next.AgentResults[result.ItemID] = result
	next.PendingItems = removeItem(next.PendingItems, result.ItemID)

	switch result.Status {
	case StatusSuccess:
		next.CompletedAgents[result.ItemID] = struct{}{}
		delete(next.FailedAgents, result.ItemID)
	case StatusFailed, StatusTimeout:
		next.FailedAgents[result.ItemID] = FailureRecord{
			ItemID:         result.ItemID,
			Attempts:       next.ItemRetryCounts[result.ItemID] + result.RetryAttempt + 1,
			LastError:      result.Error,
			LastAttemptAt:  timeNow(),
			ClassifiedType: classify(result),
		}
	}

	next.SuccessfulCount = len(next.CompletedAgents)
	next.FailedCount = len(next.FailedAgents)
	next.UpdatedAt = timeNow()
	next.CheckpointVersion = state.CheckpointVersion + 1
	return next
}

func classify(result AgentResult) string {
	if result.Status == StatusTimeout {
		return "Timeout"
	}
	if result.Error == "" {
		return "Unknown"
	}
	return errs.Classify(fmt.Errorf("%s", result.Error))
}

// PlanRetry decides what to do with an item that just failed, based on how
// many attempts it has already consumed against the configured policy.
func PlanRetry(state *JobState, itemID string, policy RetryPolicy) RetryAction {
	attempts := state.ItemRetryCounts[itemID]
	if rec, ok := state.FailedAgents[itemID]; ok && rec.Attempts > attempts {
		attempts = rec.Attempts
	}
	if attempts >= policy.MaxRetries {
		return ActionDeadLetter
	}
	return ActionRetry
}

// RetryDelay returns the backoff delay for the given attempt number (0-indexed),
// doubling the base delay each time.
func RetryDelay(policy RetryPolicy, attempt uint32) time.Duration {
	delay := policy.BaseDelay
	for i := uint32(0); i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// Progress summarizes a JobState for status reporting.
type Progress struct {
	Completed int
	Failed    int
	Pending   int
	Total     int
	Pct       float64
}

// ProgressOf computes a Progress snapshot from state.
func ProgressOf(state *JobState) Progress {
	total := state.TotalItems
	completed := len(state.CompletedAgents)
	failed := len(state.FailedAgents)
	pending := len(state.PendingItems)
	pct := 0.0
	if total > 0 {
		pct = float64(completed+failed) / float64(total) * 100
	}
	return Progress{Completed: completed, Failed: failed, Pending: pending, Total: total, Pct: pct}
}

// SortedResults returns the job's agent results sorted by item_id, since map
// completions arrive unordered and any caller that cares about order must
// impose one explicitly.
func SortedResults(state *JobState) []AgentResult {
	out := make([]AgentResult, 0, len(state.AgentResults))
	for _, r := range state.AgentResults {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out
}

func removeItem(items []string, target string) []string {
	out := items[:0:0]
	for _, it := range items {
		if it != target {
			out = append(out, it)
		}
	}
	return out
}

func shallowCopy(state *JobState) *JobState {
	next := *state
	next.AgentResults = make(map[string]AgentResult, len(state.AgentResults))
	for k, v := range state.AgentResults {
		next.AgentResults[k] = v
	}
	next.CompletedAgents = make(map[string]struct{}, len(state.CompletedAgents))
	for k, v := range state.CompletedAgents {
		next.CompletedAgents[k] = v
	}
	next.FailedAgents = make(map[string]FailureRecord, len(state.FailedAgents))
	for k, v := range state.FailedAgents {
		next.FailedAgents[k] = v
	}
	next.ItemRetryCounts = make(map[string]uint32, len(state.ItemRetryCounts))
	for k, v := range state.ItemRetryCounts {
		next.ItemRetryCounts[k] = v
	}
	next.PendingItems = append([]string(nil), state.PendingItems...)
	return &next
}
