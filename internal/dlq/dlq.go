// Package dlq implements the dead letter queue: a durable, append-only
// record of items that exhausted their retry budget, never automatically
// re-executed by the core.
package dlq

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/re-cinq/loom/internal/errs"
	"github.com/re-cinq/loom/internal/jobstate"
)

// FailureDetail is one attempt's outcome, kept in an item's failure_history.
type FailureDetail struct {
	AttemptNumber uint32    `json:"attempt_number"`
	Error         string    `json:"error"`
	OccurredAt    time.Time `json:"occurred_at"`
	ClassifiedType string   `json:"classified_type"`
}

// Item is one dead-lettered work item.
type Item struct {
	ID                   string                 `json:"id"`
	JobID                string                 `json:"job_id"`
	EnqueuedAt           time.Time              `json:"enqueued_at"`
	RetryCount           uint32                 `json:"retry_count"`
	LastError            string                 `json:"last_error"`
	WorkItem             jobstate.WorkItem      `json:"work_item"`
	FailureHistory       []FailureDetail        `json:"failure_history"`
	ManualReviewRequired bool                   `json:"manual_review_required"`
}

// Queue persists DLQ items under root/<job_id>/<id>.json, one file per item.
type Queue struct {
	root string
}

// NewQueue creates a Queue rooted at dir.
func NewQueue(dir string) *Queue {
	return &Queue{root: dir}
}

func (q *Queue) jobDir(jobID string) string {
	return filepath.Join(q.root, jobID)
}

// Enqueue classifies lastErr into the failure-type enumeration and durably
// records item. DLQ items are never moved back into pending_items by the
// core — reprocessing is an explicit operator action.
func (q *Queue) Enqueue(jobID string, item jobstate.WorkItem, history []FailureDetail, lastErr error) error {
	dir := q.jobDir(jobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating DLQ dir: %w", errs.ErrInternal)
	}

	classified := errs.Classify(lastErr)
	entry := Item{
		ID:                   item.ItemID,
		JobID:                jobID,
		EnqueuedAt:           time.Now(),
		RetryCount:           uint32(len(history)),
		LastError:            errString(lastErr),
		WorkItem:             item,
		FailureHistory:       appendClassified(history, classified),
		ManualReviewRequired: true,
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling DLQ entry: %w", errs.ErrInternal)
	}

	path := filepath.Join(dir, item.ItemID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing DLQ entry: %w", errs.ErrInternal)
	}
	return nil
}

func appendClassified(history []FailureDetail, classifiedType string) []FailureDetail {
	out := append([]FailureDetail(nil), history...)
	for i := range out {
		if out[i].ClassifiedType == "" {
			out[i].ClassifiedType = classifiedType
		}
	}
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// List returns every DLQ item recorded for job_id.
func (q *Queue) List(jobID string) ([]Item, error) {
	entries, err := os.ReadDir(q.jobDir(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing DLQ for %s: %w", jobID, errs.ErrInternal)
	}
	var items []Item
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(q.jobDir(jobID), e.Name()))
		if err != nil {
			continue
		}
		var item Item
		if err := json.Unmarshal(data, &item); err != nil {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// Show returns a single DLQ item by id, or nil if not found.
func (q *Queue) Show(jobID, id string) (*Item, error) {
	path := filepath.Join(q.jobDir(jobID), id+".json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading DLQ item %s: %w", id, errs.ErrInternal)
	}
	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("parsing DLQ item %s: %w", id, errs.ErrInternal)
	}
	return &item, nil
}

// Clear removes every DLQ item recorded for job_id.
func (q *Queue) Clear(jobID string) error {
	if err := os.RemoveAll(q.jobDir(jobID)); err != nil {
		return fmt.Errorf("clearing DLQ for %s: %w", jobID, errs.ErrInternal)
	}
	return nil
}
