package dlq

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/re-cinq/loom/internal/errs"
	"github.com/re-cinq/loom/internal/jobstate"
)

func testWorkItem(id string) jobstate.WorkItem {
	return jobstate.WorkItem{ItemID: id, Value: json.RawMessage(`{"path":"a.go"}`)}
}

func TestEnqueueAndShow(t *testing.T) {
	q := NewQueue(t.TempDir())
	item := testWorkItem("item-1")
	history := []FailureDetail{{AttemptNumber: 1, Error: "boom"}}

	if err := q.Enqueue("job-1", item, history, errs.ErrCommitValidation); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got, err := q.Show("job-1", "item-1")
	if err != nil {
		t.Fatalf("Show: %v", err)
	}
	if got == nil {
		t.Fatal("expected a DLQ entry")
	}
	if got.ID != "item-1" {
		t.Errorf("ID = %q, want item-1", got.ID)
	}
	if !got.ManualReviewRequired {
		t.Error("expected ManualReviewRequired to be true")
	}
	if len(got.FailureHistory) != 1 || got.FailureHistory[0].ClassifiedType == "" {
		t.Errorf("expected classified type to be backfilled, got %+v", got.FailureHistory)
	}
}

func TestShowMissingReturnsNil(t *testing.T) {
	q := NewQueue(t.TempDir())
	got, err := q.Show("job-1", "nonexistent")
	if err != nil {
		t.Fatalf("Show: %v", err)
	}
	if got != nil {
		t.Error("expected nil for a missing DLQ item")
	}
}

func TestListReturnsAllItems(t *testing.T) {
	q := NewQueue(t.TempDir())
	for _, id := range []string{"item-1", "item-2", "item-3"} {
		if err := q.Enqueue("job-1", testWorkItem(id), nil, errors.New("fail")); err != nil {
			t.Fatalf("Enqueue %s: %v", id, err)
		}
	}
	items, err := q.List("job-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 3 {
		t.Errorf("expected 3 DLQ items, got %d", len(items))
	}
}

func TestListEmptyJobReturnsNoError(t *testing.T) {
	q := NewQueue(t.TempDir())
	items, err := q.List("never-enqueued")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected 0 items, got %d", len(items))
	}
}

func TestClearRemovesAllItems(t *testing.T) {
	q := NewQueue(t.TempDir())
	if err := q.Enqueue("job-1", testWorkItem("item-1"), nil, errors.New("fail")); err != nil {
		t.Fatal(err)
	}
	if err := q.Clear("job-1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	items, err := q.List("job-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected 0 items after Clear, got %d", len(items))
	}
}

func TestEnqueueClassifiesTimeoutError(t *testing.T) {
	q := NewQueue(t.TempDir())
	if err := q.Enqueue("job-1", testWorkItem("item-1"), nil, errs.ErrTimeout); err != nil {
		t.Fatal(err)
	}
	got, err := q.Show("job-1", "item-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.FailureHistory) != 0 {
		t.Fatalf("expected no preexisting history entries to backfill, got %+v", got.FailureHistory)
	}

	history := []FailureDetail{{AttemptNumber: 1, Error: "agent deadline exceeded"}}
	if err := q.Enqueue("job-1", testWorkItem("item-2"), history, errs.ErrTimeout); err != nil {
		t.Fatal(err)
	}
	got2, err := q.Show("job-1", "item-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(got2.FailureHistory) != 1 || got2.FailureHistory[0].ClassifiedType != "Timeout" {
		t.Errorf("expected history entry classified as Timeout, got %+v", got2.FailureHistory)
	}
}
