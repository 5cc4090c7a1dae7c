// Package checkpoint persists JobState snapshots durably, versions them,
// and migrates old schema versions forward on load.
package checkpoint

import (
	"time"

	"github.com/re-cinq/loom/internal/jobstate"
)

// Reason classifies why a checkpoint was taken.
type Reason string

const (
	ReasonPeriodic       Reason = "Periodic"
	ReasonAfterItem      Reason = "AfterItem"
	ReasonBeforeShutdown Reason = "BeforeShutdown"
	ReasonOnError        Reason = "OnError"
)

// Checkpoint is a full serialization of JobState plus metadata about when
// and why it was taken.
type Checkpoint struct {
	State     *jobstate.JobState `json:"state"`
	Reason    Reason             `json:"reason"`
	Timestamp time.Time          `json:"timestamp"`
}

// Info is the lightweight listing entry returned by Store.List, without
// loading the full (potentially large) state payload.
type Info struct {
	Path      string
	Version   uint32
	CreatedAt time.Time
	SizeBytes int64
	Reason    Reason
}
