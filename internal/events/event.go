package events

import "time"

// Run outcomes carried by RunFinishedEvent.
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
)

// RunStartedEvent is published when a generation run is scheduled.
type RunStartedEvent struct {
	RunID     string    `json:"run_id"`
	Kind      string    `json:"kind"` // incremental|full
	Total     int       `json:"total"`
	Timestamp time.Time `json:"timestamp"`
}

// PartitionWrittenEvent is published after a partition document is saved or
// removed. EntryCount zero with Removed true means the partition became
// empty and its document was deleted.
type PartitionWrittenEvent struct {
	RunID      string    `json:"run_id,omitempty"` // empty for direct generation
	Day        string    `json:"day"`
	EntryCount int       `json:"entry_count"`
	Removed    bool      `json:"removed,omitempty"`
	Forced     bool      `json:"forced,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// RunFinishedEvent is published when a run leaves the running state, whether
// it drained its work set or was cancelled.
type RunFinishedEvent struct {
	RunID     string    `json:"run_id"`
	Kind      string    `json:"kind"`
	Outcome   string    `json:"outcome"` // completed|cancelled
	Total     int       `json:"total"`
	Completed int       `json:"completed"`
	StartedAt time.Time `json:"started_at,omitzero"`
	Timestamp time.Time `json:"timestamp"`
}
