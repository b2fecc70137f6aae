package queue

import (
	"encoding/json"
	"time"
)

// Status is the delivery state of a queued record. Pending records are the
// sync coordinator's work list; synced and failed are both terminal.
type Status string

const (
	StatusPending Status = "pending"
	StatusSynced  Status = "synced"
	StatusFailed  Status = "failed"
)

// Record is one captured write awaiting delivery. Seq is assigned by the
// store at enqueue time and is the total delivery order; CapturedAt follows
// the device clock and is informational only.
type Record struct {
	Seq           int64
	RecordID      string
	SubjectID     string
	Kind          string
	Payload       json.RawMessage
	AuthorID      string
	CapturedAt    time.Time
	Status        Status
	FailureReason string
	SyncedAt      *time.Time
}

// Counts summarizes the queue for badge display.
type Counts struct {
	Pending int
	Synced  int
	Failed  int
}
