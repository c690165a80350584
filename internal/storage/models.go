package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// EventRecord is one entry in the local event ledger. Records are created on
// accepted CREATE/MOVE actions and mutated on UPDATE; the system never
// deletes them. GCalID holds either the remote event identifier or a
// locally-generated placeholder ("local-" prefix) when the record has not
// been mirrored yet.
type EventRecord struct {
	LocalID      string    `json:"local_id"`
	GCalID       string    `json:"gcal_id"`
	Summary      string    `json:"summary"`
	Description  string    `json:"description"`
	Location     string    `json:"location"`
	StartTime    string    `json:"start_time"` // YYYY-MM-DD or RFC3339
	EndTime      string    `json:"end_time"`
	LastUpdated  time.Time `json:"last_updated"`
	OriginalText string    `json:"original_text"`
	Synced       bool      `json:"synced"`
	SyncError    string    `json:"sync_error,omitempty"`
}

// Extraction records one extraction call: the incoming message and the
// actions the model proposed, kept for history and debugging.
type Extraction struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Message     string    `json:"message"`
	ActionsJSON string    `json:"actions_json"`
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	Status      string    `json:"status"` // "completed", "failed"
}

// Job is a queued unit of work processed by the apply worker.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
