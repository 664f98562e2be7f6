package storage

import "time"

// Run is one automation session from login to stop.
type Run struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
	Username    string    `json:"username,omitempty"`
	Queue       int       `json:"queue"`
	Strategy    string    `json:"strategy"`
	ActivityLog string    `json:"activity_log,omitempty"`
	StopReason  string    `json:"stop_reason,omitempty"`

	// Derived from the run's records.
	Processed int `json:"processed"`
	Approved  int `json:"approved"`
	Deferred  int `json:"deferred"`
	Failed    int `json:"failed"`
}

// Record is one processed work item.
type Record struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Link       string    `json:"link"`
	Match      string    `json:"match"`  // matched:<pattern> | no-match | failure kind
	Action     string    `json:"action"` // approve | defer | failure kind
	Pattern    string    `json:"pattern,omitempty"`
	Platform   string    `json:"platform,omitempty"`
}
