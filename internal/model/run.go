package model

import "time"

// RunStatus represents the current state of a snapshot build run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// MemberFailure records why a single member was skipped by a batch.
type MemberFailure struct {
	MemberID int64  `json:"member_id"`
	Error    string `json:"error"`
}

// SnapshotRun is the log entry for one batch build.
type SnapshotRun struct {
	ID           string          `json:"id"`
	SnapshotDate string          `json:"snapshot_date"`
	SnapshotType string          `json:"snapshot_type"`
	Status       RunStatus       `json:"status"`
	Processed    int             `json:"processed"`
	Failed       int             `json:"failed"`
	Failures     []MemberFailure `json:"failures,omitempty"`
	Error        string          `json:"error,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}
