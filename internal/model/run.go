package model

import "time"

// RunStatus represents the state of a chunk build run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one attempt at building a chunk.
type Run struct {
	ID          string     `json:"id"`
	ChunkID     int64      `json:"chunk_id"`
	Vendor      string     `json:"vendor"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      *RunResult `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// RunResult summarizes a completed chunk build.
type RunResult struct {
	Persons     int   `json:"persons"`
	Accepted    int   `json:"accepted"`
	Rejected    int   `json:"rejected"`
	Episodes    int   `json:"episodes"`
	RowsWritten int64 `json:"rows_written"`
}

// AttritionRecord is the audit entry written for every rejected person.
type AttritionRecord struct {
	ChunkID  int64     `json:"chunk_id"`
	PersonID int64     `json:"person_id"`
	Reason   Attrition `json:"reason"`
}
