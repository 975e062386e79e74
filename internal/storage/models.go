package storage

import "time"

// Run statuses recorded in the history.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// RunRecord is one attempt at producing a run's output file.
type RunRecord struct {
	// AttemptID is a UUID unique to this attempt.
	AttemptID string `json:"attempt_id"`

	// RunID is the deterministic run identity derived from the configuration.
	RunID string `json:"run_id"`

	// OutputFile is where the attempt writes its records.
	OutputFile string `json:"output_file"`

	Status string `json:"status"`

	// Records is the number of input records written.
	Records int `json:"records"`

	// Failed lists the input indices whose generation failed.
	Failed []int `json:"failed"`

	// Message carries the terminal error, if any.
	Message string `json:"message,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RunOutcome is the terminal state of a run attempt.
type RunOutcome struct {
	Status  string
	Records int
	Failed  []int
	Message string
}
