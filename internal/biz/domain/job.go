package domain

import "time"

// JobStatus is the lifecycle state of a processing job record
type JobStatus string

const (
	JobScheduled JobStatus = "scheduled"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// ProcessingJob records the scheduler's intent to close a specific buffer at
// or after its deadline, with retry bookkeeping for operator visibility.
type ProcessingJob struct {
	ID           string
	BufferID     string
	ScheduledFor time.Time
	Attempts     int
	Status       JobStatus
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
