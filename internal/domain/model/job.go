package model

import "time"

// JobKind selects the analysis a job runs.
type JobKind string

const (
	JobRank        JobKind = "rank"
	JobCorrelation JobKind = "correlation"
)

// Valid reports whether k is a known job kind.
func (k JobKind) Valid() bool { return k == JobRank || k == JobCorrelation }

// JobStatus is the lifecycle state of an async job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the job will not change state again.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobCancelled
}

// Task is the unit of work carried by the job queue. The request and result
// stay with the job record; the queue only moves identifiers.
type Task struct {
	JobID    string
	Kind     JobKind
	Enqueued time.Time
}
