package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents a job's position in its lifecycle.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSuccess    JobStatus = "success"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailed
}

// CanTransition reports whether s may move to next.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing
	case JobStatusProcessing:
		return next.IsTerminal()
	default:
		return false
	}
}

// Job is a unit of pipeline work.
type Job struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	SourceURL string    `json:"source_url"`
	Status    JobStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transition moves the job to next, rejecting anything but the allowed edges.
func (j *Job) Transition(next JobStatus) error {
	if !j.Status.CanTransition(next) {
		return ValidationError(fmt.Sprintf("invalid job transition %s -> %s", j.Status, next), nil)
	}
	j.Status = next
	j.UpdatedAt = time.Now()
	return nil
}

// JobPayload is the queue message for a job.
type JobPayload struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	URL  string `json:"url"`
}
