package domain

import (
	"fmt"
	"time"
)

// JobState is the lifecycle state of an ingestion job. A job that succeeds is
// removed, so there is no terminal success state.
type JobState string

const (
	JobStateQueued     JobState = "queued"
	JobStateProcessing JobState = "processing"
	JobStateDeadLetter JobState = "dead_letter"
)

// JobEvent drives JobState transitions.
type JobEvent string

const (
	JobEventClaim   JobEvent = "claim"
	JobEventSucceed JobEvent = "succeed"
	JobEventRetry   JobEvent = "retry"
	JobEventExhaust JobEvent = "exhaust"
	JobEventRelease JobEvent = "release"
	JobEventRedrive JobEvent = "redrive"
)

// JobOutcome is the result of applying an event: the next state, or removal.
type JobOutcome struct {
	State   JobState
	Removed bool
}

// Transition returns the outcome of applying event to state.
func Transition(state JobState, event JobEvent) (JobOutcome, error) {
	switch state {
	case JobStateQueued:
		switch event {
		case JobEventClaim:
			return JobOutcome{State: JobStateProcessing}, nil
		}
	case JobStateProcessing:
		switch event {
		case JobEventSucceed:
			return JobOutcome{Removed: true}, nil
		case JobEventRetry, JobEventRelease:
			return JobOutcome{State: JobStateQueued}, nil
		case JobEventExhaust:
			return JobOutcome{State: JobStateDeadLetter}, nil
		}
	case JobStateDeadLetter:
		switch event {
		case JobEventRedrive:
			return JobOutcome{State: JobStateQueued}, nil
		}
	default:
		return JobOutcome{}, ErrInvalidJobState.WithCause(fmt.Errorf("%q", state))
	}
	return JobOutcome{}, ErrInvalidTransition.WithCause(fmt.Errorf("%s on %s", event, state))
}

// IngestionJob is a queued request to run a document through the pipeline.
type IngestionJob struct {
	ID           string
	DocumentID   string
	State        JobState
	AttemptCount int
	LastError    string
	EnqueuedAt   time.Time
	ClaimedAt    *time.Time
	UpdatedAt    time.Time
}

// NewIngestionJob creates a queued IngestionJob
func NewIngestionJob(id, documentID string, enqueuedAt time.Time) *IngestionJob {
	return &IngestionJob{
		ID:         id,
		DocumentID: documentID,
		State:      JobStateQueued,
		EnqueuedAt: enqueuedAt,
		UpdatedAt:  enqueuedAt,
	}
}

// ValidateIngestionJob validates an IngestionJob instance
func ValidateIngestionJob(j *IngestionJob) error {
	if j == nil {
		return fmt.Errorf("ingestion job cannot be nil")
	}

	if j.ID == "" {
		return fmt.Errorf("ingestion job ID is required")
	}

	if j.DocumentID == "" {
		return fmt.Errorf("ingestion job DocumentID is required")
	}

	if !IsValidJobState(j.State) {
		return fmt.Errorf("ingestion job State is invalid: %s", j.State)
	}

	if j.AttemptCount < 0 {
		return fmt.Errorf("ingestion job AttemptCount cannot be negative")
	}

	return nil
}

// IsValidJobState checks if a JobState is valid
func IsValidJobState(s JobState) bool {
	switch s {
	case JobStateQueued, JobStateProcessing, JobStateDeadLetter:
		return true
	}
	return false
}
