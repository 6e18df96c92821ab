package domain

import (
	"encoding/json"
	"time"
)

// JobStatus enumerates job lifecycle states. Transitions are monotonic:
// pending -> processing -> completed|failed, or pending -> failed when
// submission itself errors. A terminal job is never mutated again.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether the status permits no further transition.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ResolutionSource records which path won the terminal transition. It is
// diagnostic only; the state machine does not branch on it.
type ResolutionSource string

const (
	ResolutionWebhook           ResolutionSource = "webhook"
	ResolutionPoll              ResolutionSource = "poll"
	ResolutionSweep             ResolutionSource = "sweep"
	ResolutionSubmissionFailure ResolutionSource = "submission-failure"
)

// Job tracks one asynchronous generation request end-to-end. The orchestrator
// treats ResourceKind and the provider input/result as opaque passthrough.
type Job struct {
	ID                string
	OwnerID           string
	ResourceKind      string
	ProviderRequestID string // empty until submission succeeds, immutable after
	Status            JobStatus
	ResultJSON        json.RawMessage // set only on completed
	ErrorDetail       string          // set only on failed
	CreditsReserved   int
	ResolutionSource  ResolutionSource
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ResolvedAt        *time.Time
}

// Outcome is the terminal verdict a resolver reports for a job. Exactly one
// of ResultJSON or ErrorDetail is meaningful depending on Succeeded.
type Outcome struct {
	Succeeded   bool
	ResultJSON  json.RawMessage
	ErrorDetail string
}

// SuccessOutcome builds a completed outcome carrying the provider result.
func SuccessOutcome(result json.RawMessage) Outcome {
	return Outcome{Succeeded: true, ResultJSON: result}
}

// FailureOutcome builds a failed outcome carrying the provider error.
func FailureOutcome(detail string) Outcome {
	return Outcome{Succeeded: false, ErrorDetail: detail}
}
