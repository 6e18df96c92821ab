// Package gateway defines the capability boundary to the external queue-based
// generation providers. The orchestrator only ever sees this interface; the
// actual media generation is opaque behind an opaque provider request id.
package gateway

import (
	"context"
	"encoding/json"
)

// State is the normalized provider-side job state.
type State string

const (
	StatePending   State = "pending"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	// StateUnknown covers malformed or unrecognized provider responses.
	// Callers must treat it as still pending rather than guess a verdict.
	StateUnknown State = "unknown"
)

// SubmitRequest carries an opaque provider payload for a resource kind.
type SubmitRequest struct {
	ResourceKind string
	Input        json.RawMessage
	// CallbackURL, when non-empty, asks the provider to push completion to
	// our webhook endpoint. Providers that cannot push ignore it.
	CallbackURL string
}

// Submission is the provider's acknowledgement of an accepted task.
type Submission struct {
	ProviderRequestID string
}

// StatusResult is a point-in-time snapshot of a provider task.
type StatusResult struct {
	State       State
	ResultJSON  json.RawMessage
	ErrorDetail string
}

// Gateway submits tasks to a queue-based provider and reports their status.
type Gateway interface {
	Submit(ctx context.Context, req SubmitRequest) (Submission, error)
	Status(ctx context.Context, providerRequestID string) (StatusResult, error)
}
