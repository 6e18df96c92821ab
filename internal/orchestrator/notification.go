package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"mediaqueue/internal/domain"
	"mediaqueue/internal/gateway"
)

// ErrMalformedNotification marks a webhook body we could not make sense of.
// The HTTP handler still acknowledges such deliveries; the sweeper is the
// backstop that recovers the affected job.
var ErrMalformedNotification = errors.New("malformed provider notification")

// Notification is the normalized form of a provider push. Providers disagree
// on field names, so parsing is deliberately tolerant.
type Notification struct {
	ProviderRequestID string
	Outcome           domain.Outcome
}

// ParseNotification extracts the correlation id and terminal verdict from a
// provider webhook body. Returns ErrMalformedNotification when either cannot
// be determined.
func ParseNotification(raw []byte) (Notification, error) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		return Notification{}, ErrMalformedNotification
	}

	id := firstString(body, "request_id", "requestId", "id", "task_id", "taskId", "job_id", "jobId")
	if id == "" {
		return Notification{}, ErrMalformedNotification
	}

	status := gateway.NormalizeState(firstString(body, "status", "state"))
	switch status {
	case gateway.StateCompleted:
		result := firstRaw(body, "output", "result", "payload", "data")
		if result == nil {
			// Some providers put the artifact URL at the top level.
			if u := firstString(body, "video_url", "image_url", "url"); u != "" {
				result, _ = json.Marshal(map[string]string{"url": u})
			}
		}
		return Notification{ProviderRequestID: id, Outcome: domain.SuccessOutcome(result)}, nil
	case gateway.StateFailed:
		detail := firstString(body, "error", "error_message", "message", "detail")
		if detail == "" {
			detail = "provider reported failure"
		}
		return Notification{ProviderRequestID: id, Outcome: domain.FailureOutcome(detail)}, nil
	default:
		// Progress pings and unrecognized statuses carry no verdict.
		return Notification{}, ErrMalformedNotification
	}
}

// HandleNotification resolves the job a provider push refers to. Unknown
// correlation ids are not an error: the push may belong to another deployment
// or to a job this store never recorded, and the provider must still get its
// acknowledgement either way.
func (o *Orchestrator) HandleNotification(ctx context.Context, n Notification) error {
	job, err := o.jobs.GetByProviderRequestID(ctx, n.ProviderRequestID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			o.logger.Warn().
				Str("provider_request_id", n.ProviderRequestID).
				Msg("orchestrator: webhook for unknown job, acknowledging anyway")
			return nil
		}
		return err
	}
	return o.Resolve(ctx, job.ID, n.Outcome, domain.ResolutionWebhook)
}

func firstString(body map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		raw, ok := body[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func firstRaw(body map[string]json.RawMessage, keys ...string) json.RawMessage {
	for _, k := range keys {
		if raw, ok := body[k]; ok && len(raw) > 0 && string(raw) != "null" {
			return raw
		}
	}
	return nil
}
