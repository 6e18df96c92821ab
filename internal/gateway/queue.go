package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// QueueClient talks to queue-style generation providers that expose a submit
// endpoint returning an opaque request id and a status endpoint keyed by that
// id (RunPod, Beam and most serverless GPU queues follow this shape).
type QueueClient struct {
	client *resty.Client
	logger zerolog.Logger
}

// QueueOptions configures a QueueClient.
type QueueOptions struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
	Logger   zerolog.Logger
}

// NewQueueClient builds a client for one provider endpoint.
func NewQueueClient(opts QueueOptions) (*QueueClient, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("gateway base url is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if opts.APIToken != "" {
		client.SetAuthToken(opts.APIToken)
	}

	return &QueueClient{client: client, logger: opts.Logger}, nil
}

type submitPayload struct {
	Kind    string          `json:"kind"`
	Input   json.RawMessage `json:"input"`
	Webhook string          `json:"webhook,omitempty"`
}

type submitResponse struct {
	ID        string `json:"id"`
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// Submit enqueues a task with the provider and returns its correlation id.
func (c *QueueClient) Submit(ctx context.Context, req SubmitRequest) (Submission, error) {
	payload := submitPayload{Kind: req.ResourceKind, Input: req.Input, Webhook: req.CallbackURL}

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post("/run")
	if err != nil {
		return Submission{}, fmt.Errorf("gateway submit: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return Submission{}, fmt.Errorf("gateway submit: status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	var out submitResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return Submission{}, fmt.Errorf("gateway submit: decode response: %w", err)
	}
	id := out.ID
	if id == "" {
		id = out.RequestID
	}
	if id == "" {
		return Submission{}, fmt.Errorf("gateway submit: response missing request id")
	}

	c.logger.Debug().Str("provider_request_id", id).Str("kind", req.ResourceKind).Msg("gateway: task submitted")
	return Submission{ProviderRequestID: id}, nil
}

type statusResponse struct {
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
}

// Status fetches the current provider-side state of a task. Unrecognized
// status strings map to StateUnknown so callers keep waiting instead of
// guessing a verdict.
func (c *QueueClient) Status(ctx context.Context, providerRequestID string) (StatusResult, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		Get("/status/" + providerRequestID)
	if err != nil {
		return StatusResult{}, fmt.Errorf("gateway status: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return StatusResult{}, fmt.Errorf("gateway status: request %s: %w", providerRequestID, errUnknownRequest)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return StatusResult{}, fmt.Errorf("gateway status: status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	var out statusResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return StatusResult{State: StateUnknown}, nil
	}

	switch NormalizeState(out.Status) {
	case StateCompleted:
		return StatusResult{State: StateCompleted, ResultJSON: out.Output}, nil
	case StateFailed:
		detail := out.Error
		if detail == "" {
			detail = "provider reported failure"
		}
		return StatusResult{State: StateFailed, ErrorDetail: detail}, nil
	case StatePending:
		return StatusResult{State: StatePending}, nil
	default:
		return StatusResult{State: StateUnknown}, nil
	}
}

var errUnknownRequest = fmt.Errorf("unknown provider request")

// NormalizeState maps heterogeneous provider status strings onto the
// normalized State set.
func NormalizeState(raw string) State {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "COMPLETED", "SUCCEEDED", "SUCCESS", "DONE", "FINISHED":
		return StateCompleted
	case "FAILED", "ERROR", "CANCELLED", "TIMED_OUT":
		return StateFailed
	case "PENDING", "IN_QUEUE", "QUEUED", "IN_PROGRESS", "RUNNING", "PROCESSING":
		return StatePending
	default:
		return StateUnknown
	}
}

var _ Gateway = (*QueueClient)(nil)
