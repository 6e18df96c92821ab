// Package orchestrator owns the asynchronous job lifecycle: submission,
// dual-channel completion (webhook and poll), the shared idempotent terminal
// transition, and stuck-job reconciliation. It is media-agnostic; anything
// identified by an opaque provider request id can be orchestrated.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mediaqueue/internal/domain"
	"mediaqueue/internal/gateway"
)

const (
	defaultJobCost      = 10
	defaultPollInterval = 5 * time.Second
	defaultPollMaxWait  = 10 * time.Minute
)

// Options wires the orchestrator's collaborators and policy knobs.
type Options struct {
	Jobs   domain.JobRepository
	Ledger domain.CreditLedger
	Gw     gateway.Gateway
	Logger zerolog.Logger

	// Costs maps resource kinds to their credit price. Kinds missing from
	// the map fall back to DefaultCost.
	Costs       map[string]int
	DefaultCost int

	// CallbackURL is the public webhook endpoint handed to the provider.
	// When empty the environment cannot receive pushes and every submission
	// starts a background poll resolver instead.
	CallbackURL string

	PollInterval time.Duration
	PollMaxWait  time.Duration

	// BaseContext bounds background pollers to the process lifetime rather
	// than the submitting request. Defaults to context.Background().
	BaseContext context.Context
}

// Orchestrator coordinates the job store, the credit ledger and the provider
// gateway. All status writes funnel through the conditional transitions on
// the job repository; the orchestrator holds no locks of its own.
type Orchestrator struct {
	jobs   domain.JobRepository
	ledger domain.CreditLedger
	gw     gateway.Gateway
	logger zerolog.Logger

	costs       map[string]int
	defaultCost int

	callbackURL  string
	pollInterval time.Duration
	pollMaxWait  time.Duration
	baseCtx      context.Context
}

// New constructs an Orchestrator from Options, applying defaults.
func New(opts Options) *Orchestrator {
	defaultCost := opts.DefaultCost
	if defaultCost <= 0 {
		defaultCost = defaultJobCost
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	pollMaxWait := opts.PollMaxWait
	if pollMaxWait <= 0 {
		pollMaxWait = defaultPollMaxWait
	}
	baseCtx := opts.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Orchestrator{
		jobs:         opts.Jobs,
		ledger:       opts.Ledger,
		gw:           opts.Gw,
		logger:       opts.Logger,
		costs:        opts.Costs,
		defaultCost:  defaultCost,
		callbackURL:  opts.CallbackURL,
		pollInterval: pollInterval,
		pollMaxWait:  pollMaxWait,
		baseCtx:      baseCtx,
	}
}

// Cost returns the credit price of a resource kind.
func (o *Orchestrator) Cost(resourceKind string) int {
	if c, ok := o.costs[resourceKind]; ok && c > 0 {
		return c
	}
	return o.defaultCost
}

// Submit reserves credits, creates the job and hands it to the provider.
// After a successful return the job is durably processing with its provider
// correlation id recorded. A gateway failure leaves a terminal failed job
// with the reservation refunded; retrying is the caller's decision.
func (o *Orchestrator) Submit(ctx context.Context, ownerID, resourceKind string, input json.RawMessage) (*domain.Job, error) {
	job := &domain.Job{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		ResourceKind:    resourceKind,
		Status:          domain.JobStatusPending,
		CreditsReserved: o.Cost(resourceKind),
	}
	if err := o.jobs.CreateReserving(ctx, job); err != nil {
		return nil, err
	}

	sub, err := o.gw.Submit(ctx, gateway.SubmitRequest{
		ResourceKind: resourceKind,
		Input:        input,
		CallbackURL:  o.callbackURL,
	})
	if err != nil {
		o.failSubmission(ctx, job.ID, err)
		return nil, fmt.Errorf("submit job %s: %w: %v", job.ID, domain.ErrProviderFailure, err)
	}

	won, err := o.jobs.MarkProcessing(ctx, job.ID, sub.ProviderRequestID)
	if err != nil {
		return nil, fmt.Errorf("record provider request id for job %s: %w", job.ID, err)
	}
	if !won {
		// The job left pending underneath us; nothing sane to do but report.
		return nil, fmt.Errorf("job %s was no longer pending after submission", job.ID)
	}

	o.logger.Info().
		Str("job_id", job.ID).
		Str("owner_id", ownerID).
		Str("kind", resourceKind).
		Str("provider_request_id", sub.ProviderRequestID).
		Int("credits", job.CreditsReserved).
		Msg("orchestrator: job submitted")

	if o.callbackURL == "" {
		// No reachable push channel: watch the provider actively. The poller
		// is bound to the process lifetime, not the submitting request, and
		// the sweeper backstops it if this process dies.
		go func() {
			if _, err := o.PollUntilResolved(o.baseCtx, job.ID, sub.ProviderRequestID, o.pollMaxWait, o.pollInterval); err != nil {
				o.logger.Debug().Err(err).Str("job_id", job.ID).Msg("orchestrator: background poll ended")
			}
		}()
	}

	return o.jobs.GetByID(ctx, job.ID)
}

// failSubmission terminally fails a job that never reached the provider and
// refunds its reservation. Best effort: if the conditional write loses, some
// other path already owns the terminal state.
func (o *Orchestrator) failSubmission(ctx context.Context, jobID string, cause error) {
	outcome := domain.FailureOutcome(fmt.Sprintf("submission failed: %v", cause))
	if err := o.resolveFrom(ctx, jobID, domain.JobStatusPending, outcome, domain.ResolutionSubmissionFailure); err != nil {
		o.logger.Error().Err(err).Str("job_id", jobID).Msg("orchestrator: failed to settle failed submission")
	}
}

// Job fetches a job by id for read-only status queries.
func (o *Orchestrator) Job(ctx context.Context, jobID string) (*domain.Job, error) {
	return o.jobs.GetByID(ctx, jobID)
}
