package orchestrator

import (
	"context"
	"fmt"
	"time"

	"mediaqueue/internal/domain"
	"mediaqueue/internal/gateway"
)

// PollUntilResolved actively watches the provider for a terminal state when
// no push channel is reachable. The loop is cooperative: cancelling ctx is a
// silent withdrawal that leaves the job processing for the sweeper, never a
// forced failure. Only exhausting maxWait produces a timeout outcome, which
// is resolved as a failure and refunded.
//
// Transient status errors and unrecognized provider responses keep the loop
// going; the poller never transitions a job on ambiguous evidence.
func (o *Orchestrator) PollUntilResolved(ctx context.Context, jobID, providerRequestID string, maxWait, interval time.Duration) (domain.Outcome, error) {
	if interval <= 0 {
		interval = o.pollInterval
	}
	if maxWait <= 0 {
		maxWait = o.pollMaxWait
	}
	deadline := time.Now().Add(maxWait)

	for {
		select {
		case <-ctx.Done():
			return domain.Outcome{}, ctx.Err()
		default:
		}

		st, err := o.gw.Status(ctx, providerRequestID)
		if err != nil {
			if ctx.Err() != nil {
				return domain.Outcome{}, ctx.Err()
			}
			o.logger.Warn().Err(err).
				Str("job_id", jobID).
				Str("provider_request_id", providerRequestID).
				Msg("orchestrator: poll iteration failed, retrying")
		} else {
			switch st.State {
			case gateway.StateCompleted:
				outcome := domain.SuccessOutcome(st.ResultJSON)
				return outcome, o.Resolve(ctx, jobID, outcome, domain.ResolutionPoll)
			case gateway.StateFailed:
				outcome := domain.FailureOutcome(st.ErrorDetail)
				return outcome, o.Resolve(ctx, jobID, outcome, domain.ResolutionPoll)
			}
			// pending or unknown: keep waiting
		}

		if time.Now().After(deadline) {
			outcome := domain.FailureOutcome(fmt.Sprintf("no terminal state from provider within %s", maxWait))
			return outcome, o.Resolve(ctx, jobID, outcome, domain.ResolutionPoll)
		}

		select {
		case <-ctx.Done():
			return domain.Outcome{}, ctx.Err()
		case <-time.After(interval):
		}
	}
}
