package orchestrator

import (
	"context"
	"fmt"

	"mediaqueue/internal/domain"
)

// Resolve applies a terminal outcome to a processing job. It is the single
// code path out of processing and is shared by the webhook, poll and sweep
// resolvers. The transition is a storage-level conditional write: if the job
// already left processing the call is a silent no-op and credits are not
// settled again, which is what makes concurrent resolution safe.
func (o *Orchestrator) Resolve(ctx context.Context, jobID string, outcome domain.Outcome, source domain.ResolutionSource) error {
	return o.resolveFrom(ctx, jobID, domain.JobStatusProcessing, outcome, source)
}

func (o *Orchestrator) resolveFrom(ctx context.Context, jobID string, expect domain.JobStatus, outcome domain.Outcome, source domain.ResolutionSource) error {
	status := domain.JobStatusFailed
	if outcome.Succeeded {
		status = domain.JobStatusCompleted
	}

	won, err := o.jobs.ResolveTerminal(ctx, jobID, expect, status, outcome, source)
	if err != nil {
		return fmt.Errorf("resolve job %s: %w", jobID, err)
	}
	if !won {
		o.logger.Debug().
			Str("job_id", jobID).
			Str("source", string(source)).
			Msg("orchestrator: job already terminal, resolution dropped")
		return nil
	}

	// Only the winner of the status race reaches this point, so the
	// settlement runs exactly once per job.
	var settleErr error
	if outcome.Succeeded {
		settleErr = o.ledger.Commit(ctx, jobID)
	} else {
		settleErr = o.ledger.Refund(ctx, jobID)
	}
	if settleErr != nil {
		o.logger.Error().Err(settleErr).
			Str("job_id", jobID).
			Str("source", string(source)).
			Msg("orchestrator: credit settlement failed")
		return fmt.Errorf("settle credits for job %s: %w", jobID, settleErr)
	}

	o.logger.Info().
		Str("job_id", jobID).
		Str("status", string(status)).
		Str("source", string(source)).
		Msg("orchestrator: job resolved")
	return nil
}
