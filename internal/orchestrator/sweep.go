package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"mediaqueue/internal/domain"
	"mediaqueue/internal/gateway"
)

const (
	defaultSweepPeriod  = time.Minute
	defaultStaleAfter   = 2 * time.Minute
	defaultFailAfter    = 30 * time.Minute
	defaultSweepBatch   = 100
	defaultSweepWorkers = 4
	defaultSweepQPS     = 5
)

// SweeperOptions tunes the reconciliation schedule.
type SweeperOptions struct {
	Period time.Duration
	// StaleAfter is how long a processing job may go without an update
	// before the sweeper re-queries the provider for it.
	StaleAfter time.Duration
	// FailAfter bounds the total time a job may stay billable-but-unresolved
	// before the sweeper force-fails and refunds it, measured from creation.
	FailAfter time.Duration
	// BatchSize caps how many stale jobs one cycle picks up.
	BatchSize int
	// Workers bounds concurrent provider queries within a cycle.
	Workers int
	// QPS rate-limits provider status queries across the whole cycle.
	QPS int
}

// Sweeper is the safety net of the lifecycle: it periodically scans for
// processing jobs nobody has touched lately, asks the provider directly and
// force-resolves. It depends on neither the webhook ever arriving nor any
// poller still being alive.
type Sweeper struct {
	orch    *Orchestrator
	jobs    domain.JobRepository
	ledger  domain.CreditLedger
	gw      gateway.Gateway
	logger  zerolog.Logger
	limiter *rate.Limiter

	period     time.Duration
	staleAfter time.Duration
	failAfter  time.Duration
	batchSize  int
	workers    int
}

// NewSweeper builds a Sweeper bound to the orchestrator's resolution engine.
func NewSweeper(orch *Orchestrator, logger zerolog.Logger, opts SweeperOptions) *Sweeper {
	if opts.Period <= 0 {
		opts.Period = defaultSweepPeriod
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaultStaleAfter
	}
	if opts.FailAfter <= 0 {
		opts.FailAfter = defaultFailAfter
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultSweepBatch
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultSweepWorkers
	}
	if opts.QPS <= 0 {
		opts.QPS = defaultSweepQPS
	}
	return &Sweeper{
		orch:       orch,
		jobs:       orch.jobs,
		ledger:     orch.ledger,
		gw:         orch.gw,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(opts.QPS), opts.QPS),
		period:     opts.Period,
		staleAfter: opts.StaleAfter,
		failAfter:  opts.FailAfter,
		batchSize:  opts.BatchSize,
		workers:    opts.Workers,
	}
}

// Run sweeps on a fixed period until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info().
		Dur("period", s.period).
		Dur("stale_after", s.staleAfter).
		Dur("fail_after", s.failAfter).
		Msg("sweeper: started")

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error().Err(err).Msg("sweeper: cycle failed")
			} else if n > 0 {
				s.logger.Info().Int("resolved", n).Msg("sweeper: cycle finished")
			}
		}
	}
}

// SweepOnce reconciles every stale processing job once and returns how many
// reached a terminal state. A failure on one job never aborts the others.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	s.settleMissed(ctx)

	cutoff := time.Now().Add(-s.staleAfter)
	stale, err := s.jobs.ListStaleProcessing(ctx, cutoff, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale jobs: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	resolved := make(chan struct{}, len(stale))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, job := range stale {
		job := job
		g.Go(func() error {
			done, err := s.reconcile(gctx, job)
			if err != nil {
				// Isolated per-job failure; the sweep carries on and the job
				// stays eligible for the next cycle.
				s.logger.Error().Err(err).Str("job_id", job.ID).Msg("sweeper: reconcile failed")
				return nil
			}
			if done {
				resolved <- struct{}{}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return len(resolved), err
	}
	return len(resolved), nil
}

// settleMissed recovers settlements lost between a terminal write and the
// ledger call (a resolver crash leaves the job terminal with its reservation
// still held; nothing else ever revisits terminal jobs). Best effort: every
// entry gets retried next cycle until it settles.
func (s *Sweeper) settleMissed(ctx context.Context) {
	entries, err := s.ledger.ListUnsettled(ctx, s.batchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("sweeper: list unsettled ledger entries failed")
		return
	}
	for _, entry := range entries {
		job, err := s.jobs.GetByID(ctx, entry.JobID)
		if err != nil {
			s.logger.Error().Err(err).Str("job_id", entry.JobID).Msg("sweeper: load job for missed settlement failed")
			continue
		}
		if !job.Status.IsTerminal() {
			continue
		}
		if job.Status == domain.JobStatusCompleted {
			err = s.ledger.Commit(ctx, job.ID)
		} else {
			err = s.ledger.Refund(ctx, job.ID)
		}
		if err != nil && !errors.Is(err, domain.ErrAlreadySettled) {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("sweeper: missed settlement failed")
			continue
		}
		s.logger.Info().
			Str("job_id", job.ID).
			Str("status", string(job.Status)).
			Msg("sweeper: recovered missed settlement")
	}
}

// reconcile asks the provider for a job's current truth and force-resolves
// when the answer is terminal. A job the provider still reports as pending is
// left processing; its updated_at is refreshed so it gets a fair chance
// before the next cycle, unless it has outlived the long horizon.
func (s *Sweeper) reconcile(ctx context.Context, job domain.Job) (bool, error) {
	if job.ProviderRequestID == "" {
		// Processing without a correlation id should be unreachable; fail it
		// so it cannot stay billable forever.
		outcome := domain.FailureOutcome("job has no provider request id")
		return true, s.orch.Resolve(ctx, job.ID, outcome, domain.ResolutionSweep)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return false, err
	}
	st, err := s.gw.Status(ctx, job.ProviderRequestID)
	if err != nil {
		// The horizon binds even when the provider cannot answer, or a job
		// whose status endpoint errors forever (providers purge old request
		// records) would stay billable indefinitely.
		if s.pastFailHorizon(job) {
			return true, s.forceFail(ctx, job)
		}
		return false, fmt.Errorf("query provider: %w", err)
	}

	switch st.State {
	case gateway.StateCompleted:
		return true, s.orch.Resolve(ctx, job.ID, domain.SuccessOutcome(st.ResultJSON), domain.ResolutionSweep)
	case gateway.StateFailed:
		return true, s.orch.Resolve(ctx, job.ID, domain.FailureOutcome(st.ErrorDetail), domain.ResolutionSweep)
	}

	if s.pastFailHorizon(job) {
		return true, s.forceFail(ctx, job)
	}

	return false, s.jobs.TouchUpdatedAt(ctx, job.ID)
}

func (s *Sweeper) pastFailHorizon(job domain.Job) bool {
	return time.Since(job.CreatedAt) > s.failAfter
}

func (s *Sweeper) forceFail(ctx context.Context, job domain.Job) error {
	outcome := domain.FailureOutcome(fmt.Sprintf("provider did not resolve job within %s", s.failAfter))
	return s.orch.Resolve(ctx, job.ID, outcome, domain.ResolutionSweep)
}
