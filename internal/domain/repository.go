package domain

import (
	"context"
	"time"
)

// JobRepository defines persistence for job entities. The two conditional
// transition methods are the only writes allowed to move a job's status; they
// must be single-statement compare-and-swap updates so that concurrent
// resolvers cannot double-apply a terminal state.
type JobRepository interface {
	// CreateReserving inserts the job in pending and reserves its credits in
	// the same statement. Returns ErrInsufficientCredits when the owner's
	// balance cannot cover job.CreditsReserved.
	CreateReserving(ctx context.Context, job *Job) error

	GetByID(ctx context.Context, jobID string) (*Job, error)
	GetByProviderRequestID(ctx context.Context, providerRequestID string) (*Job, error)

	// MarkProcessing records the provider correlation id and transitions
	// pending -> processing. Applies only while the job is still pending.
	MarkProcessing(ctx context.Context, jobID, providerRequestID string) (bool, error)

	// ResolveTerminal conditionally transitions the job out of the given
	// expected status into a terminal one. Returns false with no error when
	// the job was no longer in the expected status; the caller must then
	// treat the resolution as a no-op.
	ResolveTerminal(ctx context.Context, jobID string, expect JobStatus, status JobStatus, outcome Outcome, source ResolutionSource) (bool, error)

	// ListStaleProcessing returns processing jobs whose updated_at is older
	// than the cutoff, oldest first, capped at limit.
	ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]Job, error)

	// TouchUpdatedAt refreshes updated_at so a job the provider reports as
	// still pending is not re-swept every cycle.
	TouchUpdatedAt(ctx context.Context, jobID string) error
}

// CreditLedger settles the reservation made at job creation. Commit and
// Refund are each applied at most once per job; both return ErrAlreadySettled
// if the entry was settled before, which callers treat as a defect signal
// since the job-status guard should have prevented the second call.
type CreditLedger interface {
	Commit(ctx context.Context, jobID string) error
	Refund(ctx context.Context, jobID string) error
	Entry(ctx context.Context, jobID string) (*LedgerEntry, error)
	Account(ctx context.Context, ownerID string) (*Account, error)
	Grant(ctx context.Context, ownerID string, amount int) error

	// ListUnsettled returns entries whose job already reached a terminal
	// status but which were neither committed nor refunded, capped at limit.
	// Such entries exist only if a resolver crashed between the terminal
	// write and the settlement; the sweeper recovers them.
	ListUnsettled(ctx context.Context, limit int) ([]LedgerEntry, error)
}
