package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediaqueue/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL. Status
// transitions are single conditional UPDATE statements; the row's current
// status is the only authority, no in-process locking.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

// CreateReserving inserts the job and reserves its credits in one statement.
// The balance check, the account hold, the ledger row and the job row either
// all happen or none do.
func (r *JobRepositoryPG) CreateReserving(ctx context.Context, job *domain.Job) error {
	query := `
WITH held AS (
    UPDATE credit_accounts
    SET balance = balance - $5,
        reserved = reserved + $5,
        updated_at = NOW()
    WHERE owner_id = $2 AND balance >= $5
    RETURNING owner_id
),
entry AS (
    INSERT INTO credit_ledger (job_id, owner_id, reserved)
    SELECT $1, owner_id, $5 FROM held
),
ins AS (
    INSERT INTO generation_jobs (id, owner_id, resource_kind, status, credits_reserved)
    SELECT $1, owner_id, $3, $4, $5 FROM held
    RETURNING id
)
SELECT id FROM ins;
`
	row := r.pool.QueryRow(ctx, query,
		job.ID,
		job.OwnerID,
		job.ResourceKind,
		domain.JobStatusPending,
		job.CreditsReserved,
	)
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrInsufficientCredits
		}
		return err
	}
	return nil
}

const jobColumns = `
id, owner_id, resource_kind, COALESCE(provider_request_id, ''), status,
result_json, COALESCE(error_detail, ''), credits_reserved,
COALESCE(resolution_source, ''), created_at, updated_at, resolved_at
`

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE id = $1;`
	return r.scanJob(r.pool.QueryRow(ctx, query, jobID))
}

// GetByProviderRequestID fetches a job by its external correlation key.
func (r *JobRepositoryPG) GetByProviderRequestID(ctx context.Context, providerRequestID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE provider_request_id = $1;`
	return r.scanJob(r.pool.QueryRow(ctx, query, providerRequestID))
}

// MarkProcessing records the provider correlation id and moves the job out of
// pending. The WHERE clause doubles as the immutability guard for
// provider_request_id: once set, the row no longer matches.
func (r *JobRepositoryPG) MarkProcessing(ctx context.Context, jobID, providerRequestID string) (bool, error) {
	query := `
UPDATE generation_jobs
SET status = $3,
    provider_request_id = $2,
    updated_at = NOW()
WHERE id = $1 AND status = $4 AND provider_request_id IS NULL;
`
	tag, err := r.pool.Exec(ctx, query, jobID, providerRequestID, domain.JobStatusProcessing, domain.JobStatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ResolveTerminal is the compare-and-swap at the heart of the lifecycle: the
// terminal status, payload and resolution source land only if the row still
// holds the expected status. Zero rows affected means some other resolver won
// and the caller must drop its outcome.
func (r *JobRepositoryPG) ResolveTerminal(ctx context.Context, jobID string, expect, status domain.JobStatus, outcome domain.Outcome, source domain.ResolutionSource) (bool, error) {
	query := `
UPDATE generation_jobs
SET status = $3,
    result_json = $4,
    error_detail = NULLIF($5, ''),
    resolution_source = $6,
    resolved_at = NOW(),
    updated_at = NOW()
WHERE id = $1 AND status = $2;
`
	tag, err := r.pool.Exec(ctx, query,
		jobID,
		expect,
		status,
		nullableBytes(outcome.ResultJSON),
		outcome.ErrorDetail,
		source,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListStaleProcessing returns processing jobs untouched since the cutoff,
// oldest first.
func (r *JobRepositoryPG) ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]domain.Job, error) {
	query := `
SELECT ` + jobColumns + `
FROM generation_jobs
WHERE status = $1 AND updated_at < $2
ORDER BY updated_at ASC
LIMIT $3;
`
	rows, err := r.pool.Query(ctx, query, domain.JobStatusProcessing, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJobFrom(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// TouchUpdatedAt refreshes the staleness clock for a still-pending job.
func (r *JobRepositoryPG) TouchUpdatedAt(ctx context.Context, jobID string) error {
	query := `UPDATE generation_jobs SET updated_at = NOW() WHERE id = $1 AND status = $2;`
	_, err := r.pool.Exec(ctx, query, jobID, domain.JobStatusProcessing)
	return err
}

func (r *JobRepositoryPG) scanJob(row pgx.Row) (*domain.Job, error) {
	job, err := scanJobFrom(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

func scanJobFrom(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.ResourceKind,
		&job.ProviderRequestID,
		&job.Status,
		&job.ResultJSON,
		&job.ErrorDetail,
		&job.CreditsReserved,
		&job.ResolutionSource,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.ResolvedAt,
	); err != nil {
		return nil, err
	}
	return &job, nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
