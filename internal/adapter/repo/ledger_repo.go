package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediaqueue/internal/domain"
)

// CreditLedgerPG implements domain.CreditLedger on PostgreSQL. Settlement is
// guarded at the storage level too: a ledger row can move out of
// reserved-only exactly once, so even a caller bug cannot double-settle.
type CreditLedgerPG struct {
	pool *pgxpool.Pool
}

// NewCreditLedger creates a new credit ledger backed by PostgreSQL.
func NewCreditLedger(pool *pgxpool.Pool) *CreditLedgerPG {
	return &CreditLedgerPG{pool: pool}
}

// Commit settles the job's reservation as spent: the ledger entry records the
// commit and the account hold is released without returning the credits.
func (l *CreditLedgerPG) Commit(ctx context.Context, jobID string) error {
	query := `
WITH settled AS (
    UPDATE credit_ledger
    SET committed = reserved,
        updated_at = NOW()
    WHERE job_id = $1 AND committed = 0 AND refunded = 0
    RETURNING owner_id, reserved
)
UPDATE credit_accounts a
SET reserved = a.reserved - s.reserved,
    updated_at = NOW()
FROM settled s
WHERE a.owner_id = s.owner_id
RETURNING a.owner_id;
`
	return l.settle(ctx, query, jobID)
}

// Refund returns the job's reservation to the owner's spendable balance.
func (l *CreditLedgerPG) Refund(ctx context.Context, jobID string) error {
	query := `
WITH settled AS (
    UPDATE credit_ledger
    SET refunded = reserved,
        updated_at = NOW()
    WHERE job_id = $1 AND committed = 0 AND refunded = 0
    RETURNING owner_id, reserved
)
UPDATE credit_accounts a
SET reserved = a.reserved - s.reserved,
    balance = a.balance + s.reserved,
    updated_at = NOW()
FROM settled s
WHERE a.owner_id = s.owner_id
RETURNING a.owner_id;
`
	return l.settle(ctx, query, jobID)
}

func (l *CreditLedgerPG) settle(ctx context.Context, query, jobID string) error {
	var ownerID string
	if err := l.pool.QueryRow(ctx, query, jobID).Scan(&ownerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrAlreadySettled
		}
		return err
	}
	return nil
}

// Entry fetches the per-job ledger record.
func (l *CreditLedgerPG) Entry(ctx context.Context, jobID string) (*domain.LedgerEntry, error) {
	query := `
SELECT job_id, owner_id, reserved, committed, refunded, created_at, updated_at
FROM credit_ledger
WHERE job_id = $1;
`
	var e domain.LedgerEntry
	if err := l.pool.QueryRow(ctx, query, jobID).Scan(
		&e.JobID, &e.OwnerID, &e.Reserved, &e.Committed, &e.Refunded, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// Account fetches an owner's balance.
func (l *CreditLedgerPG) Account(ctx context.Context, ownerID string) (*domain.Account, error) {
	query := `SELECT owner_id, balance, reserved, updated_at FROM credit_accounts WHERE owner_id = $1;`
	var a domain.Account
	if err := l.pool.QueryRow(ctx, query, ownerID).Scan(&a.OwnerID, &a.Balance, &a.Reserved, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// ListUnsettled returns ledger entries for terminal jobs that were never
// settled, oldest first.
func (l *CreditLedgerPG) ListUnsettled(ctx context.Context, limit int) ([]domain.LedgerEntry, error) {
	query := `
SELECT e.job_id, e.owner_id, e.reserved, e.committed, e.refunded, e.created_at, e.updated_at
FROM credit_ledger e
JOIN generation_jobs j ON j.id = e.job_id
WHERE j.status IN ($1, $2) AND e.committed = 0 AND e.refunded = 0
ORDER BY e.created_at ASC
LIMIT $3;
`
	rows, err := l.pool.Query(ctx, query, domain.JobStatusCompleted, domain.JobStatusFailed, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.JobID, &e.OwnerID, &e.Reserved, &e.Committed, &e.Refunded, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Grant adds spendable credits to an owner, creating the account if needed.
func (l *CreditLedgerPG) Grant(ctx context.Context, ownerID string, amount int) error {
	query := `
INSERT INTO credit_accounts (owner_id, balance, reserved)
VALUES ($1, $2, 0)
ON CONFLICT (owner_id)
DO UPDATE SET balance = credit_accounts.balance + EXCLUDED.balance, updated_at = NOW();
`
	_, err := l.pool.Exec(ctx, query, ownerID, amount)
	return err
}

var _ domain.CreditLedger = (*CreditLedgerPG)(nil)
