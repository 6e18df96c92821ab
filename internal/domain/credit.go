package domain

import "time"

// LedgerEntry is the per-job credit record. Once the job is terminal the
// invariant Reserved = Committed + Refunded holds, and Committed and Refunded
// are never both non-zero for one job.
type LedgerEntry struct {
	JobID     string
	OwnerID   string
	Reserved  int
	Committed int
	Refunded  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Account is an owner's credit balance. Balance is spendable, Reserved is
// held against in-flight jobs until the ledger settles them.
type Account struct {
	OwnerID   string
	Balance   int
	Reserved  int
	UpdatedAt time.Time
}
