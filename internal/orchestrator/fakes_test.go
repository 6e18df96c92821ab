package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediaqueue/internal/domain"
	"mediaqueue/internal/gateway"
)

// memoryStore implements domain.JobRepository and domain.CreditLedger with
// the same conditional-transition semantics as the PostgreSQL repositories,
// so race and idempotency behavior can be exercised without a database.
type memoryStore struct {
	mu       sync.Mutex
	jobs     map[string]*domain.Job
	accounts map[string]*domain.Account
	entries  map[string]*domain.LedgerEntry

	commits int
	refunds int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		jobs:     make(map[string]*domain.Job),
		accounts: make(map[string]*domain.Account),
		entries:  make(map[string]*domain.LedgerEntry),
	}
}

func (s *memoryStore) CreateReserving(ctx context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[job.OwnerID]
	if !ok || acc.Balance < job.CreditsReserved {
		return domain.ErrInsufficientCredits
	}
	acc.Balance -= job.CreditsReserved
	acc.Reserved += job.CreditsReserved
	now := time.Now()
	stored := *job
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.jobs[job.ID] = &stored
	s.entries[job.ID] = &domain.LedgerEntry{
		JobID:    job.ID,
		OwnerID:  job.OwnerID,
		Reserved: job.CreditsReserved,
	}
	return nil
}

func (s *memoryStore) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *memoryStore) GetByProviderRequestID(ctx context.Context, prid string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.ProviderRequestID == prid {
			copied := *job
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memoryStore) MarkProcessing(ctx context.Context, jobID, prid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status != domain.JobStatusPending || job.ProviderRequestID != "" {
		return false, nil
	}
	job.Status = domain.JobStatusProcessing
	job.ProviderRequestID = prid
	job.UpdatedAt = time.Now()
	return true, nil
}

func (s *memoryStore) ResolveTerminal(ctx context.Context, jobID string, expect, status domain.JobStatus, outcome domain.Outcome, source domain.ResolutionSource) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status != expect {
		return false, nil
	}
	now := time.Now()
	job.Status = status
	job.ResultJSON = outcome.ResultJSON
	job.ErrorDetail = outcome.ErrorDetail
	job.ResolutionSource = source
	job.ResolvedAt = &now
	job.UpdatedAt = now
	return true, nil
}

func (s *memoryStore) ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, job := range s.jobs {
		if job.Status == domain.JobStatusProcessing && job.UpdatedAt.Before(cutoff) {
			out = append(out, *job)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memoryStore) TouchUpdatedAt(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[jobID]; ok && job.Status == domain.JobStatusProcessing {
		job.UpdatedAt = time.Now()
	}
	return nil
}

func (s *memoryStore) Commit(ctx context.Context, jobID string) error {
	return s.settle(jobID, true)
}

func (s *memoryStore) Refund(ctx context.Context, jobID string) error {
	return s.settle(jobID, false)
}

func (s *memoryStore) settle(jobID string, commit bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if entry.Committed != 0 || entry.Refunded != 0 {
		return domain.ErrAlreadySettled
	}
	acc := s.accounts[entry.OwnerID]
	acc.Reserved -= entry.Reserved
	if commit {
		entry.Committed = entry.Reserved
		s.commits++
	} else {
		entry.Refunded = entry.Reserved
		acc.Balance += entry.Reserved
		s.refunds++
	}
	return nil
}

func (s *memoryStore) Entry(ctx context.Context, jobID string) (*domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *entry
	return &copied, nil
}

func (s *memoryStore) Account(ctx context.Context, ownerID string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[ownerID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *acc
	return &copied, nil
}

func (s *memoryStore) ListUnsettled(ctx context.Context, limit int) ([]domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LedgerEntry
	for id, entry := range s.entries {
		job, ok := s.jobs[id]
		if !ok || !job.Status.IsTerminal() || entry.Committed != 0 || entry.Refunded != 0 {
			continue
		}
		out = append(out, *entry)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *memoryStore) Grant(ctx context.Context, ownerID string, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[ownerID]
	if !ok {
		acc = &domain.Account{OwnerID: ownerID}
		s.accounts[ownerID] = acc
	}
	acc.Balance += amount
	return nil
}

func (s *memoryStore) settlements() (commits, refunds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits, s.refunds
}

// seedProcessing plants a job that already passed submission, with timestamps
// backdated by age.
func (s *memoryStore) seedProcessing(ownerID string, credits int, age time.Duration) *domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	job := &domain.Job{
		ID:                uuid.NewString(),
		OwnerID:           ownerID,
		ResourceKind:      "image",
		ProviderRequestID: "prid-" + uuid.NewString(),
		Status:            domain.JobStatusProcessing,
		CreditsReserved:   credits,
		CreatedAt:         now.Add(-age),
		UpdatedAt:         now.Add(-age),
	}
	s.jobs[job.ID] = job
	s.entries[job.ID] = &domain.LedgerEntry{JobID: job.ID, OwnerID: ownerID, Reserved: credits}
	acc, ok := s.accounts[ownerID]
	if !ok {
		acc = &domain.Account{OwnerID: ownerID}
		s.accounts[ownerID] = acc
	}
	acc.Reserved += credits
	return job
}

var _ domain.JobRepository = (*memoryStore)(nil)
var _ domain.CreditLedger = (*memoryStore)(nil)

// fakeGateway is a scriptable provider endpoint.
type fakeGateway struct {
	mu          sync.Mutex
	submitFn    func(req gateway.SubmitRequest) (gateway.Submission, error)
	statusFn    func(prid string) (gateway.StatusResult, error)
	statusCalls int
	nextID      int
}

func (g *fakeGateway) Submit(ctx context.Context, req gateway.SubmitRequest) (gateway.Submission, error) {
	g.mu.Lock()
	fn := g.submitFn
	g.nextID++
	id := fmt.Sprintf("prov-%d", g.nextID)
	g.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return gateway.Submission{ProviderRequestID: id}, nil
}

func (g *fakeGateway) Status(ctx context.Context, prid string) (gateway.StatusResult, error) {
	g.mu.Lock()
	g.statusCalls++
	fn := g.statusFn
	g.mu.Unlock()
	if fn != nil {
		return fn(prid)
	}
	return gateway.StatusResult{State: gateway.StatePending}, nil
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statusCalls
}

var _ gateway.Gateway = (*fakeGateway)(nil)

func rawResult(url string) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{"url": url})
	return raw
}
