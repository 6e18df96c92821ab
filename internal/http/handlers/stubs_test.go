package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"mediaqueue/internal/domain"
	"mediaqueue/internal/gateway"
	"mediaqueue/internal/middleware"
	"mediaqueue/internal/orchestrator"
)

// testStore backs the handler tests with a map-based JobRepository and
// CreditLedger sharing one mutex, mirroring the conditional-transition
// contract of the real repositories.
type testStore struct {
	mu       sync.Mutex
	jobs     map[string]*domain.Job
	balances map[string]int
	reserved map[string]int
	settled  map[string]bool
	commits  int
	refunds  int
}

func newTestStore() *testStore {
	return &testStore{
		jobs:     make(map[string]*domain.Job),
		balances: make(map[string]int),
		reserved: make(map[string]int),
		settled:  make(map[string]bool),
	}
}

func (s *testStore) CreateReserving(ctx context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balances[job.OwnerID] < job.CreditsReserved {
		return domain.ErrInsufficientCredits
	}
	s.balances[job.OwnerID] -= job.CreditsReserved
	s.reserved[job.OwnerID] += job.CreditsReserved
	now := time.Now()
	stored := *job
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.jobs[job.ID] = &stored
	return nil
}

func (s *testStore) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *testStore) GetByProviderRequestID(ctx context.Context, prid string) (*domain.Job, error) {
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

func (s *testStore) MarkProcessing(ctx context.Context, jobID, prid string) (bool, error) {
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

func (s *testStore) ResolveTerminal(ctx context.Context, jobID string, expect, status domain.JobStatus, outcome domain.Outcome, source domain.ResolutionSource) (bool, error) {
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

func (s *testStore) ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]domain.Job, error) {
	return nil, nil
}

func (s *testStore) TouchUpdatedAt(ctx context.Context, jobID string) error { return nil }

func (s *testStore) Commit(ctx context.Context, jobID string) error {
	return s.settle(jobID, true)
}

func (s *testStore) Refund(ctx context.Context, jobID string) error {
	return s.settle(jobID, false)
}

func (s *testStore) settle(jobID string, commit bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settled[jobID] {
		return domain.ErrAlreadySettled
	}
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	s.settled[jobID] = true
	s.reserved[job.OwnerID] -= job.CreditsReserved
	if commit {
		s.commits++
	} else {
		s.balances[job.OwnerID] += job.CreditsReserved
		s.refunds++
	}
	return nil
}

func (s *testStore) Entry(ctx context.Context, jobID string) (*domain.LedgerEntry, error) {
	return nil, domain.ErrNotFound
}

func (s *testStore) Account(ctx context.Context, ownerID string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.balances[ownerID]; !ok {
		return nil, domain.ErrNotFound
	}
	return &domain.Account{OwnerID: ownerID, Balance: s.balances[ownerID], Reserved: s.reserved[ownerID]}, nil
}

func (s *testStore) ListUnsettled(ctx context.Context, limit int) ([]domain.LedgerEntry, error) {
	return nil, nil
}

func (s *testStore) Grant(ctx context.Context, ownerID string, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[ownerID] += amount
	return nil
}

var _ domain.JobRepository = (*testStore)(nil)
var _ domain.CreditLedger = (*testStore)(nil)

type stubGateway struct {
	submitErr error
	state     gateway.State
}

func (g *stubGateway) Submit(ctx context.Context, req gateway.SubmitRequest) (gateway.Submission, error) {
	if g.submitErr != nil {
		return gateway.Submission{}, g.submitErr
	}
	return gateway.Submission{ProviderRequestID: "prov-1"}, nil
}

func (g *stubGateway) Status(ctx context.Context, prid string) (gateway.StatusResult, error) {
	if g.state == "" {
		return gateway.StatusResult{State: gateway.StatePending}, nil
	}
	return gateway.StatusResult{State: g.state}, nil
}

var _ gateway.Gateway = (*stubGateway)(nil)

var errProviderDown = errors.New("provider unreachable")

// newTestApp wires an App over the in-memory store. The callback URL is set so
// submissions never spawn background pollers under test.
func newTestApp(t *testing.T, store *testStore, gw gateway.Gateway) *App {
	t.Helper()
	orch := orchestrator.New(orchestrator.Options{
		Jobs:        store,
		Ledger:      store,
		Gw:          gw,
		Logger:      zerolog.Nop(),
		Costs:       map[string]int{"image": 10, "video": 100},
		CallbackURL: "https://api.test/v1/webhooks/provider",
	})
	return NewApp(orch, store, zerolog.Nop())
}

// newTestRouter mounts the app the way the real server does, with a header
// standing in for the JWT middleware's owner extraction.
func newTestRouter(a *App) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := middleware.ContextWithOwnerID(req.Context(), req.Header.Get("X-Test-Owner"))
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Post("/v1/generations", a.GenerationsCreate)
	r.Get("/v1/generations/{job_id}", a.GenerationStatus)
	r.Get("/v1/credits", a.CreditsBalance)
	r.Post("/v1/webhooks/provider", a.ProviderWebhook)
	return r
}

func decodeBody(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}
