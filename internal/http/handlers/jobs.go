package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"mediaqueue/internal/domain"
)

type generateRequest struct {
	ResourceKind string          `json:"resource_kind"`
	Input        json.RawMessage `json:"input"`
}

type jobResponse struct {
	JobID           string          `json:"job_id"`
	Status          string          `json:"status"`
	ResourceKind    string          `json:"resource_kind"`
	CreditsReserved int             `json:"credits_reserved"`
	Result          json.RawMessage `json:"result,omitempty"`
	ErrorDetail     string          `json:"error_detail,omitempty"`
	CreatedAt       string          `json:"created_at"`
	ResolvedAt      string          `json:"resolved_at,omitempty"`
}

// GenerationsCreate submits a new generation job. On return the job is
// durably processing; completion is observed through GenerationStatus.
func (a *App) GenerationsCreate(w http.ResponseWriter, r *http.Request) {
	ownerID := a.currentOwnerID(r)
	if ownerID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing owner context")
		return
	}
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.ResourceKind == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "resource_kind is required")
		return
	}

	job, err := a.Orchestrator.Submit(r.Context(), ownerID, req.ResourceKind, req.Input)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientCredits) {
			a.error(w, http.StatusPaymentRequired, "insufficient_credits", "not enough credits for this request")
			return
		}
		if errors.Is(err, domain.ErrProviderFailure) {
			// Terminal and already refunded; the caller decides whether to
			// retry.
			a.Logger.Error().Err(err).Str("owner_id", ownerID).Msg("handlers: provider rejected submission")
			a.error(w, http.StatusBadGateway, "submission_failed", "provider rejected the request")
			return
		}
		a.Logger.Error().Err(err).Str("owner_id", ownerID).Msg("handlers: submission failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to submit the request")
		return
	}

	a.json(w, http.StatusAccepted, toJobResponse(job))
}

// GenerationStatus is the read-only job query used by polling clients.
func (a *App) GenerationStatus(w http.ResponseWriter, r *http.Request) {
	ownerID := a.currentOwnerID(r)
	if ownerID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing owner context")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}

	job, err := a.Orchestrator.Job(r.Context(), jobID)
	if err != nil || job.OwnerID != ownerID {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}

	a.json(w, http.StatusOK, toJobResponse(job))
}

func toJobResponse(job *domain.Job) jobResponse {
	resp := jobResponse{
		JobID:           job.ID,
		Status:          string(job.Status),
		ResourceKind:    job.ResourceKind,
		CreditsReserved: job.CreditsReserved,
		Result:          job.ResultJSON,
		ErrorDetail:     job.ErrorDetail,
		CreatedAt:       job.CreatedAt.UTC().Format(time.RFC3339),
	}
	if job.ResolvedAt != nil {
		resp.ResolvedAt = job.ResolvedAt.UTC().Format(time.RFC3339)
	}
	return resp
}
