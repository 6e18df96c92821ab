package handlers

import (
	"errors"
	"io"
	"net/http"

	"mediaqueue/internal/orchestrator"
)

const maxWebhookBody = 1 << 20

// ProviderWebhook receives completion pushes from the generation provider.
// Once the body has been read this endpoint always answers 200: a 4xx/5xx
// here only provokes provider-side retry storms, and every failure mode below
// is recoverable by the reconciliation sweeper. Duplicate and out-of-order
// deliveries are absorbed by the resolution engine's conditional transition.
func (a *App) ProviderWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		a.Logger.Warn().Err(err).Msg("webhook: failed to read body")
		a.json(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	n, err := orchestrator.ParseNotification(body)
	if err != nil {
		if errors.Is(err, orchestrator.ErrMalformedNotification) {
			a.Logger.Warn().Int("bytes", len(body)).Msg("webhook: unparseable notification, acknowledging")
		} else {
			a.Logger.Error().Err(err).Msg("webhook: parse failed")
		}
		a.json(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	if err := a.Orchestrator.HandleNotification(r.Context(), n); err != nil {
		a.Logger.Error().Err(err).
			Str("provider_request_id", n.ProviderRequestID).
			Msg("webhook: resolution failed, sweeper will recover")
	}

	a.json(w, http.StatusOK, map[string]bool{"received": true})
}
