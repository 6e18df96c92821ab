package handlers

import (
	"context"
	"net/http"
	"time"
)

// Health reports liveness, and readiness when a database pinger is attached.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	if a.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.DB.Ping(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("health: database unreachable")
			a.error(w, http.StatusServiceUnavailable, "unavailable", "database unreachable")
			return
		}
	}
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}
