package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"mediaqueue/internal/domain"
	"mediaqueue/internal/middleware"
	"mediaqueue/internal/orchestrator"
)

// Pinger is the slice of the database pool the health check needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// App is the handler container; it owns the orchestrator facade and the
// read-side collaborators the HTTP surface needs. DB is optional and only
// feeds the health check.
type App struct {
	Orchestrator *orchestrator.Orchestrator
	Ledger       domain.CreditLedger
	Logger       zerolog.Logger
	DB           Pinger
}

func NewApp(orch *orchestrator.Orchestrator, ledger domain.CreditLedger, logger zerolog.Logger) *App {
	return &App{Orchestrator: orch, Ledger: ledger, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, slug, message string) {
	a.json(w, code, map[string]string{"error": slug, "message": message})
}

func (a *App) currentOwnerID(r *http.Request) string {
	return middleware.OwnerIDFromContext(r.Context())
}
