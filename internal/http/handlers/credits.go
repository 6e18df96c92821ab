package handlers

import (
	"errors"
	"net/http"

	"mediaqueue/internal/domain"
)

// CreditsBalance reports the caller's spendable and reserved credits.
func (a *App) CreditsBalance(w http.ResponseWriter, r *http.Request) {
	ownerID := a.currentOwnerID(r)
	if ownerID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing owner context")
		return
	}

	account, err := a.Ledger.Account(r.Context(), ownerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.json(w, http.StatusOK, map[string]int{"balance": 0, "reserved": 0})
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to load balance")
		return
	}

	a.json(w, http.StatusOK, map[string]int{"balance": account.Balance, "reserved": account.Reserved})
}
