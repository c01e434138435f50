package api

import (
	"net/http"

	"github.com/org/agentvault/pkg/models"
)

// HealthHandler handles GET /v1/sys/health.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.CountVaultEntries(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	counts, err := s.store.CountScenariosByStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"vault_entries": entries,
		"scenarios":     counts,
	})
}

// RotateHandler handles POST /v1/sys/rotate: the operator-invoked key
// rotation batch job. Re-wraps every stored blob under the active key;
// safe to run while normal traffic continues.
func (s *Server) RotateHandler(w http.ResponseWriter, r *http.Request) {
	rotated, err := s.vault.RotateAll(r.Context())
	keysRotated.Add(float64(rotated))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rotated": rotated})
}

// WorkflowListHandler handles GET /v1/workflows: the caller's workflow
// records in creation order, steps in exact append order.
func (s *Server) WorkflowListHandler(w http.ResponseWriter, r *http.Request) {
	owner := userIDFromCtx(r.Context())

	records, err := s.workflows.ListByOwner(r.Context(), owner)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if records == nil {
		records = []*models.WorkflowRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": records})
}
