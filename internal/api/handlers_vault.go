package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/org/agentvault/pkg/models"
)

// VaultCreateHandler handles POST /v1/vault. The plaintext record exists
// only for the duration of this request; the response carries the token and
// nothing else.
func (s *Server) VaultCreateHandler(w http.ResponseWriter, r *http.Request) {
	owner := userIDFromCtx(r.Context())

	var rec models.PaymentRecord
	if err := decodeJSON(r, &rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := s.vault.Store(r.Context(), owner, &rec)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	vaultEntriesCreated.Inc()
	writeJSON(w, http.StatusCreated, map[string]any{"token": token})
}

// VaultListHandler handles GET /v1/vault: the caller's tokens and creation
// times, newest first. No payload data in any form.
func (s *Server) VaultListHandler(w http.ResponseWriter, r *http.Request) {
	owner := userIDFromCtx(r.Context())

	infos, err := s.vault.List(r.Context(), owner)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if infos == nil {
		infos = []*models.VaultEntryInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": infos})
}

// VaultViewHandler handles GET /v1/vault/{token}: the masked projection of
// the caller's own entry.
func (s *Server) VaultViewHandler(w http.ResponseWriter, r *http.Request) {
	owner := userIDFromCtx(r.Context())
	token := chi.URLParam(r, "token")

	masked, err := s.vault.RetrieveMasked(r.Context(), token, owner)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"data":  masked,
	})
}
