package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/org/agentvault/internal/scenario"
	"github.com/org/agentvault/pkg/models"
)

const dateLayout = "2006-01-02"

type scenarioCreateRequest struct {
	Kind         string `json:"kind"`
	CeilingCents int64  `json:"ceiling_cents"`
	Currency     string `json:"currency"`
	VaultToken   string `json:"vault_token"`
	Location     string `json:"location"`
	StartDate    string `json:"start_date"` // YYYY-MM-DD
	EndDate      string `json:"end_date"`   // YYYY-MM-DD
}

// ScenarioCreateHandler handles POST /v1/scenarios. Creation runs the
// market simulation synchronously, so the response already carries the
// awaiting_payment or rejected outcome.
func (s *Server) ScenarioCreateHandler(w http.ResponseWriter, r *http.Request) {
	owner := userIDFromCtx(r.Context())

	var req scenarioCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	createReq := scenario.CreateRequest{
		Kind:         models.ScenarioKind(req.Kind),
		CeilingCents: req.CeilingCents,
		Currency:     req.Currency,
		VaultToken:   req.VaultToken,
		Location:     req.Location,
	}
	var err error
	if createReq.StartDate, err = parseDate(req.StartDate); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if createReq.EndDate, err = parseDate(req.EndDate); err != nil {
		writeDomainError(w, r, err)
		return
	}

	sc, err := s.engine.Create(r.Context(), owner, createReq)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	scenarioOutcomes.WithLabelValues(string(sc.Status), sc.RejectReason).Inc()
	writeJSON(w, http.StatusCreated, map[string]any{"scenario": sc})
}

// ScenarioListHandler handles GET /v1/scenarios.
func (s *Server) ScenarioListHandler(w http.ResponseWriter, r *http.Request) {
	owner := userIDFromCtx(r.Context())

	scenarios, err := s.engine.List(r.Context(), owner)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if scenarios == nil {
		scenarios = []*models.Scenario{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"scenarios": scenarios})
}

// ScenarioGetHandler handles GET /v1/scenarios/{id}.
func (s *Server) ScenarioGetHandler(w http.ResponseWriter, r *http.Request) {
	owner := userIDFromCtx(r.Context())
	id := chi.URLParam(r, "id")

	sc, err := s.engine.Get(r.Context(), id, owner)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scenario": sc})
}

// ScenarioAuthorizeHandler handles POST /v1/scenarios/{id}/authorize — the
// two-phase commit point. The response never contains vault plaintext.
func (s *Server) ScenarioAuthorizeHandler(w http.ResponseWriter, r *http.Request) {
	owner := userIDFromCtx(r.Context())
	id := chi.URLParam(r, "id")

	var req struct {
		VaultToken string `json:"vault_token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sc, err := s.engine.Authorize(r.Context(), id, req.VaultToken, owner)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	decision := "approved"
	if sc.Status == models.StatusRejected {
		decision = "declined"
	}
	chargeDecisions.WithLabelValues(decision).Inc()
	writeJSON(w, http.StatusOK, map[string]any{"scenario": sc})
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, &models.ValidationError{Field: "date", Reason: "must be formatted YYYY-MM-DD"}
	}
	return &t, nil
}
