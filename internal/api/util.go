package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/org/agentvault/pkg/models"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"errors":[%q]}`, msg)
}

// writeDomainError maps a domain error to its HTTP response. Forbidden and
// NotFound collapse into the same generic 404 so callers cannot probe for
// resources owned by other users. Internal faults (decryption, storage) are
// logged with the request ID and surfaced without detail.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case models.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrForbidden):
		writeError(w, http.StatusNotFound, "resource not found")
	default:
		log.Error().
			Str("request_id", requestIDFromCtx(r.Context())).
			Err(err).
			Msg("internal error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
