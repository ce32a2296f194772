package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/MikeSquared-Agency/Redflag/internal/credits"
	"github.com/MikeSquared-Agency/Redflag/internal/scoring"
	"github.com/MikeSquared-Agency/Redflag/internal/store"
)

type errorResponse struct {
	Error    string   `json:"error"`
	Code     string   `json:"code"`
	Problems []string `json:"problems,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Code: "bad_request"})
}

// writeError maps domain errors onto HTTP statuses. Unknown errors are logged and
// reported as a generic 500.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var ve *scoring.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid input", Code: "validation_failed", Problems: ve.Problems})
	case errors.Is(err, credits.ErrInvalidGrant):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "invalid_grant"})
	case errors.Is(err, store.ErrNotOwner):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: err.Error(), Code: "not_owner"})
	case errors.Is(err, store.ErrInsufficientCredit):
		writeJSON(w, http.StatusPaymentRequired, errorResponse{Error: err.Error(), Code: "insufficient_credit"})
	case errors.Is(err, scoring.ErrResultLocked):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "result_locked"})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found", Code: "not_found"})
	default:
		logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Code: "internal"})
	}
}

// queryInt reads a non-negative integer query parameter, falling back to def.
func queryInt(r *http.Request, name string, def int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}
