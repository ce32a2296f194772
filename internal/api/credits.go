package api

import (
	"log/slog"
	"net/http"

	"github.com/MikeSquared-Agency/Redflag/internal/engine"
)

type CreditsHandler struct {
	engine *engine.Engine
	logger *slog.Logger
}

func NewCreditsHandler(e *engine.Engine, logger *slog.Logger) *CreditsHandler {
	return &CreditsHandler{engine: e, logger: logger}
}

func (h *CreditsHandler) Balance(w http.ResponseWriter, r *http.Request) {
	acct, err := h.engine.Balance(r.Context(), UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (h *CreditsHandler) Ledger(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.Ledger(r.Context(), UserID(r.Context()), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
