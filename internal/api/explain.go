package api

import (
	"log/slog"
	"net/http"

	"github.com/MikeSquared-Agency/Redflag/internal/engine"
)

type ExplainHandler struct {
	engine *engine.Engine
	logger *slog.Logger
}

func NewExplainHandler(e *engine.Engine, logger *slog.Logger) *ExplainHandler {
	return &ExplainHandler{engine: e, logger: logger}
}

// Explain returns the per-answer factor, weight and weighted contribution behind an
// unlocked analysis.
// GET /api/v1/analyses/{id}/breakdown
func (h *ExplainHandler) Explain(w http.ResponseWriter, r *http.Request) {
	id, ok := resultID(w, r)
	if !ok {
		return
	}
	b, err := h.engine.Breakdown(r.Context(), id, UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
