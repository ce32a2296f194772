package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Redflag/internal/engine"
	"github.com/MikeSquared-Agency/Redflag/internal/store"
)

type AnalysesHandler struct {
	engine *engine.Engine
	logger *slog.Logger
}

func NewAnalysesHandler(e *engine.Engine, logger *slog.Logger) *AnalysesHandler {
	return &AnalysesHandler{engine: e, logger: logger}
}

type SubmitAnalysisRequest struct {
	Answers []store.Answer `json:"answers"`
}

// Submit scores an answer set and stores it as a locked analysis.
// POST /api/v1/analyses
func (h *AnalysesHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitAnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	view, err := h.engine.SubmitAnalysis(r.Context(), UserID(r.Context()), req.Answers)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (h *AnalysesHandler) List(w http.ResponseWriter, r *http.Request) {
	views, err := h.engine.ListResults(r.Context(), UserID(r.Context()),
		queryInt(r, "offset", 0), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *AnalysesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := resultID(w, r)
	if !ok {
		return
	}
	view, err := h.engine.GetResult(r.Context(), id, UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Unlock spends one credit to reveal the analysis. Repeating it is free.
// POST /api/v1/analyses/{id}/unlock
func (h *AnalysesHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	id, ok := resultID(w, r)
	if !ok {
		return
	}
	out, err := h.engine.Unlock(r.Context(), id, UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// RedFlags pages through the ranked red flags of an unlocked analysis.
// GET /api/v1/analyses/{id}/red-flags?offset=&limit=
func (h *AnalysesHandler) RedFlags(w http.ResponseWriter, r *http.Request) {
	id, ok := resultID(w, r)
	if !ok {
		return
	}
	page, err := h.engine.GetTopRedFlags(r.Context(), id, UserID(r.Context()),
		queryInt(r, "offset", 0), queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func resultID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, "invalid analysis id")
		return uuid.Nil, false
	}
	return id, true
}
