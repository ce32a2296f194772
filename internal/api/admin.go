package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/Redflag/internal/engine"
	"github.com/MikeSquared-Agency/Redflag/internal/scoring"
	"github.com/MikeSquared-Agency/Redflag/internal/store"
)

// Recomputer runs a weight recomputation on demand.
type Recomputer interface {
	RunNow(ctx context.Context) (*scoring.NormalizeReport, error)
}

type AdminHandler struct {
	engine     *engine.Engine
	recomputer Recomputer
	logger     *slog.Logger
}

func NewAdminHandler(e *engine.Engine, rc Recomputer, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{engine: e, recomputer: rc, logger: logger}
}

// RefreshWeights recomputes all weights now.
// POST /api/v1/admin/weights/refresh
func (h *AdminHandler) RefreshWeights(w http.ResponseWriter, r *http.Request) {
	var (
		rep *scoring.NormalizeReport
		err error
	)
	if h.recomputer != nil {
		rep, err = h.recomputer.RunNow(r.Context())
	} else {
		rep, err = h.engine.RefreshWeights(r.Context(), "manual")
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version": h.engine.Catalog().Snapshot().Version,
		"report":  rep,
	})
}

// WeightsReport returns the last recomputation report. With ?dry_run=true it
// computes a fresh report without applying it.
// GET /api/v1/admin/weights/report
func (h *AdminHandler) WeightsReport(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("dry_run") == "true" {
		_, rep, err := h.engine.ComputeWeights(r.Context())
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
		return
	}
	rep := h.engine.LastReport()
	if rep == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no recomputation has run yet", Code: "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type GrantRequest struct {
	Type        store.LedgerType       `json:"type"`
	Amount      int                    `json:"amount"`
	Description string                 `json:"description,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Grant adds credits to a user's balance.
// POST /api/v1/admin/credits/{user_id}/grant
func (h *AdminHandler) Grant(w http.ResponseWriter, r *http.Request) {
	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.Type == "" {
		req.Type = store.LedgerAdminAdjustment
	}
	acct, entry, err := h.engine.GrantCredits(r.Context(), chi.URLParam(r, "user_id"),
		req.Type, req.Amount, req.Description, req.Metadata)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"account": acct, "entry": entry})
}

type UnlimitedRequest struct {
	Unlimited bool `json:"unlimited"`
}

// SetUnlimited toggles free unlocks for a user.
// PUT /api/v1/admin/credits/{user_id}/unlimited
func (h *AdminHandler) SetUnlimited(w http.ResponseWriter, r *http.Request) {
	var req UnlimitedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	acct, err := h.engine.SetUnlimited(r.Context(), chi.URLParam(r, "user_id"), req.Unlimited)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// Audit verifies every account's ledger. Inconsistencies are reported in the body
// with consistent=false.
// POST /api/v1/admin/audit
func (h *AdminHandler) Audit(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.Audit(r.Context())
	if report == nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
