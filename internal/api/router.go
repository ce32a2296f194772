package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/Redflag/internal/engine"
	"github.com/MikeSquared-Agency/Redflag/internal/hermes"
	"github.com/MikeSquared-Agency/Redflag/internal/metrics"
)

// NewRouter builds the public API. rc may be nil, in which case admin refreshes run
// directly on the engine.
func NewRouter(e *engine.Engine, rc Recomputer, adminToken string, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(RequestLogger(logger))

	questions := NewQuestionsHandler(e, logger)
	analyses := NewAnalysesHandler(e, logger)
	explain := NewExplainHandler(e, logger)
	creditsH := NewCreditsHandler(e, logger)
	admin := NewAdminHandler(e, rc, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(UserIDMiddleware)

			r.Get("/questions", questions.List)
			r.Get("/weights", questions.Weights)
			r.Put("/importance", questions.RateImportance)

			r.Post("/analyses", analyses.Submit)
			r.Get("/analyses", analyses.List)
			r.Get("/analyses/{id}", analyses.Get)
			r.Post("/analyses/{id}/unlock", analyses.Unlock)
			r.Get("/analyses/{id}/red-flags", analyses.RedFlags)
			r.Get("/analyses/{id}/breakdown", explain.Explain)

			r.Get("/credits", creditsH.Balance)
			r.Get("/credits/ledger", creditsH.Ledger)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(AdminAuthMiddleware(adminToken))
			r.Post("/weights/refresh", admin.RefreshWeights)
			r.Get("/weights/report", admin.WeightsReport)
			r.Post("/credits/{user_id}/grant", admin.Grant)
			r.Put("/credits/{user_id}/unlimited", admin.SetUnlimited)
			r.Post("/audit", admin.Audit)
		})
	})

	return r
}

// NewMetricsRouter serves health and Prometheus metrics. h may be nil.
func NewMetricsRouter(m *metrics.Metrics, h hermes.Client) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]string{"status": "ok", "hermes": "disabled"}
		if sr, ok := h.(hermes.StatusReporter); ok {
			resp["hermes"] = "connected"
			if !sr.Connected() {
				resp["hermes"] = "disconnected"
			}
		}
		writeJSON(w, http.StatusOK, resp)
	})
	r.Handle("/metrics", m.Handler())
	return r
}
