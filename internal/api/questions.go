package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/MikeSquared-Agency/Redflag/internal/engine"
	"github.com/MikeSquared-Agency/Redflag/internal/store"
)

type QuestionsHandler struct {
	engine *engine.Engine
	logger *slog.Logger
}

func NewQuestionsHandler(e *engine.Engine, logger *slog.Logger) *QuestionsHandler {
	return &QuestionsHandler{engine: e, logger: logger}
}

func (h *QuestionsHandler) List(w http.ResponseWriter, r *http.Request) {
	questions, err := h.engine.ListQuestions(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, questions)
}

// Weights returns the currently published weight snapshot.
// GET /api/v1/weights
func (h *QuestionsHandler) Weights(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Catalog().Snapshot())
}

type RateImportanceRequest struct {
	Ratings []struct {
		QuestionKey string `json:"question_key"`
		Importance  int    `json:"importance"`
	} `json:"ratings"`
}

// RateImportance records how much the caller thinks each question should matter.
// PUT /api/v1/importance
func (h *QuestionsHandler) RateImportance(w http.ResponseWriter, r *http.Request) {
	var req RateImportanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	ratings := make([]store.ImportanceRating, len(req.Ratings))
	for i, rt := range req.Ratings {
		ratings[i] = store.ImportanceRating{QuestionKey: rt.QuestionKey, Importance: rt.Importance}
	}
	if err := h.engine.RateImportance(r.Context(), UserID(r.Context()), ratings); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"status": "accepted", "ratings": len(ratings)})
}
