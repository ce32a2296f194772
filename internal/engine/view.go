package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Redflag/internal/scoring"
	"github.com/MikeSquared-Agency/Redflag/internal/store"
)

// ResultView is what an owner sees of a result. Scores are always shown; the ranked
// red flags only once the result is unlocked.
type ResultView struct {
	ID             uuid.UUID                  `json:"id"`
	UserID         string                     `json:"user_id"`
	Unlocked       bool                       `json:"unlocked"`
	UnlockedAt     *time.Time                 `json:"unlocked_at,omitempty"`
	CreatedAt      time.Time                  `json:"created_at"`
	AnswerCount    int                        `json:"answer_count"`
	WeightsVersion int64                      `json:"weights_version"`
	MaxScale       float64                    `json:"max_scale"`
	TotalScore     *float64                   `json:"total_score,omitempty"`
	CategoryScores map[store.Category]float64 `json:"category_scores,omitempty"`
	RedFlags       *scoring.RedFlagPage       `json:"red_flags,omitempty"`
}

// UnlockView is the outcome of an unlock request.
type UnlockView struct {
	Result          *ResultView        `json:"result"`
	Charged         bool               `json:"charged"`
	AlreadyUnlocked bool               `json:"already_unlocked"`
	Balance         int                `json:"balance"`
	Entry           *store.LedgerEntry `json:"entry,omitempty"`
}

// Breakdown explains how an unlocked result's score was composed.
type Breakdown struct {
	ResultID       uuid.UUID                  `json:"result_id"`
	WeightsVersion int64                      `json:"weights_version"`
	MaxScale       float64                    `json:"max_scale"`
	TotalScore     float64                    `json:"total_score"`
	CategoryScores map[store.Category]float64 `json:"category_scores"`
	Contributions  []scoring.Contribution     `json:"contributions"`
}

func (e *Engine) view(r *store.Result) *ResultView {
	v := &ResultView{
		ID:             r.ID,
		UserID:         r.UserID,
		Unlocked:       r.Unlocked,
		UnlockedAt:     r.UnlockedAt,
		CreatedAt:      r.CreatedAt,
		AnswerCount:    len(r.Answers),
		WeightsVersion: r.WeightsVersion,
		MaxScale:       e.aggregator.MaxScale(),
		CategoryScores: r.CategoryScores,
	}
	total := r.TotalScore
	v.TotalScore = &total
	if !r.Unlocked {
		return v
	}
	// ranking an unlocked result cannot fail
	v.RedFlags, _ = e.ranker.Rank(r, 0, 0)
	return v
}
