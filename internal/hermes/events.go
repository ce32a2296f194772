package hermes

import "time"

type AnalysisSubmittedEvent struct {
	ResultID       string             `json:"result_id"`
	UserID         string             `json:"user_id"`
	Answers        int                `json:"answers"`
	TotalScore     float64            `json:"total_score"`
	CategoryScores map[string]float64 `json:"category_scores"`
	WeightsVersion int64              `json:"weights_version"`
	Timestamp      time.Time          `json:"timestamp"`
}

type AnalysisUnlockedEvent struct {
	ResultID  string    `json:"result_id"`
	UserID    string    `json:"user_id"`
	Charged   bool      `json:"charged"`
	Balance   int       `json:"balance"`
	EntryID   string    `json:"entry_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// CreditsRefusedEvent is emitted when an unlock is refused for lack of credit, so
// the purchase funnel can react.
type CreditsRefusedEvent struct {
	ResultID  string    `json:"result_id"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

type ImportanceRatedEvent struct {
	UserID    string    `json:"user_id"`
	Ratings   int       `json:"ratings"`
	Timestamp time.Time `json:"timestamp"`
}

type WeightsRecomputedEvent struct {
	Version    int64              `json:"version"`
	Mode       string             `json:"mode"`
	Questions  int                `json:"questions"`
	Changed    int                `json:"changed"`
	Failed     []string           `json:"failed,omitempty"`
	Weights    map[string]float64 `json:"weights"`
	DurationMs int64              `json:"duration_ms"`
	Trigger    string             `json:"trigger"`
	Timestamp  time.Time          `json:"timestamp"`
}

type CreditsGrantedEvent struct {
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`
	Amount    int       `json:"amount"`
	Balance   int       `json:"balance"`
	EntryID   string    `json:"entry_id"`
	Timestamp time.Time `json:"timestamp"`
}

type AuditFailedEvent struct {
	Inconsistent []AuditViolation `json:"inconsistent"`
	Checked      int              `json:"checked"`
	Timestamp    time.Time        `json:"timestamp"`
}

type AuditViolation struct {
	UserID    string `json:"user_id"`
	Balance   int    `json:"balance"`
	LedgerSum int    `json:"ledger_sum"`
	Reason    string `json:"reason"`
}
