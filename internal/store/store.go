package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when an operation targets a result or account that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotOwner is returned when the caller does not own the result it tries to act on.
	ErrNotOwner = errors.New("caller does not own this result")
	// ErrInsufficientCredit is returned when a debit would take a balance below zero.
	ErrInsufficientCredit = errors.New("insufficient credit")
)

type Category string

const (
	CategoryTrust    Category = "TRUST"
	CategoryBehavior Category = "BEHAVIOR"
	CategoryValues   Category = "VALUES"
	CategoryDynamics Category = "DYNAMICS"
)

// Categories returns the fixed category set in display order.
func Categories() []Category {
	return []Category{CategoryTrust, CategoryBehavior, CategoryValues, CategoryDynamics}
}

func (c Category) Valid() bool {
	switch c {
	case CategoryTrust, CategoryBehavior, CategoryValues, CategoryDynamics:
		return true
	}
	return false
}

type Question struct {
	Key             string     `json:"key"`
	Category        Category   `json:"category"`
	Position        int        `json:"position"`
	DefaultWeight   float64    `json:"default_weight"`
	Weight          float64    `json:"weight"`
	Active          bool       `json:"active"`
	WeightUpdatedAt *time.Time `json:"weight_updated_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ImportanceRating is one user's statement of how much a question should matter.
// (UserID, QuestionKey) is unique; a newer rating replaces the older one.
type ImportanceRating struct {
	UserID      string    `json:"user_id"`
	QuestionKey string    `json:"question_key"`
	Importance  int       `json:"importance"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Answer struct {
	Key   string `json:"key"`
	Value int    `json:"value"`
}

// Result is the persisted outcome of one questionnaire submission.
// Weights and QuestionCategories are the snapshot in effect at submission time.
type Result struct {
	ID                 uuid.UUID            `json:"id"`
	UserID             string               `json:"user_id"`
	Answers            []Answer             `json:"answers"`
	Weights            map[string]float64   `json:"weights"`
	QuestionCategories map[string]Category  `json:"question_categories"`
	WeightsVersion     int64                `json:"weights_version"`
	TotalScore         float64              `json:"total_score"`
	CategoryScores     map[Category]float64 `json:"category_scores"`
	Unlocked           bool                 `json:"unlocked"`
	UnlockedAt         *time.Time           `json:"unlocked_at,omitempty"`
	CreatedAt          time.Time            `json:"created_at"`
}

type ResultFilter struct {
	UserID string
	Limit  int
	Offset int
}

type Account struct {
	UserID    string    `json:"user_id"`
	Credits   int       `json:"credits"`
	Unlimited bool      `json:"unlimited"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type LedgerType string

const (
	LedgerSignupBonus     LedgerType = "signup_bonus"
	LedgerPurchase        LedgerType = "purchase"
	LedgerReferralReward  LedgerType = "referral_reward"
	LedgerRefund          LedgerType = "refund"
	LedgerAdminAdjustment LedgerType = "admin_adjustment"
	LedgerUnlock          LedgerType = "unlock_analysis"
	LedgerUnlockFree      LedgerType = "unlock_free"
)

// IsGrant reports whether the type may be written through a credit grant.
func (t LedgerType) IsGrant() bool {
	switch t {
	case LedgerSignupBonus, LedgerPurchase, LedgerReferralReward, LedgerRefund, LedgerAdminAdjustment:
		return true
	}
	return false
}

// LedgerEntry is an immutable record of one balance change.
type LedgerEntry struct {
	ID           uuid.UUID              `json:"id"`
	UserID       string                 `json:"user_id"`
	Type         LedgerType             `json:"type"`
	Amount       int                    `json:"amount"`
	BalanceAfter int                    `json:"balance_after"`
	ResultID     *uuid.UUID             `json:"result_id,omitempty"`
	Description  string                 `json:"description,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// LedgerSummary is one user's account, ledger totals, unlock entries and results,
// read as a single consistent view so an audit never sees half of a concurrent unlock.
type LedgerSummary struct {
	UserID           string `json:"user_id"`
	Balance          int    `json:"balance"`
	Sum              int    `json:"sum"`
	Entries          int    `json:"entries"`
	LastBalanceAfter *int   `json:"last_balance_after,omitempty"`
	// UnlockEntries counts unlock ledger entries per result.
	UnlockEntries map[uuid.UUID]int `json:"-"`
	// Results maps each of the user's results to its unlocked flag.
	Results map[uuid.UUID]bool `json:"-"`
}

// UnlockReceipt describes what UnlockResult did.
type UnlockReceipt struct {
	Result          *Result      `json:"result"`
	AlreadyUnlocked bool         `json:"already_unlocked"`
	Charged         bool         `json:"charged"`
	Balance         int          `json:"balance"`
	Entry           *LedgerEntry `json:"entry,omitempty"`
}

type Store interface {
	// Questions
	UpsertQuestion(ctx context.Context, q *Question) error
	ListQuestions(ctx context.Context, activeOnly bool) ([]*Question, error)
	UpdateQuestionWeight(ctx context.Context, key string, weight float64) error

	// WeightsVersion returns the version of the last recomputation, 0 if none ran.
	WeightsVersion(ctx context.Context) (int64, error)
	// NextWeightsVersion mints the next weights version. Versions are global and
	// strictly increasing across every replica sharing the store.
	NextWeightsVersion(ctx context.Context) (int64, error)

	// Importance ratings
	UpsertImportanceRatings(ctx context.Context, userID string, ratings []ImportanceRating) error
	ListImportanceRatings(ctx context.Context) ([]ImportanceRating, error)

	// Results
	CreateResult(ctx context.Context, r *Result) error
	GetResult(ctx context.Context, id uuid.UUID) (*Result, error)
	ListResults(ctx context.Context, filter ResultFilter) ([]*Result, error)

	// Credits
	GetAccount(ctx context.Context, userID string) (*Account, error)
	SetUnlimited(ctx context.Context, userID string, unlimited bool) (*Account, error)
	// GrantCredits applies entry.Amount to the balance and appends entry in one unit.
	GrantCredits(ctx context.Context, entry *LedgerEntry) (*Account, error)
	// UnlockResult performs the ownership check, credit debit, ledger append and
	// unlock flip as a single serializable operation.
	UnlockResult(ctx context.Context, resultID uuid.UUID, userID string) (*UnlockReceipt, error)
	ListLedgerEntries(ctx context.Context, userID string, limit int) ([]*LedgerEntry, error)
	GetLedgerSummary(ctx context.Context, userID string) (*LedgerSummary, error)
	ListAccountIDs(ctx context.Context) ([]string, error)

	Close() error
}
